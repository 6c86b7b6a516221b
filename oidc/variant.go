// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// VariantKind distinguishes individual logins from business logins.
type VariantKind int

const (
	KindIndividual VariantKind = iota
	KindBusiness
)

func (k VariantKind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindBusiness:
		return "business"
	default:
		return fmt.Sprintf("VariantKind(%d)", int(k))
	}
}

// Variant holds the few things that differ between the individual and
// business flavours of the provider.
type Variant struct {
	// Name is used in logs and as the "variant" metric label.
	Name string

	Kind VariantKind

	// ServiceIDKey is the auth URL query parameter that carries the service
	// id.
	ServiceIDKey string

	// IdentifierMarker is the key in the sub claim whose value is the
	// user's identifier.
	IdentifierMarker string

	// ExtraTokenFields, when set, returns form fields that are added to the
	// token request.
	ExtraTokenFields func(clientId string) url.Values
}

var (
	// Singpass is the individual variant.
	Singpass = Variant{
		Name:             "singpass",
		Kind:             KindIndividual,
		ServiceIDKey:     "esrvc",
		IdentifierMarker: "s",
		ExtraTokenFields: func(clientId string) url.Values {
			return url.Values{"client_id": {clientId}}
		},
	}

	// Corppass is the business variant. Its claims must carry entity info.
	Corppass = Variant{
		Name:             "corppass",
		Kind:             KindBusiness,
		ServiceIDKey:     "esrvcID",
		IdentifierMarker: "s",
	}
)

// Validate the variant.
func (v Variant) Validate() error {
	const op = "Variant.Validate"
	switch {
	case v.Name == "":
		return fmt.Errorf("%s: variant name is empty: %w", op, ErrInvalidParameter)
	case v.ServiceIDKey == "":
		return fmt.Errorf("%s: service id key is empty: %w", op, ErrInvalidParameter)
	case v.IdentifierMarker == "":
		return fmt.Errorf("%s: identifier marker is empty: %w", op, ErrInvalidParameter)
	case v.Kind != KindIndividual && v.Kind != KindBusiness:
		return fmt.Errorf("%s: unknown kind %s: %w", op, v.Kind, ErrInvalidParameter)
	}
	return nil
}

// VariantByName returns the predefined variant with the given name.
func VariantByName(name string) (Variant, error) {
	const op = "VariantByName"
	switch name {
	case Singpass.Name:
		return Singpass, nil
	case Corppass.Name:
		return Corppass, nil
	default:
		return Variant{}, fmt.Errorf("%s: unknown variant %q: %w", op, name, ErrInvalidParameter)
	}
}
