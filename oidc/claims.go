// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4/jwt"
)

// EntityInfo is the business entity a Corppass user logged in for.
type EntityInfo struct {
	CPEntID         string `json:"CPEntID"`
	CPEntType       string `json:"CPEnt_TYPE,omitempty"`
	CPEntStatus     string `json:"CPEnt_Status,omitempty"`
	CPNonUENRegNo   string `json:"CPNonUEN_RegNo,omitempty"`
	CPNonUENCountry string `json:"CPNonUEN_Country,omitempty"`
	CPNonUENName    string `json:"CPNonUEN_Name,omitempty"`
}

// Claims is the verified claim set of an id_token.
type Claims struct {
	jwt.Claims

	Nonce      string      `json:"nonce,omitempty"`
	EntityInfo *EntityInfo `json:"entityInfo,omitempty"`

	// Raw holds every claim of the token.
	Raw map[string]interface{} `json:"-"`
}

// Identity is who logged in.
type Identity struct {
	// ID is the individual's identifier from the sub claim.
	ID string
	// EntityID is only set for business logins.
	EntityID string
}

// SubjectPair is one key=value pair of the sub claim.
type SubjectPair struct {
	Key   string
	Value string
}

// ParseSubject splits a sub claim of the form "k1=v1,k2=v2" into its pairs.
// Every pair must contain exactly one "=".
func ParseSubject(sub string) ([]SubjectPair, error) {
	const op = "ParseSubject"
	parts := strings.Split(sub, ",")
	pairs := make([]SubjectPair, 0, len(parts))
	for _, p := range parts {
		kv := strings.Split(p, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("%s: sub pair %q: %w", op, p, ErrMalformedClaim)
		}
		pairs = append(pairs, SubjectPair{Key: kv[0], Value: kv[1]})
	}
	return pairs, nil
}

// ExtractIdentifier returns the value of the first sub pair whose key is
// marker. An empty value counts as not found.
func ExtractIdentifier(c *Claims, marker string) (string, error) {
	const op = "ExtractIdentifier"
	if c == nil {
		return "", fmt.Errorf("%s: claims are nil: %w", op, ErrNilParameter)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%s: sub claim is missing: %w", op, ErrIdentifierNotFound)
	}
	pairs, err := ParseSubject(c.Subject)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range pairs {
		if p.Key != marker {
			continue
		}
		if p.Value == "" {
			return "", fmt.Errorf("%s: %q pair in sub claim is empty: %w", op, marker, ErrIdentifierNotFound)
		}
		return p.Value, nil
	}
	return "", fmt.Errorf("%s: no %q pair in sub claim: %w", op, marker, ErrIdentifierNotFound)
}

// ExtractEntityID returns the Corppass entity id of the claims.
func ExtractEntityID(c *Claims) (string, error) {
	const op = "ExtractEntityID"
	switch {
	case c == nil:
		return "", fmt.Errorf("%s: claims are nil: %w", op, ErrNilParameter)
	case c.EntityInfo == nil:
		return "", fmt.Errorf("%s: entityInfo claim is missing: %w", op, ErrInvalidEntityInfo)
	case c.EntityInfo.CPEntID == "":
		return "", fmt.Errorf("%s: CPEntID is empty: %w", op, ErrInvalidEntityInfo)
	}
	return c.EntityInfo.CPEntID, nil
}
