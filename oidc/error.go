// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrEmptyParameter            = errors.New("empty parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed         = errors.New("id generation failed")
	ErrKeyMaterial               = errors.New("invalid key material")
	ErrKeySelection              = errors.New("no matching key")
	ErrEmptyAuthCode             = errors.New("authorization code is empty")
	ErrExchangeFailed            = errors.New("token exchange failed")
	ErrMissingIdToken            = errors.New("id_token is missing")
	ErrInvalidIdToken            = errors.New("invalid id_token")
	ErrIdTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidSignature          = errors.New("invalid signature")
	ErrMalformedClaim            = errors.New("malformed claim")
	ErrIdentifierNotFound        = errors.New("identifier not found")
	ErrInvalidEntityInfo         = errors.New("invalid entity info")
	ErrNoSigningKey              = errors.New("no signing key")
	ErrNoVerificationKey         = errors.New("no verification key")
	ErrInvalidSessionToken       = errors.New("invalid session token")
	ErrInvalidSessionPayload     = errors.New("invalid session payload")
	ErrProviderUnavailable       = errors.New("provider unavailable")
	ErrColdStartTimeout          = errors.New("timed out waiting for provider metadata")
	ErrCacheStopped              = errors.New("cache is stopped")
)

// KeyMaterialError reports a JWK that could not be turned into a usable key.
type KeyMaterialError struct {
	// Set names the key set the JWK came from (secret, public or provider).
	Set string
	// Index of the JWK within the set.
	Index int
	// KeyID is the JWK's kid, when it has one.
	KeyID  string
	Reason string
}

func (e *KeyMaterialError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("%s key %d (kid %q): %s", e.Set, e.Index, e.KeyID, e.Reason)
	}
	return fmt.Sprintf("%s key %d: %s", e.Set, e.Index, e.Reason)
}

// Is matches ErrKeyMaterial.
func (e *KeyMaterialError) Is(target error) bool {
	return target == ErrKeyMaterial
}

// KeyPurpose is what a selected key is used for.
type KeyPurpose string

const (
	PurposeDecryption   KeyPurpose = "decryption"
	PurposeVerification KeyPurpose = "verification"
)

// KeySelectionError is returned when a token's kid does not match any
// available key.
type KeySelectionError struct {
	Purpose KeyPurpose
	KeyID   string
}

func (e *KeySelectionError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("%s key selection failed: token has no kid", e.Purpose)
	}
	return fmt.Sprintf("%s key selection failed: no key with kid %q", e.Purpose, e.KeyID)
}

// Is matches ErrKeySelection.
func (e *KeySelectionError) Is(target error) bool {
	return target == ErrKeySelection
}
