// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-multierror"
)

// KeyUse is the JWK "use" parameter.
type KeyUse string

const (
	UseSignature  KeyUse = "sig"
	UseEncryption KeyUse = "enc"
)

// Key set names used in KeyMaterialError.
const (
	SecretKeySet   = "secret"
	PublicKeySet   = "public"
	ProviderKeySet = "provider"
)

// KeyHandle is an imported EC key. Private is only set for keys parsed from
// a secret key set.
type KeyHandle struct {
	KeyID     string
	Use       KeyUse
	Algorithm string
	Public    *ecdsa.PublicKey
	Private   *ecdsa.PrivateKey
}

// IsPrivate reports whether the handle carries the private component.
func (k *KeyHandle) IsPrivate() bool {
	return k != nil && k.Private != nil
}

// jwk returns the public JWK of the handle.
func (k *KeyHandle) jwk() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.Public,
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Use:       string(k.Use),
	}
}

// KeySet is an ordered collection of keys. Key ids are not required to be
// unique; lookups return the first match in the order the keys were parsed.
type KeySet struct {
	keys []*KeyHandle
}

// NewKeySet returns a key set holding the given keys in order.
func NewKeySet(keys ...*KeyHandle) *KeySet {
	return &KeySet{keys: append([]*KeyHandle(nil), keys...)}
}

// Keys returns a copy of the keys in order.
func (s *KeySet) Keys() []*KeyHandle {
	if s == nil {
		return nil
	}
	return append([]*KeyHandle(nil), s.keys...)
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// FirstByKeyID returns the first key whose kid equals keyID.
func (s *KeySet) FirstByKeyID(keyID string) (*KeyHandle, bool) {
	if s == nil || keyID == "" {
		return nil, false
	}
	for _, k := range s.keys {
		if k.KeyID == keyID {
			return k, true
		}
	}
	return nil, false
}

// FirstPrivateByKeyID returns the first private key whose kid equals keyID.
func (s *KeySet) FirstPrivateByKeyID(keyID string) (*KeyHandle, bool) {
	if s == nil || keyID == "" {
		return nil, false
	}
	for _, k := range s.keys {
		if k.KeyID == keyID && k.IsPrivate() {
			return k, true
		}
	}
	return nil, false
}

// FirstSigningKey returns the first private key with use "sig".
func (s *KeySet) FirstSigningKey() (*KeyHandle, bool) {
	if s == nil {
		return nil, false
	}
	for _, k := range s.keys {
		if k.Use == UseSignature && k.IsPrivate() {
			return k, true
		}
	}
	return nil, false
}

// MarshalJSON renders the public half of every key as a JWKS document.
func (s *KeySet) MarshalJSON() ([]byte, error) {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, s.Len())}
	for _, k := range s.Keys() {
		set.Keys = append(set.Keys, k.jwk())
	}
	return json.Marshal(set)
}

// ParseSecretKeySet parses the relying party's private JWKS. Every key must
// be a complete EC private key with an alg.
func ParseSecretKeySet(data []byte) (*KeySet, error) {
	const op = "ParseSecretKeySet"
	ks, err := parseKeySet(SecretKeySet, data, keyRules{requirePrivate: true, requireAlg: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// ParsePublicKeySet parses the relying party's public JWKS. Every key must
// be an EC public key with an alg.
func ParsePublicKeySet(data []byte) (*KeySet, error) {
	const op = "ParsePublicKeySet"
	ks, err := parseKeySet(PublicKeySet, data, keyRules{requireAlg: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// ParseProviderKeySet parses the provider's published JWKS. Every key must be
// an EC public key with a kid and a use.
func ParseProviderKeySet(data []byte) (*KeySet, error) {
	const op = "ParseProviderKeySet"
	ks, err := parseKeySet(ProviderKeySet, data, keyRules{requireKeyIDAndUse: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// ReadKeySetFile reads a JWKS document from disk.
func ReadKeySetFile(path string) ([]byte, error) {
	const op = "ReadKeySetFile"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read %s: %w", op, path, err)
	}
	return data, nil
}

type keyRules struct {
	requirePrivate     bool
	requireAlg         bool
	requireKeyIDAndUse bool
}

type jwkFields struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

func (f jwkFields) problems(r keyRules) []string {
	var p []string
	if f.Kty != "EC" {
		p = append(p, fmt.Sprintf("kty must be EC, got %q", f.Kty))
	}
	if f.Crv == "" {
		p = append(p, "crv is missing")
	}
	if f.X == "" {
		p = append(p, "x is missing")
	}
	if f.Y == "" {
		p = append(p, "y is missing")
	}
	if r.requireAlg && f.Alg == "" {
		p = append(p, "alg is missing")
	}
	if r.requireKeyIDAndUse {
		if f.Kid == "" {
			p = append(p, "kid is missing")
		}
		if f.Use == "" {
			p = append(p, "use is missing")
		}
	}
	switch {
	case r.requirePrivate && f.D == "":
		p = append(p, "d is missing")
	case !r.requirePrivate && f.D != "":
		p = append(p, "public key set contains a private key")
	}
	return p
}

func parseKeySet(set string, data []byte, r keyRules) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode %s key set: %w: %w", set, ErrKeyMaterial, err)
	}
	if len(doc.Keys) == 0 {
		return nil, fmt.Errorf("%s key set has no keys: %w", set, ErrKeyMaterial)
	}

	var result *multierror.Error
	ks := &KeySet{keys: make([]*KeyHandle, 0, len(doc.Keys))}
	for i, raw := range doc.Keys {
		var f jwkFields
		if err := json.Unmarshal(raw, &f); err != nil {
			result = multierror.Append(result, &KeyMaterialError{Set: set, Index: i, Reason: err.Error()})
			continue
		}
		if problems := f.problems(r); len(problems) > 0 {
			for _, p := range problems {
				result = multierror.Append(result, &KeyMaterialError{Set: set, Index: i, KeyID: f.Kid, Reason: p})
			}
			continue
		}
		k, err := importKey(raw, f)
		if err != nil {
			result = multierror.Append(result, &KeyMaterialError{Set: set, Index: i, KeyID: f.Kid, Reason: err.Error()})
			continue
		}
		ks.keys = append(ks.keys, k)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return ks, nil
}

func importKey(raw json.RawMessage, f jwkFields) (*KeyHandle, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	k := &KeyHandle{
		KeyID:     f.Kid,
		Use:       KeyUse(f.Use),
		Algorithm: f.Alg,
	}
	switch key := jwk.Key.(type) {
	case *ecdsa.PrivateKey:
		k.Private = key
		k.Public = &key.PublicKey
	case *ecdsa.PublicKey:
		k.Public = key
	default:
		return nil, fmt.Errorf("unsupported key type %T", jwk.Key)
	}
	return k, nil
}
