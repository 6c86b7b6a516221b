// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

// TestRelyingPartyKeys are the key pairs of a test relying party and the JWKS
// documents that hold them.
type TestRelyingPartyKeys struct {
	SigningKey      *ecdsa.PrivateKey
	SigningKeyID    string
	EncryptionKey   *ecdsa.PrivateKey
	EncryptionKeyID string

	// SecretJWKS holds both private keys, signing key first.
	SecretJWKS []byte
	// PublicJWKS holds the public halves of both keys.
	PublicJWKS []byte
}

// TestGenerateRelyingPartyKeys generates a P-256 signing key and a P-256
// encryption key for a relying party.
func TestGenerateRelyingPartyKeys(t *testing.T) *TestRelyingPartyKeys {
	t.Helper()
	require := require.New(t)
	sig, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	enc, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	keys := &TestRelyingPartyKeys{
		SigningKey:      sig,
		SigningKeyID:    "rp-sig-1",
		EncryptionKey:   enc,
		EncryptionKeyID: "rp-enc-1",
	}
	private := []jose.JSONWebKey{
		{Key: sig, KeyID: keys.SigningKeyID, Algorithm: string(jose.ES256), Use: string(UseSignature)},
		{Key: enc, KeyID: keys.EncryptionKeyID, Algorithm: string(jose.ECDH_ES_A256KW), Use: string(UseEncryption)},
	}
	keys.SecretJWKS = TestJWKS(t, private...)
	public := make([]jose.JSONWebKey, 0, len(private))
	for _, k := range private {
		public = append(public, k.Public())
	}
	keys.PublicJWKS = TestJWKS(t, public...)
	return keys
}

// TestJWKS marshals the keys into a JWKS document.
func TestJWKS(t *testing.T, keys ...jose.JSONWebKey) []byte {
	t.Helper()
	b, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err)
	return b
}

// TestRawJWKS marshals raw JWK objects into a JWKS document. It's useful for
// building malformed keys.
func TestRawJWKS(t *testing.T, keys ...map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{"keys": keys})
	require.NoError(t, err)
	return b
}

// TestJWKFields returns the JSON fields of a JWK as a map.
func TestJWKFields(t *testing.T, k jose.JSONWebKey) map[string]interface{} {
	t.Helper()
	b, err := k.MarshalJSON()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}
