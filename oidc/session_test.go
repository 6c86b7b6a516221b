// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionIssuer(t *testing.T, rp *TestRelyingPartyKeys, opt ...Option) *SessionIssuer {
	t.Helper()
	require := require.New(t)
	secret, err := ParseSecretKeySet(rp.SecretJWKS)
	require.NoError(err)
	public, err := ParsePublicKeySet(rp.PublicJWKS)
	require.NoError(err)
	s, err := NewSessionIssuer(secret, public, opt...)
	require.NoError(err)
	return s
}

func TestParseExpiry(t *testing.T) {
	t.Parallel()
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "30m", want: issued.Add(30 * time.Minute)},
		{in: "12h", want: issued.Add(12 * time.Hour)},
		{in: "7d", want: issued.Add(7 * 24 * time.Hour)},
		{in: " 1h30m ", want: issued.Add(90 * time.Minute)},
		{in: "1767225600", want: time.Unix(1767225600, 0)},
		{in: "", wantErr: true},
		{in: "0d", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			e, err := ParseExpiry(tt.in)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			got, err := e.Time(issued)
			require.NoError(err)
			assert.True(tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	_, err := Expiry{}.Time(issued)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewSessionIssuer(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	rp := TestGenerateRelyingPartyKeys(t)
	secret, err := ParseSecretKeySet(rp.SecretJWKS)
	require.NoError(t, err)

	_, err = NewSessionIssuer(nil, secret)
	assert.ErrorIs(err, ErrInvalidParameter)
	_, err = NewSessionIssuer(secret, NewKeySet())
	assert.ErrorIs(err, ErrInvalidParameter)

	// a secret set without a signing key is accepted, signing fails later
	encOnly, err := ParseSecretKeySet(TestJWKS(t, jose.JSONWebKey{
		Key: rp.EncryptionKey, KeyID: rp.EncryptionKeyID, Algorithm: string(jose.ECDH_ES_A256KW), Use: string(UseEncryption),
	}))
	require.NoError(t, err)
	s, err := NewSessionIssuer(encOnly, secret)
	require.NoError(t, err)
	_, err = s.SigningKey()
	assert.ErrorIs(err, ErrNoSigningKey)
	_, err = s.CreateToken(map[string]interface{}{"a": 1}, ExpiresIn(time.Minute))
	assert.ErrorIs(err, ErrNoSigningKey)
}

func TestSessionIssuer_CreateToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	rp := TestGenerateRelyingPartyKeys(t)
	now := time.Now().Truncate(time.Second)
	s := testSessionIssuer(t, rp, WithNow(func() time.Time { return now }))

	token, err := s.CreateToken(map[string]interface{}{"userName": "S1234567D"}, ExpiresIn(12*time.Hour))
	require.NoError(err)

	parsed, err := jwt.ParseSigned(token, supportedSigningAlgs)
	require.NoError(err)
	require.Len(parsed.Headers, 1)
	h := parsed.Headers[0]
	assert.Equal(rp.SigningKeyID, h.KeyID)
	assert.Equal("ES256", h.Algorithm)
	assert.Equal("JWT", h.ExtraHeaders[jose.HeaderType])

	var std jwt.Claims
	require.NoError(parsed.Claims(&rp.SigningKey.PublicKey, &std))
	assert.True(now.Equal(std.IssuedAt.Time()))
	assert.True(now.Add(12 * time.Hour).Equal(std.Expiry.Time()))

	got, err := s.VerifyToken(token)
	require.NoError(err)
	assert.Equal("S1234567D", got["userName"])
	assert.Contains(got, "iat")
	assert.Contains(got, "exp")
}

func TestSessionIssuer_VerifyToken(t *testing.T) {
	t.Parallel()
	rp := TestGenerateRelyingPartyKeys(t)
	other := TestGenerateRelyingPartyKeys(t)
	now := time.Now()
	s := testSessionIssuer(t, rp, WithNow(func() time.Time { return now }))

	valid, err := s.CreateToken(map[string]interface{}{"k": "v"}, ExpiresIn(time.Hour))
	require.NoError(t, err)
	expired, err := s.CreateToken(map[string]interface{}{"k": "v"}, ExpiresAt(now.Add(-time.Minute)))
	require.NoError(t, err)

	// same kid, different key
	forged, err := testSessionIssuer(t, other).CreateToken(map[string]interface{}{"k": "v"}, ExpiresIn(time.Hour))
	require.NoError(t, err)

	unknownKid, err := testSessionIssuer(t, &TestRelyingPartyKeys{
		SecretJWKS: TestJWKS(t, jose.JSONWebKey{Key: other.SigningKey, KeyID: "unknown", Algorithm: "ES256", Use: "sig"}),
		PublicJWKS: other.PublicJWKS,
	}).CreateToken(map[string]interface{}{"k": "v"}, ExpiresIn(time.Hour))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "valid", token: valid},
		{name: "garbage", token: "not-a-token", wantErr: ErrInvalidSessionToken},
		{name: "expired", token: expired, wantErr: ErrInvalidSessionToken},
		{name: "wrong key", token: forged, wantErr: ErrInvalidSignature},
		{name: "tampered signature", token: tampered, wantErr: ErrInvalidSignature},
		{name: "unknown kid", token: unknownKid, wantErr: ErrNoVerificationKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := s.VerifyToken(tt.token)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal("v", got["k"])
		})
	}
}

func TestSessionIssuer_SessionToken(t *testing.T) {
	t.Parallel()
	rp := TestGenerateRelyingPartyKeys(t)
	s := testSessionIssuer(t, rp)

	tests := []struct {
		name       string
		id         *Identity
		rememberMe bool
		want       *SessionPayload
		wantErr    error
	}{
		{
			name:       "individual",
			id:         &Identity{ID: "S1234567D"},
			rememberMe: true,
			want:       &SessionPayload{UserName: "S1234567D", RememberMe: true},
		},
		{
			name: "business",
			id:   &Identity{ID: "S1234567D", EntityID: "UEN123456"},
			want: &SessionPayload{UserName: "UEN123456", UserInfo: "S1234567D"},
		},
		{
			name:    "nil identity",
			wantErr: ErrNilParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			token, err := s.CreateSessionToken(tt.id, tt.rememberMe, ExpiresIn(time.Hour))
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			got, err := s.VerifySessionToken(token)
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}

	t.Run("missing userName", func(t *testing.T) {
		token, err := s.CreateToken(map[string]interface{}{"rememberMe": true}, ExpiresIn(time.Hour))
		require.NoError(t, err)
		_, err = s.VerifySessionToken(token)
		assert.ErrorIs(t, err, ErrInvalidSessionPayload)
	})
}
