// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubject(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sub     string
		want    []SubjectPair
		wantErr bool
	}{
		{sub: "s=S1234567D", want: []SubjectPair{{"s", "S1234567D"}}},
		{sub: "s=S1234567D,u=CS-1234567", want: []SubjectPair{{"s", "S1234567D"}, {"u", "CS-1234567"}}},
		{sub: "s=", want: []SubjectPair{{"s", ""}}},
		{sub: "s=S1234567D,bad", wantErr: true},
		{sub: "s=a=b", wantErr: true},
		{sub: "s=S1234567D,", wantErr: true},
		{sub: "opaque-subject", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParseSubject(tt.sub)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrMalformedClaim)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestExtractIdentifier(t *testing.T) {
	t.Parallel()
	claims := func(sub string) *Claims {
		return &Claims{Claims: jwt.Claims{Subject: sub}}
	}
	tests := []struct {
		name    string
		claims  *Claims
		marker  string
		want    string
		wantErr error
	}{
		{name: "first match wins", claims: claims("s=S1234567D,other=val,s=S9876543C"), marker: "s", want: "S1234567D"},
		{name: "later pair", claims: claims("s=S1234567D,u=CS-1234567"), marker: "u", want: "CS-1234567"},
		{name: "no match", claims: claims("u=CS-1234567"), marker: "s", wantErr: ErrIdentifierNotFound},
		{name: "empty value", claims: claims("s=,u=CS-1234567"), marker: "s", wantErr: ErrIdentifierNotFound},
		{name: "first match empty", claims: claims("s=,s=S1234567D"), marker: "s", wantErr: ErrIdentifierNotFound},
		{name: "empty sub", claims: claims(""), marker: "s", wantErr: ErrIdentifierNotFound},
		{name: "pair without separator", claims: claims("key1=value1,key2=value2,key3.value3"), marker: "key1", wantErr: ErrMalformedClaim},
		{name: "malformed beats match", claims: claims("s=S1234567D,broken"), marker: "s", wantErr: ErrMalformedClaim},
		{name: "nil claims", marker: "s", wantErr: ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ExtractIdentifier(tt.claims, tt.marker)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				assert.Empty(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestExtractEntityID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		claims  *Claims
		want    string
		wantErr error
	}{
		{name: "valid", claims: &Claims{EntityInfo: &EntityInfo{CPEntID: "UEN123456", CPEntType: "UEN"}}, want: "UEN123456"},
		{name: "missing", claims: &Claims{}, wantErr: ErrInvalidEntityInfo},
		{name: "empty id", claims: &Claims{EntityInfo: &EntityInfo{CPEntType: "UEN"}}, wantErr: ErrInvalidEntityInfo},
		{name: "nil", wantErr: ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got, err := ExtractEntityID(tt.claims)
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			assert.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}
