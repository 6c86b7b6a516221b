// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with an ECDSA private key for use in
// OIDC client_assertion requests, A.K.A. private_key_jwt.
// reference: https://oauth.net/private-key-jwt/
//
// Example usage:
//
//	j, err := clientassertion.NewJWTWithECDSAKey("client-id", []string{"https://issuer"},
//		clientassertion.ES256, ecdsaPrivateKey,
//		clientassertion.WithKeyID("jwks-key-id"),
//		clientassertion.WithLifetime(time.Minute),
//	)
//	jwtString, err := j.Serialize()
package clientassertion
