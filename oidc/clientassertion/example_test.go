// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func ExampleJWT() {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatal(err)
	}
	j, err := NewJWTWithECDSAKey("client-id", []string{"https://issuer.example.com"}, ES256, privKey,
		// the kid of the matching public key in the JWKS the relying party
		// publishes to the provider
		WithKeyID("some-key-id"),
	)
	if err != nil {
		log.Fatal(err)
	}
	signed, err := j.Serialize()
	if err != nil {
		log.Fatal(err)
	}

	// decode and inspect the JWT -- this is the IDP's job
	token, err := jwt.ParseSigned(signed, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		log.Fatal(err)
	}
	headers := token.Headers[0]
	fmt.Printf("Headers - Algorithm: %s; typ: %s; kid: %s\n",
		headers.Algorithm, headers.ExtraHeaders["typ"], headers.KeyID)
	var claim jwt.Claims
	if err := token.Claims(&privKey.PublicKey, &claim); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Claims  - Issuer: %s; Subject: %s; Audience: %v\n",
		claim.Issuer, claim.Subject, claim.Audience)

	// Output:
	// Headers - Algorithm: ES256; typ: JWT; kid: some-key-id
	// Claims  - Issuer: client-id; Subject: client-id; Audience: [https://issuer.example.com]
}
