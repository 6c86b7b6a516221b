// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for relying parties of NDI, the national digital identity
provider, in both its individual (Singpass) and business (Corppass) variants.

Primary types provided by the package

* Config: provides the configuration of a relying party: its client id and
redirect URL, the provider's discovery and JWKS URLs, the relying party's
secret and public JWKS documents and the Variant.

* Variant: the handful of things that differ between Singpass and Corppass,
such as the auth URL parameter that carries the service id and whether the
claims must carry entity info.

* Client: generates auth URLs, exchanges authorization codes for the verified
claims of an encrypted and signed id_token, and extracts the Identity of the
user who logged in.

* Cache: holds the provider's signing keys and endpoint config. It refreshes
them ahead of expiry and collapses concurrent refreshes into one.

* SessionIssuer: signs and verifies the relying party's own session tokens
with its keys.

* KeySet: a parsed JWKS, looked up by kid.

The oidc.clientassertion package

The clientassertion package creates the signed JWT a relying party
authenticates itself with at the provider's token endpoint (RFC 7523).

Testing

TestProvider is a local TLS provider with discovery, JWKS, authorize and token
endpoints. It issues id_tokens signed with its own key and encrypted to the
relying party's key, and has knobs for failures and key rotation.
TestGenerateRelyingPartyKeys creates the relying party's key sets.
*/
package oidc
