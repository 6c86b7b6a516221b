// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capndi provides the packages a relying party needs to log users in with NDI
// (Singpass and Corppass) over OIDC: auth URLs, the encrypted id_token
// exchange, a refresh-ahead cache of the provider's metadata and session
// tokens signed with the relying party's keys.
//
// See the oidc package.
package capndi
