// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-ndi/oidc/clientassertion"
	"github.com/stretchr/testify/require"
)

// Defaults of a TestProvider.
const (
	TestClientID    = "test-client-id"
	TestRedirectURL = "https://rp.example.com/callback"
	TestAuthCode    = "test-auth-code"
	TestSubject     = "s=S1234567D,u=CS-1234567"
	TestNonce       = "test-nonce"
)

// TestProvider is a local TLS server that plays the part of the identity
// provider. It serves discovery, its JWKS, an authorize endpoint and a token
// endpoint that returns id_tokens signed with its own key and encrypted to
// the relying party's encryption key.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	rp         *TestRelyingPartyKeys

	mu                 sync.Mutex
	signingKey         *ecdsa.PrivateKey
	signingKeyID       string
	keySerial          int
	clientID           string
	redirectURL        string
	expectedAuthCode   string
	subject            string
	entityInfo         *EntityInfo
	customClaims       map[string]interface{}
	customIssuer       string
	idTokenKeyID       string
	idTokenExpiry      time.Duration
	omitIdToken        bool
	plainIdToken       bool
	tokenStatus        int
	tokenDelay         time.Duration
	failJWKS           int
	failDiscovery      int
	jwksHits           int
	discoveryHits      int
	tokenHits          int
	lastTokenRequest   url.Values
	lastAssertionError error

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider for a relying party
// with the given keys. The provider is stopped when the test ends.
func StartTestProvider(t *testing.T, rp *TestRelyingPartyKeys) *TestProvider {
	t.Helper()
	require := require.New(t)
	require.NotNil(rp)

	p := &TestProvider{
		rp:               rp,
		clientID:         TestClientID,
		redirectURL:      TestRedirectURL,
		expectedAuthCode: TestAuthCode,
		subject:          TestSubject,
		idTokenExpiry:    10 * time.Minute,
		t:                t,
	}
	p.rotateSigningKey()

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr is the provider's issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM of the provider's TLS certificate.
func (p *TestProvider) CACert() string { return p.caCert }

// DiscoveryURL returns the provider's openid-configuration URL.
func (p *TestProvider) DiscoveryURL() string { return p.Addr() + WellKnownPath }

// JWKSURL returns the URL of the provider's JWKS.
func (p *TestProvider) JWKSURL() string { return p.Addr() + "/jwks" }

// Config returns a Config for the relying party that works with the
// provider.
func (p *TestProvider) Config(opt ...Option) *Config {
	p.t.Helper()
	p.mu.Lock()
	clientID, redirectURL := p.clientID, p.redirectURL
	p.mu.Unlock()
	opt = append([]Option{WithProviderCA(p.caCert)}, opt...)
	c, err := NewConfig(p.DiscoveryURL(), p.JWKSURL(), clientID, redirectURL, p.rp.SecretJWKS, p.rp.PublicJWKS, opt...)
	require.NoError(p.t, err)
	return c
}

// SetClientID sets the client id the provider expects.
func (p *TestProvider) SetClientID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = id
}

// SetExpectedAuthCode sets the authorization code the token endpoint
// accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetSubject sets the sub claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetEntityInfo sets the entityInfo claim of issued id_tokens.
func (p *TestProvider) SetEntityInfo(e *EntityInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entityInfo = e
}

// SetCustomClaims adds claims to issued id_tokens.
func (p *TestProvider) SetCustomClaims(c map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = c
}

// SetCustomIssuer overrides the iss claim of issued id_tokens.
func (p *TestProvider) SetCustomIssuer(iss string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customIssuer = iss
}

// SetIdTokenKeyID overrides the kid of the encryption layer of issued
// id_tokens.
func (p *TestProvider) SetIdTokenKeyID(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenKeyID = kid
}

// SetIdTokenExpiry sets how long issued id_tokens are valid for. A negative
// value issues expired tokens.
func (p *TestProvider) SetIdTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenExpiry = d
}

// OmitIdToken makes the token endpoint leave out the id_token.
func (p *TestProvider) OmitIdToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIdToken = true
}

// IssuePlainIdTokens makes the token endpoint return signed id_tokens
// without the encryption layer.
func (p *TestProvider) IssuePlainIdTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plainIdToken = true
}

// SetTokenStatus makes the token endpoint fail with the status code. Zero
// restores normal behaviour.
func (p *TestProvider) SetTokenStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = code
}

// SetTokenDelay makes the token endpoint wait before it replies.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// FailJWKS makes the next n JWKS requests fail.
func (p *TestProvider) FailJWKS(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failJWKS = n
}

// FailDiscovery makes the next n discovery requests fail.
func (p *TestProvider) FailDiscovery(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDiscovery = n
}

// RotateSigningKey replaces the provider's signing key with a new key under
// a new kid. Only the new key is published.
func (p *TestProvider) RotateSigningKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateSigningKey()
	return p.signingKeyID
}

func (p *TestProvider) rotateSigningKey() {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(p.t, err)
	p.keySerial++
	p.signingKey = k
	p.signingKeyID = fmt.Sprintf("idp-sig-%d", p.keySerial)
}

// SigningKeyID returns the kid of the provider's current signing key.
func (p *TestProvider) SigningKeyID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKeyID
}

// JWKSHits returns the number of JWKS requests served.
func (p *TestProvider) JWKSHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksHits
}

// DiscoveryHits returns the number of discovery requests served.
func (p *TestProvider) DiscoveryHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits
}

// TokenHits returns the number of token requests served.
func (p *TestProvider) TokenHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenHits
}

// LastTokenRequest returns the form of the last token request.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// LastAssertionError returns why the last client assertion was rejected, if
// it was.
func (p *TestProvider) LastAssertionError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAssertionError
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/token" {
		p.mu.Lock()
		delay := p.tokenDelay
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case WellKnownPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryHits++
		if p.failDiscovery > 0 {
			p.failDiscovery--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply := struct {
			Issuer        string   `json:"issuer"`
			AuthEndpoint  string   `json:"authorization_endpoint"`
			TokenEndpoint string   `json:"token_endpoint"`
			JWKSURI       string   `json:"jwks_uri"`
			Algs          []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:        p.Addr(),
			AuthEndpoint:  p.Addr() + "/authorize",
			TokenEndpoint: p.Addr() + "/token",
			JWKSURI:       p.JWKSURL(),
			Algs:          []string{string(jose.ES256)},
		}
		_ = p.writeJSON(w, &reply)

	case "/jwks":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.jwksHits++
		if p.failJWKS > 0 {
			p.failJWKS--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = p.writeJSON(w, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &p.signingKey.PublicKey,
			KeyID:     p.signingKeyID,
			Algorithm: string(jose.ES256),
			Use:       string(UseSignature),
		}}})

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" || qv.Get("state") == "" || qv.Get("nonce") == "" {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing redirect_uri, state or nonce")
			return
		}
		redirectURI += "?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenHits++
		if err := req.ParseForm(); err != nil {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		p.lastTokenRequest = req.PostForm
		if p.tokenStatus != 0 {
			p.writeTokenErrorResponse(w, p.tokenStatus, "server_error", "configured failure")
			return
		}
		switch {
		case req.PostForm.Get("grant_type") != "authorization_code":
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
			return
		case req.PostForm.Get("code") != p.expectedAuthCode:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected authorization code")
			return
		case req.PostForm.Get("redirect_uri") != p.redirectURL:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected redirect_uri")
			return
		case req.PostForm.Get("client_assertion_type") != clientassertion.JWTTypeParam:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_client", "unexpected client_assertion_type")
			return
		}
		p.lastAssertionError = p.checkClientAssertion(req.PostForm.Get("client_assertion"))
		if p.lastAssertionError != nil {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", p.lastAssertionError.Error())
			return
		}

		reply := struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			IdToken     string `json:"id_token,omitempty"`
		}{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
		}
		if !p.omitIdToken {
			reply.IdToken = p.issueIdToken()
		}
		_ = p.writeJSON(w, &reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) checkClientAssertion(assertion string) error {
	tok, err := jwt.ParseSigned(assertion, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return err
	}
	if len(tok.Headers) != 1 || tok.Headers[0].KeyID != p.rp.SigningKeyID {
		return fmt.Errorf("client assertion kid is not %q", p.rp.SigningKeyID)
	}
	var c jwt.Claims
	if err := tok.Claims(&p.rp.SigningKey.PublicKey, &c); err != nil {
		return err
	}
	return c.ValidateWithLeeway(jwt.Expected{
		Issuer:      p.clientID,
		Subject:     p.clientID,
		AnyAudience: jwt.Audience{p.Addr()},
		Time:        time.Now(),
	}, 0)
}

func (p *TestProvider) issueIdToken() string {
	p.t.Helper()
	require := require.New(p.t)

	now := time.Now()
	iss := p.Addr()
	if p.customIssuer != "" {
		iss = p.customIssuer
	}
	claims := map[string]interface{}{
		"iss":   iss,
		"sub":   p.subject,
		"aud":   p.clientID,
		"iat":   now.Unix(),
		"exp":   now.Add(p.idTokenExpiry).Unix(),
		"nonce": TestNonce,
	}
	if p.entityInfo != nil {
		claims["entityInfo"] = p.entityInfo
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.signingKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", p.signingKeyID),
	)
	require.NoError(err)
	signed, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(err)
	if p.plainIdToken {
		return signed
	}

	kid := p.rp.EncryptionKeyID
	if p.idTokenKeyID != "" {
		kid = p.idTokenKeyID
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.ECDH_ES_A256KW, Key: &p.rp.EncryptionKey.PublicKey, KeyID: kid},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	require.NoError(err)
	obj, err := enc.Encrypt([]byte(signed))
	require.NoError(err)
	out, err := obj.CompactSerialize()
	require.NoError(err)
	return out
}
