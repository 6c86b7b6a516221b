// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-ndi/oidc/clientassertion"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
)

// ClientAssertionLifetime is how long the client assertion sent with a token
// request is valid for.
const ClientAssertionLifetime = 60 * time.Second

const maxTokenResponseSize = 1 << 20

var (
	supportedKeyAlgs = []jose.KeyAlgorithm{
		jose.ECDH_ES,
		jose.ECDH_ES_A128KW,
		jose.ECDH_ES_A192KW,
		jose.ECDH_ES_A256KW,
	}
	supportedContentEncs = []jose.ContentEncryption{
		jose.A128GCM,
		jose.A192GCM,
		jose.A256GCM,
		jose.A128CBC_HS256,
		jose.A192CBC_HS384,
		jose.A256CBC_HS512,
	}
)

// Client is a relying party of the provider. It builds auth URLs, exchanges
// authorization codes for verified claims and issues session tokens.
type Client struct {
	config   *Config
	variant  Variant
	secret   *KeySet
	public   *KeySet
	cache    *Cache
	sessions *SessionIssuer
	client   *http.Client
	logger   hclog.Logger
	metrics  *metrics
	now      func() time.Time
}

// NewClient creates a client for the config. The relying party's key sets are
// parsed here and any invalid key is fatal. The client starts populating its
// provider metadata cache in the background; callers must call Stop when done
// with the client.
//
// Supported options:
//   - WithLogger
//   - WithNow
//   - WithRegisterer
//   - WithMetadataSource
//   - any Cache option
func NewClient(c *Config, opt ...Option) (*Client, error) {
	const op = "NewClient"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getClientOpts(opt...)
	secret, err := ParseSecretKeySet(c.SecretJWKS)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	public, err := ParsePublicKeySet(c.PublicJWKS)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sessions, err := NewSessionIssuer(secret, public, WithNow(opts.withNowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpClient, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	source := opts.withMetadataSource
	if source == nil {
		if source, err = NewHTTPMetadataSource(c.DiscoveryUrl, c.JWKSUrl, httpClient); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	m, err := newMetrics(c.Variant.Name, opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.With("variant", c.Variant.Name)

	cacheOpts := append(append([]Option{}, opt...), WithLogger(logger), withCacheMetrics(m))
	cache, err := NewCache(source, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, ok := secret.FirstSigningKey(); !ok {
		logger.Warn("secret key set has no signing key, token exchange will fail")
	}
	return &Client{
		config:   c,
		variant:  c.Variant,
		secret:   secret,
		public:   public,
		cache:    cache,
		sessions: sessions,
		client:   httpClient,
		logger:   logger.Named("client"),
		metrics:  m,
		now:      opts.withNowFunc,
	}, nil
}

// Stop stops the client's background refreshes.
func (c *Client) Stop() {
	c.cache.Stop()
}

// Done returns a channel that's closed when the client is stopped.
func (c *Client) Done() <-chan struct{} {
	return c.cache.Done()
}

// Cache returns the client's provider metadata cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Sessions returns the client's session token issuer.
func (c *Client) Sessions() *SessionIssuer {
	return c.sessions
}

// Variant returns the client's variant.
func (c *Client) Variant() Variant {
	return c.variant
}

// PublicKeySetJSON returns the relying party's public JWKS, for publishing
// to the provider.
func (c *Client) PublicKeySetJSON() ([]byte, error) {
	return json.Marshal(c.public)
}

// AuthURL returns the provider's authorization URL for a login with the
// given state and service id. A fresh nonce is added to each URL.
func (c *Client) AuthURL(ctx context.Context, state, serviceID string) (string, error) {
	const op = "Client.AuthURL"
	switch {
	case state == "":
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrEmptyParameter)
	case serviceID == "":
		return "", fmt.Errorf("%s: service id is empty: %w", op, ErrEmptyParameter)
	}
	ep, err := c.cache.EndpointConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := NewID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	oauth2Config := ep.OAuth2Config(c.config.ClientId, c.config.RedirectUrl)
	return oauth2Config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam(c.variant.ServiceIDKey, serviceID),
	), nil
}

// Exchange trades an authorization code for the verified claims of the
// id_token the provider returns. When anything after reading the provider's
// endpoint config fails, a refresh of the provider metadata is started before
// the error is returned.
func (c *Client) Exchange(ctx context.Context, authCode string) (*Claims, error) {
	const op = "Client.Exchange"
	if authCode == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyAuthCode)
	}
	start := time.Now()
	claims, err := c.exchange(ctx, authCode)
	c.metrics.exchangeTotal.WithLabelValues(resultLabel(err)).Inc()
	c.metrics.exchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func (c *Client) exchange(ctx context.Context, authCode string) (*Claims, error) {
	ep, err := c.cache.EndpointConfig(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := c.exchangeWith(ctx, ep, authCode)
	if err != nil {
		c.logger.Warn("exchange failed, refreshing provider metadata", "error", err)
		c.cache.Refresh()
		return nil, err
	}
	return claims, nil
}

func (c *Client) exchangeWith(ctx context.Context, ep *EndpointConfig, authCode string) (*Claims, error) {
	assertion, err := c.clientAssertion(ep.Issuer)
	if err != nil {
		return nil, err
	}
	idToken, err := c.requestIdToken(ctx, ep.TokenURL, authCode, assertion)
	if err != nil {
		return nil, err
	}
	signed, err := c.decrypt(idToken)
	if err != nil {
		return nil, err
	}
	providerKeys, err := c.cache.ProviderKeys(ctx)
	if err != nil {
		return nil, err
	}
	return c.verify(signed, providerKeys, ep.Issuer)
}

func (c *Client) clientAssertion(audience string) (string, error) {
	const op = "Client.clientAssertion"
	key, err := c.sessions.SigningKey()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	j, err := clientassertion.NewJWTWithECDSAKey(
		c.config.ClientId,
		[]string{audience},
		clientassertion.ESAlgorithm(key.Algorithm),
		key.Private,
		clientassertion.WithKeyID(key.KeyID),
		clientassertion.WithLifetime(ClientAssertionLifetime),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s, err := j.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// tokenResponse is the part of the token endpoint's response that's used.
type tokenResponse struct {
	IdToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) requestIdToken(ctx context.Context, tokenURL, authCode, assertion string) (string, error) {
	const op = "Client.requestIdToken"
	form := url.Values{
		"grant_type":            {"authorization_code"},
		"redirect_uri":          {c.config.RedirectUrl},
		"code":                  {authCode},
		"client_assertion_type": {clientassertion.JWTTypeParam},
		"client_assertion":      {assertion},
	}
	if c.variant.ExtraTokenFields != nil {
		for k, vs := range c.variant.ExtraTokenFields(c.config.ClientId) {
			for _, v := range vs {
				form.Add(k, v)
			}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrExchangeFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", fmt.Errorf("%s: unable to read response: %w: %w", op, ErrExchangeFailed, err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("%s: unable to decode response: %w: %w", op, ErrExchangeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		if tr.Error != "" {
			return "", fmt.Errorf("%s: %s: %s %s: %w", op, resp.Status, tr.Error, tr.ErrorDescription, ErrExchangeFailed)
		}
		return "", fmt.Errorf("%s: %s: %w", op, resp.Status, ErrExchangeFailed)
	}
	if tr.IdToken == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	return tr.IdToken, nil
}

// decrypt opens the id_token's encryption layer with the relying party's
// private key named by the token's kid.
func (c *Client) decrypt(idToken string) (string, error) {
	const op = "Client.decrypt"
	jwe, err := jose.ParseEncrypted(idToken, supportedKeyAlgs, supportedContentEncs)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidIdToken, err)
	}
	kid := jwe.Header.KeyID
	key, ok := c.secret.FirstPrivateByKeyID(kid)
	if !ok {
		return "", fmt.Errorf("%s: %w", op, &KeySelectionError{Purpose: PurposeDecryption, KeyID: kid})
	}
	payload, err := jwe.Decrypt(key.Private)
	if err != nil {
		return "", fmt.Errorf("%s: unable to decrypt: %w: %w", op, ErrInvalidIdToken, err)
	}
	return string(payload), nil
}

// verify checks the signature of the decrypted id_token with the provider key
// named by its kid, then its issuer, audience and times.
func (c *Client) verify(signed string, providerKeys *KeySet, issuer string) (*Claims, error) {
	const op = "Client.verify"
	tok, err := jwt.ParseSigned(signed, supportedSigningAlgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidIdToken, err)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%s: expected one signature: %w", op, ErrInvalidIdToken)
	}
	kid := tok.Headers[0].KeyID
	key, ok := providerKeys.FirstByKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, &KeySelectionError{Purpose: PurposeVerification, KeyID: kid})
	}
	var claims Claims
	if err := tok.Claims(key.Public, &claims, &claims.Raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	expected := jwt.Expected{
		Issuer:      issuer,
		AnyAudience: jwt.Audience{c.config.ClientId},
		Time:        c.now(),
	}
	if err := claims.ValidateWithLeeway(expected, jwt.DefaultLeeway); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	return &claims, nil
}

// ExtractIdentifier returns the user's identifier from the claims' sub.
func (c *Client) ExtractIdentifier(claims *Claims) (string, error) {
	return ExtractIdentifier(claims, c.variant.IdentifierMarker)
}

// ExtractEntityID returns the business entity id of the claims.
func (c *Client) ExtractEntityID(claims *Claims) (string, error) {
	return ExtractEntityID(claims)
}

// Authenticate exchanges the authorization code and extracts the identity
// from the verified claims. For the business variant the identity includes
// the entity id.
func (c *Client) Authenticate(ctx context.Context, authCode string) (*Identity, error) {
	const op = "Client.Authenticate"
	claims, err := c.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := c.ExtractIdentifier(claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	identity := &Identity{ID: id}
	if c.variant.Kind == KindBusiness {
		if identity.EntityID, err = c.ExtractEntityID(claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return identity, nil
}

// CreateToken signs a session token; see SessionIssuer.CreateToken.
func (c *Client) CreateToken(payload map[string]interface{}, exp Expiry) (string, error) {
	return c.sessions.CreateToken(payload, exp)
}

// VerifyToken verifies a session token; see SessionIssuer.VerifyToken.
func (c *Client) VerifyToken(token string) (map[string]interface{}, error) {
	return c.sessions.VerifyToken(token)
}

// clientOptions is the set of available options for a Client.
type clientOptions struct {
	withLogger         hclog.Logger
	withRegisterer     prometheus.Registerer
	withNowFunc        func() time.Time
	withMetadataSource MetadataSource
}

func clientDefaults() clientOptions {
	return clientOptions{withNowFunc: time.Now}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}

// WithMetadataSource provides an optional source of provider metadata that
// replaces the http discovery and JWKS requests.
func WithMetadataSource(s MetadataSource) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withMetadataSource = s
		}
	}
}
