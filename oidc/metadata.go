// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	// WellKnownPath is appended to the issuer to form the discovery URL.
	WellKnownPath = "/.well-known/openid-configuration"

	maxMetadataSize = 1 << 20
)

// EndpointConfig is the provider configuration obtained through discovery.
type EndpointConfig struct {
	Issuer   string
	AuthURL  string
	TokenURL string
	JWKSURL  string

	provider *oidc.Provider
}

// OAuth2Config returns an oauth2 config for the endpoints, requesting only the
// openid scope.
func (e *EndpointConfig) OAuth2Config(clientId, redirectUrl string) *oauth2.Config {
	endpoint := oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL}
	if e.provider != nil {
		endpoint = e.provider.Endpoint()
	}
	return &oauth2.Config{
		ClientID:    clientId,
		RedirectURL: redirectUrl,
		Endpoint:    endpoint,
		Scopes:      []string{oidc.ScopeOpenID},
	}
}

// MetadataSource fetches the provider's metadata. Implementations make a
// single attempt per call; retries are applied by the Cache.
type MetadataSource interface {
	// ProviderKeys fetches the provider's public signing keys.
	ProviderKeys(ctx context.Context) (*KeySet, error)
	// EndpointConfig fetches the provider's discovery document.
	EndpointConfig(ctx context.Context) (*EndpointConfig, error)
}

// HTTPMetadataSource fetches provider metadata over http.
type HTTPMetadataSource struct {
	discoveryURL string
	jwksURL      string
	client       *http.Client
}

var _ MetadataSource = (*HTTPMetadataSource)(nil)

// NewHTTPMetadataSource creates a source for the given discovery and JWKS
// URLs. The provider's keys are always read from jwksURL, not from the
// jwks_uri of the discovery document.
func NewHTTPMetadataSource(discoveryURL, jwksURL string, client *http.Client) (*HTTPMetadataSource, error) {
	const op = "NewHTTPMetadataSource"
	switch {
	case discoveryURL == "":
		return nil, fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	case jwksURL == "":
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	case client == nil:
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrNilParameter)
	}
	return &HTTPMetadataSource{
		discoveryURL: discoveryURL,
		jwksURL:      jwksURL,
		client:       client,
	}, nil
}

// ProviderKeys fetches and parses the provider's JWKS.
func (s *HTTPMetadataSource) ProviderKeys(ctx context.Context) (*KeySet, error) {
	const op = "HTTPMetadataSource.ProviderKeys"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %w", op, resp.Status, ErrProviderUnavailable)
	}
	ks, err := ParseProviderKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}

// EndpointConfig runs discovery against the issuer derived from the
// discovery URL.
func (s *HTTPMetadataSource) EndpointConfig(ctx context.Context) (*EndpointConfig, error) {
	const op = "HTTPMetadataSource.EndpointConfig"
	issuer := strings.TrimSuffix(s.discoveryURL, WellKnownPath)
	p, err := oidc.NewProvider(oidc.ClientContext(ctx, s.client), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
	}
	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURL string `json:"jwks_uri"`
	}
	if err := p.Claims(&doc); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	ep := p.Endpoint()
	if ep.TokenURL == "" || ep.AuthURL == "" {
		return nil, fmt.Errorf("%s: discovery document is missing endpoints: %w", op, ErrProviderUnavailable)
	}
	return &EndpointConfig{
		Issuer:   doc.Issuer,
		AuthURL:  ep.AuthURL,
		TokenURL: ep.TokenURL,
		JWKSURL:  doc.JWKSURL,
		provider: p,
	}, nil
}
