// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	sdkHttp "github.com/hashicorp/cap-ndi/sdk/http"
	"github.com/hashicorp/go-multierror"
)

// Config represents the configuration of a relying party of the provider.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// RedirectUrl is where the provider sends the user back with an
	// authorization code.
	RedirectUrl string

	// DiscoveryUrl is the provider's openid-configuration URL.
	DiscoveryUrl string

	// JWKSUrl is where the provider publishes its signing keys.
	JWKSUrl string

	// SecretJWKS is the relying party's private JWKS document. It holds the
	// keys used to sign client assertions and session tokens and to decrypt
	// id_tokens.
	SecretJWKS []byte

	// PublicJWKS is the relying party's public JWKS document, as published to
	// the provider.
	PublicJWKS []byte

	// Variant selects the individual or business flavour of the provider.
	Variant Variant

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string
}

// NewConfig composes a new config for a relying party. The variant defaults
// to Singpass.
//
// Supported options:
//   - WithVariant
//   - WithProviderCA
func NewConfig(discoveryUrl, jwksUrl, clientId, redirectUrl string, secretJWKS, publicJWKS []byte, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientId:     clientId,
		RedirectUrl:  redirectUrl,
		DiscoveryUrl: discoveryUrl,
		JWKSUrl:      jwksUrl,
		SecretJWKS:   secretJWKS,
		PublicJWKS:   publicJWKS,
		Variant:      opts.withVariant,
		ProviderCA:   opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the config. It doesn't parse the key sets or contact the
// provider; that happens in NewClient.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectUrl == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	}
	urls := []struct{ name, raw string }{
		{"discovery", c.DiscoveryUrl},
		{"jwks", c.JWKSUrl},
	}
	for _, u := range urls {
		if err := validateHttpUrl(u.raw); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s URL: %w", u.name, err))
		}
	}
	if len(c.SecretJWKS) == 0 {
		result = multierror.Append(result, fmt.Errorf("secret JWKS is empty: %w", ErrInvalidParameter))
	}
	if len(c.PublicJWKS) == 0 {
		result = multierror.Append(result, fmt.Errorf("public JWKS is empty: %w", ErrInvalidParameter))
	}
	if err := c.Variant.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validateHttpUrl(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty: %w", ErrInvalidParameter)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q is invalid: %w: %w", raw, ErrInvalidParameter, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%q scheme is not http or https: %w", raw, ErrInvalidParameter)
	}
	return nil
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// configOptions is the set of available options
type configOptions struct {
	withVariant    Variant
	withProviderCA string
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withVariant: Singpass,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVariant provides an optional variant for the config
func WithVariant(v Variant) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withVariant = v
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}
