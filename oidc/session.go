// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// supportedSigningAlgs are the algorithms accepted on signed tokens.
var supportedSigningAlgs = []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512}

// Expiry is when a session token expires: either a duration after it is
// issued or an absolute time.
type Expiry struct {
	in time.Duration
	at time.Time
}

// ExpiresIn returns an expiry d after the token is issued.
func ExpiresIn(d time.Duration) Expiry {
	return Expiry{in: d}
}

// ExpiresAt returns an expiry at t.
func ExpiresAt(t time.Time) Expiry {
	return Expiry{at: t}
}

// ParseExpiry parses a relative duration such as "30m", "12h" or "7d", or a
// number which is taken as an absolute time in seconds since the epoch.
func ParseExpiry(s string) (Expiry, error) {
	const op = "ParseExpiry"
	s = strings.TrimSpace(s)
	if s == "" {
		return Expiry{}, fmt.Errorf("%s: expiry is empty: %w", op, ErrInvalidParameter)
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ExpiresAt(time.Unix(epoch, 0)), nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return Expiry{}, fmt.Errorf("%s: invalid day count %q: %w", op, s, ErrInvalidParameter)
		}
		return ExpiresIn(time.Duration(n) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Expiry{}, fmt.Errorf("%s: %q: %w: %w", op, s, ErrInvalidParameter, err)
	}
	if d <= 0 {
		return Expiry{}, fmt.Errorf("%s: %q is not positive: %w", op, s, ErrInvalidParameter)
	}
	return ExpiresIn(d), nil
}

// Time returns the expiry time of a token issued at issuedAt.
func (e Expiry) Time(issuedAt time.Time) (time.Time, error) {
	const op = "Expiry.Time"
	switch {
	case !e.at.IsZero():
		return e.at, nil
	case e.in > 0:
		return issuedAt.Add(e.in), nil
	default:
		return time.Time{}, fmt.Errorf("%s: expiry is not set: %w", op, ErrInvalidParameter)
	}
}

// SessionIssuer signs and verifies the relying party's own session tokens.
type SessionIssuer struct {
	secret *KeySet
	public *KeySet
	now    func() time.Time
}

// NewSessionIssuer creates an issuer that signs with the secret keys and
// verifies with the public keys.
//
// Supported options:
//   - WithNow
func NewSessionIssuer(secret, public *KeySet, opt ...Option) (*SessionIssuer, error) {
	const op = "NewSessionIssuer"
	switch {
	case secret.Len() == 0:
		return nil, fmt.Errorf("%s: secret key set is empty: %w", op, ErrInvalidParameter)
	case public.Len() == 0:
		return nil, fmt.Errorf("%s: public key set is empty: %w", op, ErrInvalidParameter)
	}
	opts := getSessionOpts(opt...)
	return &SessionIssuer{
		secret: secret,
		public: public,
		now:    opts.withNowFunc,
	}, nil
}

// SigningKey returns the first private key with use "sig".
func (s *SessionIssuer) SigningKey() (*KeyHandle, error) {
	const op = "SessionIssuer.SigningKey"
	k, ok := s.secret.FirstSigningKey()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSigningKey)
	}
	return k, nil
}

// CreateToken signs payload with iat and exp claims added. The header carries
// typ JWT, the key's alg and its kid.
func (s *SessionIssuer) CreateToken(payload map[string]interface{}, exp Expiry) (string, error) {
	const op = "SessionIssuer.CreateToken"
	key, err := s.SigningKey()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	expiresAt, err := exp.Time(now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	claims := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(expiresAt)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(key.Algorithm), Key: key.Private},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign token: %w", op, err)
	}
	return token, nil
}

// VerifyToken verifies a token created by CreateToken against the public key
// with the token's kid and returns its claims.
func (s *SessionIssuer) VerifyToken(token string) (map[string]interface{}, error) {
	const op = "SessionIssuer.VerifyToken"
	tok, err := jwt.ParseSigned(token, supportedSigningAlgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSessionToken, err)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%s: expected one signature: %w", op, ErrInvalidSessionToken)
	}
	key, ok := s.public.FirstByKeyID(tok.Headers[0].KeyID)
	if !ok {
		return nil, fmt.Errorf("%s: kid %q: %w", op, tok.Headers[0].KeyID, ErrNoVerificationKey)
	}
	var (
		std     jwt.Claims
		payload map[string]interface{}
	)
	if err := tok.Claims(key.Public, &std, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: s.now()}, 0); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSessionToken, err)
	}
	return payload, nil
}

// SessionPayload is the payload of the session token issued after a login.
type SessionPayload struct {
	// UserName is the individual's id, or the entity id for a business login.
	UserName string `json:"userName"`
	// UserInfo is the individual's id for a business login.
	UserInfo   string `json:"userInfo,omitempty"`
	RememberMe bool   `json:"rememberMe"`
}

// CreateSessionToken issues a session token for the identity.
func (s *SessionIssuer) CreateSessionToken(id *Identity, rememberMe bool, exp Expiry) (string, error) {
	const op = "SessionIssuer.CreateSessionToken"
	if id == nil {
		return "", fmt.Errorf("%s: identity is nil: %w", op, ErrNilParameter)
	}
	p := SessionPayload{UserName: id.ID, RememberMe: rememberMe}
	if id.EntityID != "" {
		p.UserName, p.UserInfo = id.EntityID, id.ID
	}
	payload := map[string]interface{}{
		"userName":   p.UserName,
		"rememberMe": p.RememberMe,
	}
	if p.UserInfo != "" {
		payload["userInfo"] = p.UserInfo
	}
	token, err := s.CreateToken(payload, exp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// VerifySessionToken verifies a token from CreateSessionToken and decodes
// its payload.
func (s *SessionIssuer) VerifySessionToken(token string) (*SessionPayload, error) {
	const op = "SessionIssuer.VerifySessionToken"
	claims, err := s.VerifyToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSessionPayload, err)
	}
	var p SessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSessionPayload, err)
	}
	if p.UserName == "" {
		return nil, fmt.Errorf("%s: userName is missing: %w", op, ErrInvalidSessionPayload)
	}
	return &p, nil
}

type sessionOptions struct {
	withNowFunc func() time.Time
}

func sessionDefaults() sessionOptions {
	return sessionOptions{withNowFunc: time.Now}
}

func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}
