// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/cap-ndi/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// List of required configuration environment variables
const (
	clientID     = "NDI_CLIENT_ID"
	discoveryURL = "NDI_DISCOVERY_URL"
	jwksURL      = "NDI_JWKS_URL"
	secretJWKS   = "NDI_SECRET_JWKS_FILE"
	publicJWKS   = "NDI_PUBLIC_JWKS_FILE"
	serviceID    = "NDI_SERVICE_ID"
	port         = "NDI_PORT"
	attemptExp   = "attemptExp"
)

func envConfig() (map[string]interface{}, error) {
	const op = "envConfig"
	env := map[string]interface{}{
		clientID:     os.Getenv(clientID),
		discoveryURL: os.Getenv(discoveryURL),
		jwksURL:      os.Getenv(jwksURL),
		secretJWKS:   os.Getenv(secretJWKS),
		publicJWKS:   os.Getenv(publicJWKS),
		serviceID:    os.Getenv(serviceID),
		port:         os.Getenv(port),
		attemptExp:   time.Duration(5 * time.Minute),
	}
	for k, v := range env {
		switch t := v.(type) {
		case string:
			if t == "" {
				return nil, fmt.Errorf("%s: %s is empty", op, k)
			}
		case time.Duration:
			if t == 0 {
				return nil, fmt.Errorf("%s: %s is empty", op, k)
			}
		default:
			return nil, fmt.Errorf("%s: %s is an unhandled type %t", op, k, t)
		}
	}
	return env, nil
}

func main() {
	variantName := flag.String("variant", oidc.Singpass.Name, "provider variant: singpass or corppass")
	expiry := flag.String("session-expiry", "12h", "session token expiry: a duration, a number of days (7d) or an epoch time")
	rememberMe := flag.Bool("remember-me", false, "set rememberMe in the session token")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := hclog.Info
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "ndi-cli",
		Level: level,
	})

	env, err := envConfig()
	if err != nil {
		logger.Error("invalid environment", "error", err)
		return
	}
	variant, err := oidc.VariantByName(*variantName)
	if err != nil {
		logger.Error("invalid variant", "error", err)
		return
	}
	exp, err := oidc.ParseExpiry(*expiry)
	if err != nil {
		logger.Error("invalid session expiry", "error", err)
		return
	}
	secret, err := oidc.ReadKeySetFile(env[secretJWKS].(string))
	if err != nil {
		logger.Error("unable to read secret jwks", "error", err)
		return
	}
	public, err := oidc.ReadKeySetFile(env[publicJWKS].(string))
	if err != nil {
		logger.Error("unable to read public jwks", "error", err)
		return
	}

	// handle ctrl-c while waiting for the callback
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	redirectURL := fmt.Sprintf("http://localhost:%s/callback", env[port].(string))
	pc, err := oidc.NewConfig(
		env[discoveryURL].(string),
		env[jwksURL].(string),
		env[clientID].(string),
		redirectURL,
		secret,
		public,
		oidc.WithVariant(variant),
	)
	if err != nil {
		logger.Error("invalid config", "error", err)
		return
	}

	reg := prometheus.NewRegistry()
	c, err := oidc.NewClient(pc, oidc.WithLogger(logger), oidc.WithRegisterer(reg))
	if err != nil {
		logger.Error("unable to create client", "error", err)
		return
	}
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), env[attemptExp].(time.Duration))
	defer cancel()

	state, err := oidc.NewID(oidc.WithPrefix("st"))
	if err != nil {
		logger.Error("unable to generate state", "error", err)
		return
	}
	authURL, err := c.AuthURL(ctx, state, env[serviceID].(string))
	if err != nil {
		logger.Error("unable to build auth url", "error", err)
		return
	}

	doneCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", callbackHandler(ctx, c, logger, state, *rememberMe, exp, doneCh))
	mux.HandleFunc("/jwks", jwksHandler(c, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", env[port]))
	if err != nil {
		logger.Error("unable to listen", "error", err)
		return
	}
	defer listener.Close()

	srvCh := make(chan error, 1)
	go func() {
		err := http.Serve(listener, mux)
		if err != nil && err != http.ErrServerClosed {
			srvCh <- err
		}
	}()

	fmt.Printf("Complete the login at:\n\n    %s\n\n", authURL)
	fmt.Printf("The relying party's public keys are served at http://localhost:%s/jwks\n\n", env[port])

	select {
	case err := <-doneCh:
		if err != nil {
			logger.Error("login failed", "error", err)
		}
	case err := <-srvCh:
		logger.Error("server closed", "error", err)
	case <-ctx.Done():
		logger.Error("timed out waiting for the callback", "timeout", env[attemptExp])
	case <-sigintCh:
		logger.Info("interrupted")
	}
}

type loginResult struct {
	Identity     *oidc.Identity `json:"identity"`
	SessionToken string         `json:"session_token"`
}

func callbackHandler(ctx context.Context, c *oidc.Client, logger hclog.Logger, wantState string, rememberMe bool, exp oidc.Expiry, doneCh chan<- error) http.HandlerFunc {
	const op = "callbackHandler"
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if e := q.Get("error"); e != "" {
			err := fmt.Errorf("%s: provider returned %s: %s", op, e, q.Get("error_description"))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			report(doneCh, err)
			return
		}
		if q.Get("state") != wantState {
			err := fmt.Errorf("%s: unexpected state %q", op, q.Get("state"))
			http.Error(w, err.Error(), http.StatusBadRequest)
			report(doneCh, err)
			return
		}

		id, err := c.Authenticate(ctx, q.Get("code"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			report(doneCh, fmt.Errorf("%s: %w", op, err))
			return
		}
		logger.Info("authenticated", "id", id.ID, "entity", id.EntityID)

		token, err := c.Sessions().CreateSessionToken(id, rememberMe, exp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			report(doneCh, fmt.Errorf("%s: %w", op, err))
			return
		}
		out, err := json.MarshalIndent(loginResult{Identity: id, SessionToken: token}, "", "    ")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			report(doneCh, fmt.Errorf("%s: %w", op, err))
			return
		}
		fmt.Println(string(out))
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(out); err != nil {
			logger.Warn("unable to write response", "error", err)
		}
		report(doneCh, nil)
	}
}

// report delivers the first outcome and drops later ones.
func report(doneCh chan<- error, err error) {
	select {
	case doneCh <- err:
	default:
	}
}

func jwksHandler(c *oidc.Client, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		b, err := c.PublicKeySetJSON()
		if err != nil {
			logger.Error("unable to marshal public jwks", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}
}
