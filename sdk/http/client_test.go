// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"bytes"
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	var caPEM bytes.Buffer
	require.NoError(t, pem.Encode(&caPEM, &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	t.Run("system roots", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient("")
		require.NoError(err)
		assert.Zero(c.Timeout)
		tr, ok := c.Transport.(*http.Transport)
		require.True(ok)
		assert.Nil(tr.TLSClientConfig)
	})
	t.Run("ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewClient(caPEM.String())
		require.NoError(err)
		tr, ok := c.Transport.(*http.Transport)
		require.True(ok)
		assert.Equal(uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)

		resp, err := c.Get(srv.URL)
		require.NoError(err)
		resp.Body.Close()
		assert.Equal(http.StatusNoContent, resp.StatusCode)
	})
	t.Run("invalid ca", func(t *testing.T) {
		_, err := NewClient("not a pem")
		assert.ErrorIs(t, err, ErrInvalidCertificatePem)
	})
}
