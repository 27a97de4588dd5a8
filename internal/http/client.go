// Package http builds a connection-pool-tuned *http.Client for outbound HTTP
// callers. The database control adapter uses it; the S3 and Azure
// object-store backends use their SDKs' default HTTP clients.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// NewTunedClient builds an HTTP client with connection pooling and HTTP/2
// settings suited to repeated large-file transfers: a large, per-host idle
// connection pool so repeated Put/Get calls reuse TLS sessions instead of
// renegotiating them, and no overall client timeout since callers set their
// own per-request deadlines via context.
func NewTunedClient() *nethttp.Client {
	tr := &nethttp.Transport{
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   60 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("SIDECAR_DISABLE_HTTP2") == "true" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return &nethttp.Client{Transport: tr, Timeout: 0}
}
