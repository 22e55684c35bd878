package cmd

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// quicDialTimeout bounds how long a QUIC handshake is allowed to hang before
// falling back to the plain HTTP transport. Most origins have no UDP
// listener on the HTTPS port at all, so without a short timeout here the
// fallback would only kick in after the library's much longer default
// handshake-idle timeout.
const quicDialTimeout = 2 * time.Second

// fallbackRoundTripper tries primary first and, only on a transport-level
// error (no response at all — a failed QUIC dial, an origin with no HTTP/3
// listener), retries the same request over fallback. A normal HTTP error
// status from primary is still a response, so it's returned as-is rather
// than retried.
type fallbackRoundTripper struct {
	primary, fallback http.RoundTripper
}

func (f *fallbackRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := f.primary.RoundTrip(req)
	if err != nil {
		return f.fallback.RoundTrip(req)
	}
	return resp, nil
}

// newRemoteHTTPClient builds the HTTP client the remote source issues
// byte-range requests over. It tries HTTP/3 first and falls back to the
// stdlib's default HTTP/1.1-or-2 transport when the origin doesn't speak
// QUIC — most origins won't advertise h3, so this keeps plain HTTPS sources
// working without a flag to opt in or out of HTTP/3.
func newRemoteHTTPClient() *http.Client {
	h3 := &http3.Transport{
		TLSClientConfig: &tls.Config{NextProtos: []string{"h3"}},
		QUICConfig:      &quic.Config{HandshakeIdleTimeout: quicDialTimeout},
	}
	return &http.Client{
		Transport: &fallbackRoundTripper{
			primary:  h3,
			fallback: http.DefaultTransport,
		},
	}
}
