package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/require"

	"github.com/lumenplay/engine/certs"
)

// tlsFallbackRoundTripper mirrors cmd/playerctl/cmd's production transport:
// try HTTP/3 first, fall back to a plain HTTP/1.1-or-2 transport on any
// transport-level error. The fixture server here only speaks HTTPS, so this
// test exercises the fallback leg specifically.
type tlsFallbackRoundTripper struct {
	primary, fallback http.RoundTripper
}

func (f *tlsFallbackRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := f.primary.RoundTrip(req)
	if err != nil {
		return f.fallback.RoundTrip(req)
	}
	return resp, nil
}

// TestRemoteOverSelfSignedHTTP3Fixture proves out the self-signed cert
// (certs.Generate) and HTTP/3-with-fallback transport end to end against
// Remote: the fixture server only speaks HTTPS/1.1, so the http3.Transport
// leg is expected to fail its QUIC dial and the fallback leg serves the
// byte-range reads Remote issues.
func TestRemoteOverSelfSignedHTTP3Fixture(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i)
	}

	cert, err := certs.Generate(24 * time.Hour)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "fixture.bin", time.Time{}, bytes.NewReader(body))
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}
	srv.StartTLS()
	defer srv.Close()

	rootCert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(rootCert)
	tlsConfig := &tls.Config{RootCAs: pool, NextProtos: []string{"h3"}}

	client := &http.Client{
		Transport: &tlsFallbackRoundTripper{
			primary:  &http3.Transport{TLSClientConfig: tlsConfig, QUICConfig: &quic.Config{HandshakeIdleTimeout: 300 * time.Millisecond}},
			fallback: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}

	ctx := context.Background()
	remote, err := NewRemote(ctx, srv.URL, client, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(len(body)), remote.GetSize())

	got, err := remote.Read(ctx, 100, 50)
	require.NoError(t, err)
	require.Equal(t, body[100:150], got)
}
