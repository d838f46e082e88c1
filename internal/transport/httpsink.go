package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

const defaultSinkTimeout = 10 * time.Second

// HTTPSink POSTs encrypted payloads to a local-network endpoint
type HTTPSink struct {
	url      string
	client   *http.Client
	deviceID string
}

// NewHTTPSink creates a sink for url using client. A nil client gets a
// plain HTTP/2 client with the system roots.
func NewHTTPSink(url, deviceID string, client *http.Client) *HTTPSink {
	if client == nil {
		client = NewHTTP2Client(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return &HTTPSink{url: url, client: client, deviceID: deviceID}
}

// Deliver POSTs payload as application/octet-stream. Any non-2xx status is an error.
func (s *HTTPSink) Deliver(ctx context.Context, payload []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSinkTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.deviceID != "" {
		req.Header.Set("X-Device-ID", s.deviceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// NewHTTP2Client returns an HTTP/2-only client using tlsConfig
func NewHTTP2Client(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Transport: &http2.Transport{TLSClientConfig: tlsConfig},
		Timeout:   defaultSinkTimeout,
	}
}

// BuildMTLSClient creates an HTTP/2 client that authenticates with a client
// certificate and trusts only the given CA.
func BuildMTLSClient(certPath, keyPath, caPath string) (*http.Client, error) {
	if certPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if caPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return NewHTTP2Client(&tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}), nil
}
