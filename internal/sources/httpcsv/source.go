// Package httpcsv reads comma-separated exports over HTTP.
package httpcsv

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.trai.ch/zerr"

	"presupuesto/internal/core"
	"presupuesto/internal/sources"
)

// Bodies larger than this are rejected as transport failures.
const maxBodyBytes = 256 << 20

var _ sources.Source = (*Source)(nil)

type Source struct {
	name     string
	url      string
	encoding Encoding
	client   *http.Client
	timeout  time.Duration
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client. Sources built by the same factory share one.
func WithClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout bounds a single Fetch. Zero keeps the client's own timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

// New returns a source for url. encoding accepts the values of ParseEncoding.
func New(name, url, encoding string, opts ...Option) (*Source, error) {
	enc, err := ParseEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	s := &Source{
		name:     name,
		url:      url,
		encoding: enc,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = NewHTTPClient()
	}
	return s, nil
}

func (s *Source) Name() string       { return s.name }
func (s *Source) Location() string   { return s.url }
func (s *Source) Encoding() Encoding { return s.encoding }

// Fetch downloads and decodes the export. The charset advertised by the
// server is ignored; the configured encoding decides.
func (s *Source) Fetch(ctx context.Context) ([]core.RawRow, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, core.Failure(core.ErrTransport, s.name, err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", "presupuesto/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.Failure(core.ErrTransport, s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := core.Failure(core.ErrTransport, s.name, fmt.Errorf("unexpected status %s", resp.Status))
		return nil, zerr.With(err, "status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, core.Failure(core.ErrTransport, s.name, fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxBodyBytes {
		return nil, core.Failure(core.ErrTransport, s.name, fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}

	rows, err := Decode(body, s.encoding)
	if err != nil {
		return nil, zerr.With(core.Failure(core.ErrDecode, s.name, err), "encoding", string(s.encoding))
	}
	return rows, nil
}

// NewHTTPClient returns a client with connection pooling and transport-level
// timeouts. The per-fetch deadline comes from the request context.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: transport}
}
