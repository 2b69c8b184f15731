// Package transport is the injected capability C3 sits on top of:
// send(request) -> (body_bytes, response_meta), per §6's Transport
// interface. Expressed in Go as an http.RoundTripper plus Close, so
// HTTPTransport (a wrapper around the standard library's http.Transport)
// and test doubles satisfy it; a bare *http.Transport does not, having
// no Close method.
package transport

import (
	"context"
	"net/http"
)

// Transport executes a single HTTP transaction. Injected into the
// client so tests and alternate network stacks can substitute their own
// implementation without touching C3's request/response handling.
type Transport interface {
	RoundTrip(*http.Request) (*http.Response, error)
	Close() error
}

// Config holds pooling/timeout configuration for transport creation.
type Config struct {
	Timeout             int // seconds
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     int // seconds
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             30,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90,
	}
}

// Factory creates a Transport from a Config. Kept as an interface (not
// just NewHTTPTransport) so tests can inject a fake factory into
// components that build their own transport from client config.
type Factory interface {
	CreateTransport(ctx context.Context, config *Config) (Transport, error)
}
