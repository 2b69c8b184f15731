// Package client is C3: prepare -> dedup-check -> render -> send ->
// interpret, translating transport errors into the §7 error taxonomy
// and invoking did-send/did-receive hooks exactly once per
// non-deduplicated request. Grounded on the teacher's http/client.go
// retry-loop shape, generalized from a fixed Request struct to
// requestconfig.RequestConfig and backed by cenkalti/backoff instead of
// the teacher's hand-rolled calculateBackoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/evalgo/entitysync/corelog"
	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/dedup"
	"github.com/evalgo/entitysync/requestconfig"
	"github.com/evalgo/entitysync/transport"
)

// Response is the buffered form of §6's response_meta: status, headers,
// and body. The MIME type is not broken out; it stays in Headers.
type Response struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	NotModified bool // 304 with empty body
}

// Hooks are the prepare/did-send/did-receive extension points named by
// §4.3. All are optional.
type Hooks struct {
	// Prepare returns a (possibly modified) config — host defaults, auth
	// headers. Called exactly once per Send, even for duplicates.
	Prepare func(ctx context.Context, cfg requestconfig.RequestConfig) requestconfig.RequestConfig
	// DidSend fires once per non-deduplicated request, just before the
	// transport round trip.
	DidSend func(cfg requestconfig.RequestConfig)
	// DidReceive fires once per non-deduplicated request, after the
	// response has been interpreted (whether success or error).
	DidReceive func(cfg requestconfig.RequestConfig, resp *Response, err error)
}

// Client implements the C3 send pipeline.
type Client struct {
	Transport transport.Transport
	Dedup     *dedup.Deduplicator
	Hooks     Hooks
	Logger    *corelog.ContextLogger

	// RetryNetworkErrors bounds how many times Send retries a GET/HEAD
	// request that fails with a retryable network error before surfacing
	// it. This is distinct from the queue processor's (C6) retry policy,
	// which governs the full request lifecycle for queued requests; this
	// is a best-effort smoothing of transient dial failures for direct,
	// non-queued sends. Zero disables it.
	RetryNetworkErrors uint64
}

// New constructs a Client scoped to the "client" logging component.
func New(t transport.Transport, d *dedup.Deduplicator, hooks Hooks) *Client {
	return &Client{
		Transport: t,
		Dedup:     d,
		Hooks:     hooks,
		Logger:    corelog.Scoped("client"),
	}
}

// Send implements §4.3's numbered send operation.
func (c *Client) Send(ctx context.Context, cfg requestconfig.RequestConfig) (*Response, error) {
	if c.Hooks.Prepare != nil {
		cfg = c.Hooks.Prepare(ctx, cfg)
	}

	key := cfg.Key()
	outcome := c.Dedup.Begin(key, cfg.Deduplicate)
	if !outcome.Primary {
		result, err := dedup.Await(outcome.Waiter)
		if err != nil {
			return nil, err
		}
		resp, _ := result.Value.(*Response)
		return resp, result.Err
	}

	resp, err := c.sendOnce(ctx, cfg)

	if c.Hooks.DidReceive != nil {
		c.Hooks.DidReceive(cfg, resp, err)
	}
	c.Dedup.Complete(key, dedup.Result{Value: resp, Err: err})
	return resp, err
}

func (c *Client) sendOnce(ctx context.Context, cfg requestconfig.RequestConfig) (*Response, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	httpReq, err := c.render(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if c.Hooks.DidSend != nil {
		c.Hooks.DidSend(cfg)
	}

	httpResp, err := c.roundTrip(ctx, cfg, httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, coreerr.Network(coreerr.NetBadServerResponse, err)
	}

	return c.interpret(httpResp, body)
}

func (c *Client) render(ctx context.Context, cfg requestconfig.RequestConfig) (*http.Request, error) {
	host := ""
	if cfg.Host != nil {
		host = *cfg.Host
	}
	url, err := requestconfig.RenderURL(host, cfg.Path, cfg.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if !cfg.Body.IsEmpty() {
		if len(cfg.Body.Raw) > 0 {
			body = bytes.NewReader(cfg.Body.Raw)
		} else {
			encoded, err := requestconfig.EncodeFormBody(cfg.Body.Form)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(encoded)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(cfg.Method), url, body)
	if err != nil {
		return nil, coreerr.New(coreerr.KindURLConstruction, err.Error())
	}
	for _, h := range cfg.Headers {
		httpReq.Header.Set(h.Key, h.Value)
	}
	if len(cfg.Body.Form) > 0 && len(cfg.Body.Raw) == 0 {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return httpReq, nil
}

func (c *Client) roundTrip(ctx context.Context, cfg requestconfig.RequestConfig, req *http.Request) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		resp, err := c.Transport.RoundTrip(req)
		if err != nil {
			return nil, mapTransportError(err)
		}
		return resp, nil
	}

	if c.RetryNetworkErrors == 0 || (cfg.Method != requestconfig.GET && cfg.Method != requestconfig.HEAD) {
		return attempt()
	}

	var resp *http.Response
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.RetryNetworkErrors)
	err := backoff.Retry(func() error {
		var attemptErr error
		resp, attemptErr = attempt()
		if attemptErr == nil {
			return nil
		}
		if kind, ok := coreerr.KindOf(attemptErr); ok && kind == coreerr.KindNetwork {
			return attemptErr
		}
		return backoff.Permanent(attemptErr)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}
	return resp, nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return coreerr.Network(coreerr.NetCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return coreerr.Network(coreerr.NetTimedOut, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return coreerr.Network(coreerr.NetTimedOut, err)
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		if dns.IsNotFound {
			return coreerr.Network(coreerr.NetCannotFindHost, err)
		}
		return coreerr.Network(coreerr.NetDNSLookupFailed, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return coreerr.Network(coreerr.NetCannotConnectHost, err)
		}
		return coreerr.Network(coreerr.NetConnectionLost, err)
	}
	return coreerr.Network(coreerr.NetOther, err)
}

func (c *Client) interpret(resp *http.Response, body []byte) (*Response, error) {
	status := resp.StatusCode
	if (status >= 200 && status < 300) || status == http.StatusNotModified {
		return &Response{
			StatusCode:  status,
			Headers:     resp.Header,
			Body:        body,
			NotModified: status == http.StatusNotModified && len(body) == 0,
		}, nil
	}
	return &Response{StatusCode: status, Headers: resp.Header, Body: body}, coreerr.API(status, body, body)
}

// DecodeJSON implements §4.3's typed-model overload: decode JSON from
// the body, surfacing failures as deserialization(inner). Of strategy,
// only DisallowUnknownFields is applied; TimeLayout is not consulted,
// and keys and dates follow encoding/json's default rules.
func DecodeJSON[T any](resp *Response, strategy CoderStrategy) (T, error) {
	var out T
	if resp == nil {
		return out, coreerr.Logical("cannot decode a nil response")
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	if strategy.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return out, coreerr.Deserialization(err)
	}
	return out, nil
}

// CoderStrategy configures the injected coder the spec's typed-model
// overload references. DecodeJSON reads only DisallowUnknownFields.
type CoderStrategy struct {
	DisallowUnknownFields bool
	TimeLayout            string // "" means time.RFC3339 (see layout); not read by DecodeJSON
}

func (s CoderStrategy) layout() string {
	if s.TimeLayout == "" {
		return time.RFC3339
	}
	return s.TimeLayout
}
