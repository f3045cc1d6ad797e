// Package restclient is the resilient HTTP client shared by ticketing-tool
// plugins: per-phase timeouts, a bounded connection pool, bounded retries on
// transient failures and classification of remote errors.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/TicketForge/internal/config"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/resilience"
)

const maxResponseBody = 4 << 20

// Authenticator adds credentials to an outgoing request.
type Authenticator func(r *http.Request)

// BasicAuth authenticates with HTTP basic credentials.
func BasicAuth(username, token string) Authenticator {
	return func(r *http.Request) { r.SetBasicAuth(username, token) }
}

// HeaderAuth authenticates with a static header value.
func HeaderAuth(name, value string) Authenticator {
	return func(r *http.Request) { r.Header.Set(name, value) }
}

// Options configures a Client.
type Options struct {
	Tool           string // telemetry label
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PoolTimeout    time.Duration
	ReadTimeout    time.Duration
	MaxInFlight    int
	Retry          resilience.Policy
	Wait           resilience.WaitFunc // nil uses resilience.Wait
	Headers        http.Header         // sent with every request
	Metrics        ticketplugin.OutboundMetrics
}

// OptionsFromPolicy builds Options from the shared client policy. baseDelay
// is the tool-specific first retry delay.
func OptionsFromPolicy(tool string, cfg ticketplugin.ClientPolicy, baseDelay time.Duration) Options {
	return Options{
		Tool:           tool,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PoolTimeout:    cfg.PoolTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxInFlight:    cfg.MaxInFlight,
		Retry:          resilience.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: baseDelay},
	}
}

func (o *Options) applyDefaults() {
	def := config.Defaults().Client
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PoolTimeout <= 0 {
		o.PoolTimeout = def.PoolTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = def.MaxInFlight
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = def.MaxAttempts
	}
}

// Client talks to one tenant's ticketing tool. Create it per logical
// operation and Close it when done.
type Client struct {
	baseURL   string
	auth      Authenticator
	opts      Options
	transport *http.Transport
	http      *http.Client
	sem       *semaphore.Weighted
	retrier   *resilience.Retrier
}

// New creates a Client for baseURL. auth may be nil.
func New(baseURL string, auth Authenticator, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("restclient: invalid base URL %q", baseURL)
	}
	opts.applyDefaults()

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: opts.ReadTimeout, write: opts.WriteTimeout}, nil
		},
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          opts.MaxInFlight,
		MaxIdleConnsPerHost:   opts.MaxInFlight,
		MaxConnsPerHost:       opts.MaxInFlight,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	c := &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		auth:      auth,
		opts:      opts,
		transport: transport,
		http:      &http.Client{Transport: transport},
		sem:       semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}
	c.retrier = &resilience.Retrier{
		Policy:  opts.Retry,
		Wait:    opts.Wait,
		OnRetry: c.onRetry,
	}
	return c, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Request describes one logical API call.
type Request struct {
	Method string
	Path   string // appended to the base URL
	Query  url.Values
	JSON   any        // encoded as the request body when non-nil
	Form   url.Values // encoded as the request body when non-nil and JSON is nil
	Header http.Header
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do performs req with retries. Errors are classified: *AuthenticationError,
// ErrNotFound, *APIError, *NetworkError, or the context's error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tfotel.StartOutboundSpan(ctx, c.opts.Tool, req.Method, req.Path)
	defer span.End()
	start := time.Now()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	var resp *Response
	err = c.retrier.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := c.attempt(ctx, req, body, contentType)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	if c.opts.Metrics != nil {
		c.opts.Metrics.OutboundDuration(ctx, c.opts.Tool, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.opts.Metrics != nil {
			c.opts.Metrics.OutboundFailure(ctx, c.opts.Tool, errorKind(err))
		}
		return nil, err
	}
	return resp, nil
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// PostJSON performs a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, JSON: in})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// PostForm performs a POST with a form-encoded body and decodes the response into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, contentType string) (*Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.opts.Headers {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.auth != nil {
		c.auth(httpReq)
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.OutboundAttempt(ctx, c.opts.Tool)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, "request", err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, classifyTransport(ctx, "read response", err)
	}
	if err := classifyStatus(res.StatusCode, data); err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// acquire takes a pool slot, waiting at most PoolTimeout.
func (c *Client) acquire(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, c.opts.PoolTimeout)
	defer cancel()
	if err := c.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Op: "acquire connection", Timeout: true, Err: err}
	}
	return nil
}

func (c *Client) onRetry(attempt int, delay time.Duration, err error) {
	slog.Warn("outbound call failed, retrying",
		"tool_type", c.opts.Tool,
		"attempt", attempt,
		"delay", delay,
		"error", err,
	)
	if c.opts.Metrics != nil {
		c.opts.Metrics.OutboundRetry(context.Background(), c.opts.Tool)
	}
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		return b, "application/json", nil
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

// classifyTransport wraps a transport failure. Cancellation of the caller's
// context is returned as is so it is not retried.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var ne net.Error
	timeout := errors.As(err, &ne) && ne.Timeout()
	return &NetworkError{Op: op, Timeout: timeout, Err: err}
}

func errorKind(err error) string {
	var authErr *AuthenticationError
	var apiErr *APIError
	var netErr *NetworkError
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &apiErr):
		return "status"
	default:
		return "other"
	}
}
