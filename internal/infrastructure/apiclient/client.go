package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// maxResponseSize caps how much of a response body is read (10MB)
	maxResponseSize = 10 * 1024 * 1024

	defaultTimeout    = 30 * time.Second
	defaultRetryAfter = time.Second
	tracerName        = "github.com/erp/syncengine/apiclient"
)

// TokenProvider supplies a fresh access token for each call
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider
type TokenProviderFunc func(ctx context.Context) (string, error)

// AccessToken implements TokenProvider
func (f TokenProviderFunc) AccessToken(ctx context.Context) (string, error) { return f(ctx) }

// Config configures a Client
type Config struct {
	// BaseURL is the API root, e.g. https://1234.suitetalk.api.netsuite.com
	BaseURL string
	// QueryPath is the query-language endpoint
	QueryPath string
	// RecordPath is the prefix of record CRUD endpoints
	RecordPath string
	// AuthHeader carries the token, default Authorization
	AuthHeader string
	// AuthScheme prefixes the token, e.g. Bearer; empty sends the raw token
	AuthScheme string
	// Timeout bounds every single HTTP call
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return integration.NewValidationError("base_url", "is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return integration.NewValidationError("base_url", "must be an absolute URL")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AuthHeader == "" {
		c.AuthHeader = "Authorization"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = "erp-syncengine/1.0"
	}
	return nil
}

// Request is a single API call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON encoded unless it is already []byte
	Body    any
	Cost    int
	Headers map[string]string
}

// Response is a successful API response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is a rate-limited HTTP client bound to one integration
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *RateLimiter
	tokens     TokenProvider
	tracer     trace.Tracer
	recorder   RequestRecorder
	logger     *zap.Logger
}

// RequestRecorder counts API calls by status class
type RequestRecorder interface {
	RecordAPIRequest(ctx context.Context, method, statusClass string)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestRecorder counts every round trip
func WithRequestRecorder(r RequestRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates a client. The limiter is shared by every client of the same
// integration.
func New(cfg Config, limiter *RateLimiter, tokens TokenProvider, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		return nil, errors.New("apiclient: rate limiter is required")
	}
	if tokens == nil {
		return nil, errors.New("apiclient: token provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    limiter,
		tokens:     tokens,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Limiter returns the client's rate limiter
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// Do performs req under the rate limiter. Non-2xx responses are classified
// into the integration error taxonomy.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Cost == 0 {
		req.Cost = CostRecord
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	var resp *Response
	err := c.limiter.Do(ctx, req.Cost, func(ctx context.Context) error {
		var err error
		resp, err = c.roundTrip(ctx, req)
		return err
	})
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "apiclient "+req.Method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.Int("apiclient.cost", req.Cost),
		))
	defer span.End()

	resp, err := c.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	}
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(ctx, req.Method, statusClass(resp, err))
	}
	return resp, err
}

// statusClass buckets a round trip outcome as 2xx, 4xx, 429, 5xx or error
func statusClass(resp *Response, err error) string {
	if err == nil && resp != nil {
		return fmt.Sprintf("%dxx", resp.Status/100)
	}
	var rl *integration.RateLimitError
	var ae *integration.AuthenticationError
	var ie *integration.IntegrationError
	switch {
	case errors.As(err, &rl):
		return "429"
	case errors.As(err, &ae):
		return "4xx"
	case errors.As(err, &ie) && ie.Status >= 500:
		return "5xx"
	case errors.As(err, &ie) && ie.Status >= 400:
		return "4xx"
	default:
		return "error"
	}
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthScheme != "" {
		httpReq.Header.Set(c.cfg.AuthHeader, c.cfg.AuthScheme+" "+token)
	} else {
		httpReq.Header.Set(c.cfg.AuthHeader, token)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	c.logger.Debug("Platform API call",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if err := Classify(httpResp.StatusCode, httpResp.Header, raw); err != nil {
		return nil, err
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: raw}, nil
}

// transportError maps a failed round trip. Cancellation of the caller's
// context is returned as-is; a per-call timeout or connection failure is a
// retryable IntegrationError.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &integration.IntegrationError{Code: "TIMEOUT", Message: "request timed out", Retryable: true, Err: err}
	}
	return &integration.IntegrationError{Code: "NETWORK", Message: err.Error(), Retryable: true, Err: err}
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

type errorBody struct {
	Code         string          `json:"code"`
	ErrorCode    string          `json:"o:errorCode"`
	Message      string          `json:"message"`
	Title        string          `json:"title"`
	Detail       string          `json:"detail"`
	Errors       json.RawMessage `json:"errors"`
	ErrorDetails []struct {
		Detail    string `json:"detail"`
		ErrorCode string `json:"o:errorCode"`
	} `json:"o:errorDetails"`
}

// Classify maps a response status to the error taxonomy; 2xx returns nil.
// Bodies that are not JSON are still classified by status.
func Classify(status int, header http.Header, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	code, message := parseErrorBody(status, body)

	switch {
	case status == http.StatusTooManyRequests:
		return &integration.RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()), Message: message}
	case status == http.StatusUnauthorized:
		return &integration.AuthenticationError{Reason: message, SessionExpired: true}
	case status == http.StatusForbidden:
		return &integration.AuthenticationError{Reason: message}
	case status >= 500:
		return &integration.IntegrationError{Code: code, Message: message, Status: status, Retryable: true}
	default:
		return &integration.IntegrationError{Code: code, Message: message, Status: status}
	}
}

func parseErrorBody(status int, body []byte) (code, message string) {
	code = fmt.Sprintf("HTTP_%d", status)
	message = http.StatusText(status)

	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			if len(text) > 200 {
				text = text[:200]
			}
			message = text
		}
		return code, message
	}

	for _, c := range []string{eb.ErrorCode, eb.Code} {
		if c != "" {
			code = c
			break
		}
	}
	for _, d := range eb.ErrorDetails {
		if d.ErrorCode != "" && code == fmt.Sprintf("HTTP_%d", status) {
			code = d.ErrorCode
		}
		if d.Detail != "" {
			return code, d.Detail
		}
	}
	for _, m := range []string{eb.Detail, eb.Message, eb.Title} {
		if m != "" {
			return code, m
		}
	}
	if len(eb.Errors) > 0 {
		var s string
		if json.Unmarshal(eb.Errors, &s) == nil && s != "" {
			return code, s
		}
		return code, string(eb.Errors)
	}
	return code, message
}

// parseRetryAfter accepts delta seconds (integer or decimal) or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
