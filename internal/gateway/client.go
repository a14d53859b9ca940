// Package gateway is the single outbound HTTP entry point to the HR backend.
//
// Every request carries a bearer token when one is available and an
// X-Request-ID header. A 401 from a call authenticated with the ambient token
// is reported to the registered handler; the caller still receives an error
// matching ErrUnauthenticated.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/hr-portal/internal/obs"
)

const (
	// DefaultTimeout bounds every backend call.
	DefaultTimeout = 15 * time.Second

	maxBodyBytes = 1 << 20
)

// TokenSource supplies the current access token, or "" when signed out.
type TokenSource interface {
	AccessToken() string
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func() string

// AccessToken implements TokenSource.
func (f TokenSourceFunc) AccessToken() string { return f() }

// UnauthenticatedHandler is notified when the ambient token was rejected.
type UnauthenticatedHandler func(ctx context.Context)

type tokenContextKey struct{}

// WithAccessToken binds an explicit token to ctx. It takes precedence over the
// TokenSource and its rejection does not notify the unauthenticated handler.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func accessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok
}

// Client performs backend calls.
type Client struct {
	baseURL           *url.URL
	httpClient        *http.Client
	timeout           time.Duration
	tokens            TokenSource
	onUnauthenticated UnauthenticatedHandler
	newRequestID      func() string
	logger            *slog.Logger
	metrics           *obs.Metrics
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) { c.tokens = tokens }
}

// WithUnauthenticatedHandler registers the 401 signal receiver.
func WithUnauthenticatedHandler(handler UnauthenticatedHandler) Option {
	return func(c *Client) { c.onUnauthenticated = handler }
}

// WithRequestIDGenerator overrides X-Request-ID generation.
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records call counts and latencies.
func WithMetrics(metrics *obs.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base URL must be http or https, got %q", baseURL)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	c := &Client{
		baseURL:      parsed,
		timeout:      DefaultTimeout,
		newRequestID: uuid.NewString,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.logger = c.logger.With("component", "gateway")
	return c, nil
}

// SetTokenSource wires the token source after construction.
func (c *Client) SetTokenSource(tokens TokenSource) { c.tokens = tokens }

// SetUnauthenticatedHandler wires the 401 receiver after construction.
func (c *Client) SetUnauthenticatedHandler(handler UnauthenticatedHandler) {
	c.onUnauthenticated = handler
}

// Login exchanges credentials for a token pair. No bearer token is sent.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	var pair TokenPair
	err := c.do(ctx, call{
		endpoint:  "auth_login",
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      loginRequest{Email: email, Password: password},
		out:       &pair,
		anonymous: true,
	})
	if err != nil {
		return TokenPair{}, err
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("gateway: login response missing tokens")
	}
	return pair, nil
}

// Me fetches the profile of the token holder.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var profile Profile
	if err := c.do(ctx, call{endpoint: "auth_me", method: http.MethodGet, path: "/auth/me", out: &profile}); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// PlatformConfig reads the platform-wide flags, including maintenance mode.
func (c *Client) PlatformConfig(ctx context.Context) (PlatformConfig, error) {
	var cfg PlatformConfig
	if err := c.do(ctx, call{endpoint: "platform_config", method: http.MethodGet, path: "/platform/config", out: &cfg}); err != nil {
		return PlatformConfig{}, err
	}
	return cfg, nil
}

// RegisterCompany creates a company with its administrator account.
func (c *Client) RegisterCompany(ctx context.Context, req RegisterCompanyRequest) error {
	return c.do(ctx, call{
		endpoint:  "company_register",
		method:    http.MethodPost,
		path:      "/company/register",
		body:      req,
		anonymous: true,
	})
}

type call struct {
	endpoint  string
	method    string
	path      string
	body      any
	out       any
	anonymous bool
}

func (c *Client) do(ctx context.Context, op call) (err error) {
	started := time.Now()
	outcome := "ok"
	requestID := c.newRequestID()
	logger := c.logger.With("endpoint", op.endpoint, "request_id", requestID)
	defer func() {
		c.metrics.ObserveGatewayRequest(op.endpoint, outcome, time.Since(started))
	}()

	var body io.Reader
	if op.body != nil {
		payload, marshalErr := json.Marshal(op.body)
		if marshalErr != nil {
			outcome = "encode_error"
			return fmt.Errorf("gateway: encode %s request: %w", op.endpoint, marshalErr)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, op.method, c.baseURL.String()+op.path, body)
	if err != nil {
		outcome = "encode_error"
		return fmt.Errorf("gateway: build %s request: %w", op.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if op.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ambient := false
	if !op.anonymous {
		token, explicit := accessTokenFromContext(ctx)
		if !explicit && c.tokens != nil {
			token = c.tokens.AccessToken()
			ambient = token != ""
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport_error"
		logger.WarnContext(ctx, "backend call failed", "error", err)
		return fmt.Errorf("gateway: %s %s: %w", op.method, op.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		outcome = "transport_error"
		return fmt.Errorf("gateway: read %s response: %w", op.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(op, resp.StatusCode, data)
		outcome = "http_error"
		if resp.StatusCode == http.StatusUnauthorized {
			outcome = "unauthenticated"
			logger.InfoContext(ctx, "backend rejected credentials", "status", resp.StatusCode, "token_present", req.Header.Get("Authorization") != "")
			if ambient && c.onUnauthenticated != nil {
				c.onUnauthenticated(ctx)
			}
		} else {
			logger.WarnContext(ctx, "backend returned error", "status", resp.StatusCode, "message", apiErr.Message)
		}
		return apiErr
	}

	logger.DebugContext(ctx, "backend call completed", "status", resp.StatusCode, "duration", time.Since(started))
	if op.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, op.out); err != nil {
		outcome = "decode_error"
		return fmt.Errorf("gateway: decode %s response: %w", op.endpoint, err)
	}
	return nil
}

func newAPIError(op call, status int, body []byte) *APIError {
	apiErr := &APIError{Method: op.method, Path: op.path, Status: status}
	var payload errorPayload
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = strings.TrimSpace(payload.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Error)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
