// Package httpgateway talks to the session backend over HTTP with cookie credentials.
package httpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
	"golang.org/x/net/publicsuffix"
)

const (
	// RequestIDHeader carries a per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
)

// Config holds the backend endpoints.
type Config struct {
	BaseURL     string
	StatusPath  string
	RefreshPath string
	LoginPath   string
	LogoutPath  string
}

// DefaultConfig returns the endpoint layout of the session backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:3002",
		StatusPath:  "/auth/status",
		RefreshPath: "/auth/refresh",
		LoginPath:   "/auth/google",
		LogoutPath:  "/auth/logout",
	}
}

// Options holds optional dependencies.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client   // its Jar is replaced when nil
	Cookies    []*http.Cookie // seeded into the jar for BaseURL
	Logger     *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithHTTPClient provides a custom client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithCookies seeds credentials, e.g. a session cookie captured from a browser.
func WithCookies(cookies ...*http.Cookie) Option {
	return func(o *Options) { o.Cookies = append(o.Cookies, cookies...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Gateway implements ports.Gateway against the session backend.
type Gateway struct {
	client  *http.Client
	base    *url.URL
	cfg     Config
	timeout time.Duration
	logger  *slog.Logger
}

var _ ports.Gateway = (*Gateway)(nil)

// New constructs a Gateway.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	options := Options{Timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", cfg.BaseURL)
	}
	def := DefaultConfig()
	cfg.StatusPath = firstNonEmpty(cfg.StatusPath, def.StatusPath)
	cfg.RefreshPath = firstNonEmpty(cfg.RefreshPath, def.RefreshPath)
	cfg.LoginPath = firstNonEmpty(cfg.LoginPath, def.LoginPath)
	cfg.LogoutPath = firstNonEmpty(cfg.LogoutPath, def.LogoutPath)

	client := options.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Jar == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, fmt.Errorf("create cookie jar: %w", jarErr)
		}
		client.Jar = jar
	}
	if len(options.Cookies) > 0 {
		client.Jar.SetCookies(base, options.Cookies)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		client:  client,
		base:    base,
		cfg:     cfg,
		timeout: options.Timeout,
		logger:  logger.With("component", "http_gateway"),
	}, nil
}

// Status queries the backend's view of the account.
// 401 reads as unauthenticated; 403 returns ports.ErrForbidden.
func (g *Gateway) Status(ctx context.Context) (domainauth.StatusResponse, error) {
	resp, err := g.do(ctx, http.MethodGet, g.cfg.StatusPath)
	if err != nil {
		return domainauth.StatusResponse{}, err
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return domainauth.StatusResponse{}, ports.ErrForbidden
	case resp.StatusCode == http.StatusUnauthorized:
		return domainauth.StatusResponse{IsAuthenticated: false}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domainauth.StatusResponse{}, fmt.Errorf("%w: status %d", ports.ErrUnexpectedStatus, resp.StatusCode)
	}

	var out domainauth.StatusResponse
	if err := decode(resp.Body, &out); err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

// Refresh asks the backend to reissue the access token.
func (g *Gateway) Refresh(ctx context.Context) (domainauth.RefreshResponse, error) {
	resp, err := g.do(ctx, http.MethodPost, g.cfg.RefreshPath)
	if err != nil {
		return domainauth.RefreshResponse{}, err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domainauth.RefreshResponse{}, fmt.Errorf("%w: status %d", ports.ErrRefreshRejected, resp.StatusCode)
	}

	var out domainauth.RefreshResponse
	if err := decode(resp.Body, &out); err != nil {
		return domainauth.RefreshResponse{}, fmt.Errorf("decode refresh: %w", err)
	}
	if !out.Success || out.AccessToken == "" {
		return out, ports.ErrRefreshRejected
	}
	return out, nil
}

// LoginURL returns the backend's login entry point.
func (g *Gateway) LoginURL(context.Context) (string, error) {
	return g.resolve(g.cfg.LoginPath), nil
}

// LogoutURL returns the backend's logout entry point.
func (g *Gateway) LogoutURL(context.Context) (string, error) {
	return g.resolve(g.cfg.LogoutPath), nil
}

func (g *Gateway) resolve(path string) string {
	u := *g.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String()
}

func (g *Gateway) do(ctx context.Context, method, path string) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	}

	req, err := g.newRequest(ctx, method, path)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := g.send(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The body is read after do returns, so the timeout ends when it is closed.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.resolve(path), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (g *Gateway) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.DebugContext(req.Context(), "request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", req.Header.Get(RequestIDHeader),
			"error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	g.logger.DebugContext(req.Context(), "request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration", time.Since(start))
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func decode(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(v)
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
