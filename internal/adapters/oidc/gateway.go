package oidc

// Package oidc provides a Gateway that talks directly to an OpenID Connect provider.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
	"golang.org/x/oauth2"
)

const (
	// DefaultBanExpression reads a top-level boolean "banned" claim.
	DefaultBanExpression = "banned"

	pendingLoginTTL = 10 * time.Minute
	maxBodyBytes    = 1 << 20
)

// GatewayConfig holds configuration for the OIDC gateway.
type GatewayConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// LogoutURL overrides the discovered end_session_endpoint.
	LogoutURL string
	// BanExpression is a JMESPath expression evaluated over the userinfo claims;
	// a truthy result marks the account as banned.
	BanExpression string
	HTTPClient    *http.Client // Optional, defaults to a client with a 30s timeout
	Logger        *slog.Logger
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

type pendingLogin struct {
	nonce   string
	expires time.Time
}

// Gateway implements ports.Gateway using OIDC/OAuth2.
// It holds the tokens obtained by CompleteLogin in memory.
type Gateway struct {
	config     *oauth2.Config
	logoutURL  string
	banExpr    string
	httpClient *http.Client
	logger     *slog.Logger

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	mu      sync.Mutex
	token   *oauth2.Token
	pending map[string]pendingLogin
}

var _ ports.Gateway = (*Gateway)(nil)

// NewGateway creates a new OIDC gateway, fetching the discovery document once.
func NewGateway(ctx context.Context, config GatewayConfig) (*Gateway, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	banExpr := strings.TrimSpace(config.BanExpression)
	if banExpr == "" {
		banExpr = DefaultBanExpression
	}
	if _, err := jmespath.Compile(banExpr); err != nil {
		return nil, fmt.Errorf("compile ban expression: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	logoutURL := config.LogoutURL
	if logoutURL == "" {
		var extra struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if claimsErr := op.Claims(&extra); claimsErr == nil {
			logoutURL = extra.EndSessionEndpoint
		}
	}

	return &Gateway{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       strings.Fields(config.Scope),
			Endpoint:     op.Endpoint(),
		},
		logoutURL:    logoutURL,
		banExpr:      banExpr,
		httpClient:   httpClient,
		logger:       logger.With("component", "oidc_gateway"),
		oidcProvider: op,
		verifier:     op.Verifier(&gooidc.Config{ClientID: config.ClientID}),
		pending:      make(map[string]pendingLogin),
	}, nil
}

// LoginURL builds an authorization URL with fresh state and nonce.
func (g *Gateway) LoginURL(_ context.Context) (string, error) {
	state, err := generateRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	g.mu.Lock()
	now := time.Now()
	for k, p := range g.pending {
		if now.After(p.expires) {
			delete(g.pending, k)
		}
	}
	g.pending[state] = pendingLogin{nonce: nonce, expires: now.Add(pendingLoginTTL)}
	g.mu.Unlock()

	return g.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// CompleteLogin exchanges the callback code for tokens. state must come from
// a previous LoginURL call; the ID token nonce is verified when openid is requested.
func (g *Gateway) CompleteLogin(ctx context.Context, code, state string) error {
	if code == "" {
		return errors.New("authorization code is required")
	}
	if state == "" {
		return errors.New("state is required")
	}

	g.mu.Lock()
	p, ok := g.pending[state]
	delete(g.pending, state)
	g.mu.Unlock()
	if !ok || time.Now().After(p.expires) {
		return errors.New("unknown or expired state")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code for token: %w", err)
	}
	if g.hasOpenIDScope() {
		if err := g.verifyIDToken(ctx, token, p.nonce); err != nil {
			return fmt.Errorf("verify id_token: %w", err)
		}
	}

	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	return nil
}

// Status fetches the userinfo claims with the held access token.
func (g *Gateway) Status(ctx context.Context) (domainauth.StatusResponse, error) {
	tok := g.currentToken()
	if tok == nil || tok.AccessToken == "" {
		return domainauth.StatusResponse{IsAuthenticated: false}, nil
	}

	endpoint := g.oidcProvider.UserInfoEndpoint()
	if endpoint == "" {
		return domainauth.StatusResponse{}, errors.New("provider has no userinfo endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("build userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("fetch user info: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return domainauth.StatusResponse{}, ports.ErrForbidden
	case resp.StatusCode == http.StatusUnauthorized:
		return domainauth.StatusResponse{IsAuthenticated: false}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domainauth.StatusResponse{}, fmt.Errorf("%w: userinfo status %d", ports.ErrUnexpectedStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("read user info: %w", err)
	}
	return g.statusFromClaims(raw, tok.AccessToken)
}

func (g *Gateway) statusFromClaims(raw []byte, accessToken string) (domainauth.StatusResponse, error) {
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("decode user info: %w", err)
	}

	var user domainauth.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		user.ID, _ = claims["sub"].(string)
	}
	if user.Email == "" {
		user.Email, _ = claims["email"].(string)
	}

	banned, err := g.isBanned(claims)
	if err != nil {
		return domainauth.StatusResponse{}, err
	}

	return domainauth.StatusResponse{
		IsAuthenticated: user.ID != "",
		User:            &user,
		Token:           accessToken,
		Banned:          banned,
	}, nil
}

func (g *Gateway) isBanned(claims map[string]any) (bool, error) {
	v, err := jmespath.Search(g.banExpr, claims)
	if err != nil {
		return false, fmt.Errorf("evaluate ban expression: %w", err)
	}
	return truthy(v), nil
}

// Refresh exchanges the held refresh token for a new access token.
func (g *Gateway) Refresh(ctx context.Context) (domainauth.RefreshResponse, error) {
	tok := g.currentToken()
	if tok == nil || tok.RefreshToken == "" {
		return domainauth.RefreshResponse{}, fmt.Errorf("%w: no refresh token", ports.ErrRefreshRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	// An empty access token forces the source to hit the token endpoint.
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	next, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return domainauth.RefreshResponse{}, fmt.Errorf("%w: %v", ports.ErrRefreshRejected, err)
		}
		return domainauth.RefreshResponse{}, fmt.Errorf("refresh token: %w", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}

	g.mu.Lock()
	g.token = next
	g.mu.Unlock()
	return domainauth.RefreshResponse{Success: true, AccessToken: next.AccessToken}, nil
}

// LogoutURL returns the provider's end-session URL and forgets the held tokens.
func (g *Gateway) LogoutURL(_ context.Context) (string, error) {
	g.mu.Lock()
	g.token = nil
	g.mu.Unlock()

	if g.logoutURL == "" {
		return "", errors.New("provider has no logout endpoint")
	}
	return g.logoutURL, nil
}

func (g *Gateway) currentToken() *oauth2.Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token == nil {
		return nil
	}
	t := *g.token
	return &t
}

func (g *Gateway) verifyIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) error {
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return err
	}
	idTok, err := g.verifier.Verify(ctx, rawID)
	if err != nil {
		return err
	}
	if idTok.Nonce != expectedNonce {
		return errors.New("invalid nonce")
	}
	return nil
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (g *Gateway) hasOpenIDScope() bool {
	for _, sc := range g.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	case float64:
		return t != 0
	default:
		return false
	}
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	// One extra byte guarantees enough base64 characters.
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}
