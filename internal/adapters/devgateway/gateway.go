package devgateway

// Package devgateway provides a simple, config-driven Gateway for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

// Mode selects how Status answers.
type Mode string

const (
	ModeAuthenticated   Mode = "authenticated"
	ModeUnauthenticated Mode = "unauthenticated"
	ModeBanned          Mode = "banned"
	ModeForbidden       Mode = "forbidden"
)

// Config controls the dev gateway behavior.
// UserID is required; Name and Email may be empty.
type Config struct {
	UserID string
	Name   string
	Email  string
	Mode   Mode // default ModeAuthenticated
}

// Gateway implements ports.Gateway for local development.
// It short-circuits the identity provider: Status answers from Config and
// Refresh always issues a fresh random token.
type Gateway struct {
	user *domainauth.User

	mu   sync.Mutex
	mode Mode
}

var _ ports.Gateway = (*Gateway)(nil)

// New constructs a dev gateway from Config.
func New(cfg Config) (*Gateway, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev gateway: UserID is required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuthenticated
	}
	switch mode {
	case ModeAuthenticated, ModeUnauthenticated, ModeBanned, ModeForbidden:
	default:
		return nil, fmt.Errorf("dev gateway: unknown mode %q", mode)
	}
	return &Gateway{
		user: domainauth.NewUser(cfg.UserID, cfg.Name, cfg.Email),
		mode: mode,
	}, nil
}

// SetMode changes how subsequent Status calls answer.
func (g *Gateway) SetMode(m Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = m
}

func (g *Gateway) Status(_ context.Context) (domainauth.StatusResponse, error) {
	g.mu.Lock()
	mode := g.mode
	g.mu.Unlock()

	switch mode {
	case ModeForbidden:
		return domainauth.StatusResponse{}, ports.ErrForbidden
	case ModeUnauthenticated:
		return domainauth.StatusResponse{IsAuthenticated: false}, nil
	}

	tok, err := randomString(32)
	if err != nil {
		return domainauth.StatusResponse{}, fmt.Errorf("generate token: %w", err)
	}
	return domainauth.StatusResponse{
		IsAuthenticated: true,
		User:            g.user,
		Token:           tok,
		Banned:          mode == ModeBanned,
	}, nil
}

func (g *Gateway) Refresh(_ context.Context) (domainauth.RefreshResponse, error) {
	tok, err := randomString(32)
	if err != nil {
		return domainauth.RefreshResponse{}, fmt.Errorf("generate token: %w", err)
	}
	return domainauth.RefreshResponse{Success: true, AccessToken: tok}, nil
}

// LoginURL returns a local callback URL carrying a random state.
func (g *Gateway) LoginURL(_ context.Context) (string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return "/auth/callback?code=dev&state=" + state, nil
}

func (g *Gateway) LogoutURL(_ context.Context) (string, error) {
	return "/auth/logout", nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	// Compute number of random bytes needed to produce at least n base64 URL chars
	b := make([]byte, (n*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
