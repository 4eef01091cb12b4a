// Package session provides hand-written fakes for the session ports.
package session

import (
	"context"
	"sync"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

// MemoryPersister is an in-memory implementation of ports.StatePersister for tests.
type MemoryPersister struct {
	mu     sync.Mutex
	state  *domainauth.PersistedState
	saves  int
	LoadFn func(ctx context.Context) (domainauth.PersistedState, error)
	SaveFn func(ctx context.Context, state domainauth.PersistedState) error
}

// NewMemoryPersister returns an empty persister.
func NewMemoryPersister() *MemoryPersister { return &MemoryPersister{} }

// Seed preloads the persister as if a previous run had saved st.
func (m *MemoryPersister) Seed(st domainauth.PersistedState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
}

func (m *MemoryPersister) Load(ctx context.Context) (domainauth.PersistedState, error) {
	if m.LoadFn != nil {
		return m.LoadFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domainauth.PersistedState{}, ports.ErrNotFound
	}
	return *m.state, nil
}

func (m *MemoryPersister) Save(ctx context.Context, state domainauth.PersistedState) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	if m.SaveFn != nil {
		return m.SaveFn(ctx, state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

// Last returns the most recently saved state.
func (m *MemoryPersister) Last() (domainauth.PersistedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domainauth.PersistedState{}, false
	}
	return *m.state, true
}

// Saves returns the number of Save calls.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// RecordingNavigator records every navigation target.
type RecordingNavigator struct {
	mu      sync.Mutex
	targets []string
	Err     error
}

func (n *RecordingNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return n.Err
}

// Targets returns a copy of the recorded targets.
func (n *RecordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// Last returns the last recorded target or "".
func (n *RecordingNavigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

// StubGateway is a configurable ports.Gateway with call counters.
type StubGateway struct {
	StatusFn    func(ctx context.Context) (domainauth.StatusResponse, error)
	RefreshFn   func(ctx context.Context) (domainauth.RefreshResponse, error)
	LoginURLFn  func(ctx context.Context) (string, error)
	LogoutURLFn func(ctx context.Context) (string, error)

	mu        sync.Mutex
	statuses  int
	refreshes int
}

const (
	defaultLoginURL  = "http://localhost:3002/auth/google"
	defaultLogoutURL = "http://localhost:3002/auth/logout"
)

func (g *StubGateway) Status(ctx context.Context) (domainauth.StatusResponse, error) {
	g.mu.Lock()
	g.statuses++
	g.mu.Unlock()
	if g.StatusFn != nil {
		return g.StatusFn(ctx)
	}
	return domainauth.StatusResponse{}, nil
}

func (g *StubGateway) Refresh(ctx context.Context) (domainauth.RefreshResponse, error) {
	g.mu.Lock()
	g.refreshes++
	g.mu.Unlock()
	if g.RefreshFn != nil {
		return g.RefreshFn(ctx)
	}
	return domainauth.RefreshResponse{}, ports.ErrRefreshRejected
}

func (g *StubGateway) LoginURL(ctx context.Context) (string, error) {
	if g.LoginURLFn != nil {
		return g.LoginURLFn(ctx)
	}
	return defaultLoginURL, nil
}

func (g *StubGateway) LogoutURL(ctx context.Context) (string, error) {
	if g.LogoutURLFn != nil {
		return g.LogoutURLFn(ctx)
	}
	return defaultLogoutURL, nil
}

// StatusCalls returns the number of Status calls.
func (g *StubGateway) StatusCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses
}

// RefreshCalls returns the number of Refresh calls.
func (g *StubGateway) RefreshCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshes
}
