// Package ports defines interfaces (hexagonal ports) for session lifecycle behavior.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"
	"errors"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
)

var (
	// ErrForbidden is returned by Gateway.Status when the provider answers with
	// an access-guard rejection (HTTP 403) regardless of credential validity.
	ErrForbidden = errors.New("gateway: forbidden")

	// ErrRefreshRejected is returned by Gateway.Refresh when the provider
	// explicitly declines to issue a new access token.
	ErrRefreshRejected = errors.New("gateway: refresh rejected")

	// ErrUnexpectedStatus wraps non-success responses that carry no session meaning.
	ErrUnexpectedStatus = errors.New("gateway: unexpected status")

	// ErrNotFound is returned by StatePersister.Load when nothing was persisted yet.
	ErrNotFound = errors.New("persisted session not found")
)

// Gateway is the remote identity provider as seen by the session core.
// Timeouts and transport retries are owned by implementations.
type Gateway interface {
	// Status reports the server's view of the account.
	Status(ctx context.Context) (domainauth.StatusResponse, error)

	// Refresh asks the provider to issue a new short-lived access token.
	Refresh(ctx context.Context) (domainauth.RefreshResponse, error)

	// LoginURL returns the provider's login entry point.
	LoginURL(ctx context.Context) (string, error)

	// LogoutURL returns the provider's logout entry point, which also
	// invalidates the server-side session.
	LogoutURL(ctx context.Context) (string, error)
}

// Navigator performs hard navigations on behalf of the session core.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// StatePersister durably stores the persisted projection of the session.
type StatePersister interface {
	Load(ctx context.Context) (domainauth.PersistedState, error)
	Save(ctx context.Context, state domainauth.PersistedState) error
}

// Signal is a push notification that the server-side session may have changed.
type Signal struct {
	Source string
	Reason string
}

// InvalidationSource delivers push signals until ctx is cancelled.
type InvalidationSource interface {
	Name() string
	Listen(ctx context.Context, fn func(Signal)) error
}
