package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/sessionkeeper/internal/cryptoutil"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

// SealedPersister encrypts the bearer token before handing the record to the
// wrapped persister. Records written before sealing was enabled still load.
type SealedPersister struct {
	inner  ports.StatePersister
	sealer cryptoutil.Sealer
}

var _ ports.StatePersister = (*SealedPersister)(nil)

// NewSealedPersister wraps inner so tokens are stored sealed.
func NewSealedPersister(inner ports.StatePersister, sealer cryptoutil.Sealer) (*SealedPersister, error) {
	if inner == nil {
		return nil, errors.New("persister is required")
	}
	if sealer == nil {
		return nil, errors.New("sealer is required")
	}
	return &SealedPersister{inner: inner, sealer: sealer}, nil
}

// Unwrap returns the backend persister.
func (p *SealedPersister) Unwrap() ports.StatePersister { return p.inner }

func (p *SealedPersister) Load(ctx context.Context) (domainauth.PersistedState, error) {
	st, err := p.inner.Load(ctx)
	if err != nil {
		return st, err
	}
	if st.Token == nil || !cryptoutil.IsSealed(*st.Token) {
		return st, nil
	}
	plain, err := p.sealer.Open(*st.Token)
	if err != nil {
		return domainauth.PersistedState{}, fmt.Errorf("open persisted token: %w", err)
	}
	tok := string(plain)
	st.Token = &tok
	return st, nil
}

func (p *SealedPersister) Save(ctx context.Context, state domainauth.PersistedState) error {
	if state.Token != nil {
		sealed, err := p.sealer.Seal([]byte(*state.Token))
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		state.Token = &sealed
	}
	return p.inner.Save(ctx, state)
}
