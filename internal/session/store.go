// Package session holds the durable client session store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

// Listener is notified with the state before and after every update.
type Listener func(prev, next domainauth.SessionState)

// StoreOptions groups dependencies for Store.
type StoreOptions struct {
	Persister ports.StatePersister // optional; nil keeps state in memory only
	Logger    *slog.Logger
}

// Store is the single shared mutable session record.
//
// Reads are safe from anywhere. Writes go through Update or Clear, which persist
// the durable projection and then fan out to subscribers. Writes reach the
// persister and subscribers one at a time, in the order they were applied.
type Store struct {
	persister ports.StatePersister
	logger    *slog.Logger

	mu         sync.Mutex
	state      domainauth.SessionState
	queue      []*pendingWrite
	draining   bool
	inCallback bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]Listener
}

// NewStore creates a store and rehydrates it from the persister before returning,
// so the first Get already reflects the persisted session.
func NewStore(ctx context.Context, opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		persister: opts.Persister,
		logger:    logger.With("component", "session_store"),
		subs:      make(map[int]Listener),
	}
	s.rehydrate(ctx)
	return s
}

func (s *Store) rehydrate(ctx context.Context) {
	if s.persister == nil {
		return
	}
	p, err := s.persister.Load(ctx)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to load persisted session", "error", err)
		}
		return
	}
	s.state = p.State()
	if s.state.IsAuthenticated {
		s.logger.InfoContext(ctx, "rehydrated session", "user_id", s.state.User.ID)
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() domainauth.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type pendingWrite struct {
	ctx        context.Context //nolint:containedctx // carried to Save on the draining goroutine.
	prev, next domainauth.SessionState
	done       chan struct{}
}

// Update applies mutate to the state, persists the durable fields and notifies
// subscribers. IsAuthenticated is forced false when no user is present.
//
// The first writer drains the queue of applied changes; a writer arriving while
// another drains waits until its own change has been delivered. An Update made
// from inside a subscriber is queued behind the current delivery and returns
// without waiting.
func (s *Store) Update(ctx context.Context, mutate func(*domainauth.SessionState)) domainauth.SessionState {
	s.mu.Lock()
	prev := s.state
	next := prev
	mutate(&next)
	next.Normalize()
	s.state = next

	w := &pendingWrite{ctx: ctx, prev: prev, next: next, done: make(chan struct{})}
	s.queue = append(s.queue, w)
	if s.draining {
		reentrant := s.inCallback
		s.mu.Unlock()
		if !reentrant {
			<-w.done
		}
		return next
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
	return next
}

func (s *Store) drain() {
	// A panicking subscriber must not leave the queue wedged for later writers.
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			stranded := s.queue
			s.queue = nil
			s.draining = false
			s.inCallback = false
			s.mu.Unlock()
			for _, w := range stranded {
				close(w.done)
			}
			panic(r)
		}
	}()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		w := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		func() {
			defer close(w.done)
			s.persist(w.ctx, w.next)
			s.notify(w.prev, w.next)
		}()
	}
}

// Clear resets the session to its empty state.
func (s *Store) Clear(ctx context.Context) domainauth.SessionState {
	return s.Update(ctx, func(st *domainauth.SessionState) { st.Reset() })
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) persist(ctx context.Context, st domainauth.SessionState) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, st.Persisted()); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist session", "error", err)
	}
}

func (s *Store) notify(prev, next domainauth.SessionState) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subMu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		s.subMu.Lock()
		fn, ok := s.subs[id]
		s.subMu.Unlock()
		if ok {
			s.setInCallback(true)
			fn(prev, next)
			s.setInCallback(false)
		}
	}
}

func (s *Store) setInCallback(v bool) {
	s.mu.Lock()
	s.inCallback = v
	s.mu.Unlock()
}
