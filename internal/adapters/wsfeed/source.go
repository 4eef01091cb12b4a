// Package wsfeed receives session invalidation pushes over a websocket.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/target/sessionkeeper/internal/ports"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// Options configures a Source.
type Options struct {
	URL            string
	Header         http.Header
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// Source is a ports.InvalidationSource fed by server push over a websocket.
// It reconnects with exponential backoff until the context ends.
type Source struct {
	url     string
	header  http.Header
	initial time.Duration
	max     time.Duration
	logger  *slog.Logger
	dialer  websocket.Dialer
}

var _ ports.InvalidationSource = (*Source)(nil)

// message is the push payload. Plain-text frames are accepted as the type.
type message struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// New constructs a Source.
func New(opts Options) (*Source, error) {
	if opts.URL == "" {
		return nil, errors.New("wsfeed: URL is required")
	}
	if !strings.HasPrefix(opts.URL, "ws://") && !strings.HasPrefix(opts.URL, "wss://") {
		return nil, fmt.Errorf("wsfeed: URL must use ws or wss: %q", opts.URL)
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = max(defaultMaxBackoff, initial)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		url:     opts.URL,
		header:  opts.Header,
		initial: initial,
		max:     maxBackoff,
		logger:  logger.With("component", "wsfeed"),
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string { return "websocket" }

// Listen connects and delivers signals until ctx is cancelled.
// A signal with reason "reconnected" follows every re-established connection,
// since pushes may have been missed while disconnected.
func (s *Source) Listen(ctx context.Context, fn func(ports.Signal)) error {
	backoff := s.initial
	connectedBefore := false

	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "websocket dial failed", "error", err, "retry_in", backoff)
		} else {
			backoff = s.initial
			if connectedBefore {
				fn(ports.Signal{Source: s.Name(), Reason: "reconnected"})
			}
			connectedBefore = true
			s.readLoop(ctx, conn, fn)
			if ctx.Err() != nil {
				return nil
			}
		}

		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, s.max)
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, fn func(ports.Signal)) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if sig, ok := s.decode(data); ok {
			fn(sig)
		}
	}
}

func (s *Source) decode(data []byte) (ports.Signal, bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		msg = message{Type: strings.TrimSpace(string(data))}
	}
	switch msg.Type {
	case "", "ping", "pong", "hello":
		return ports.Signal{}, false
	}
	reason := msg.Type
	if msg.Reason != "" {
		reason = msg.Type + ":" + msg.Reason
	}
	return ports.Signal{Source: s.Name(), Reason: reason}, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
