package main

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/target/sessionkeeper/internal/ports"
)

// logNavigator stands in for a browser: it prints and logs every hard
// navigation instead of following it.
type logNavigator struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

var _ ports.Navigator = (*logNavigator)(nil)

func newLogNavigator(out io.Writer, logger *slog.Logger) *logNavigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNavigator{out: out, logger: logger.With("component", "navigator")}
}

func (n *logNavigator) Navigate(ctx context.Context, target string) error {
	n.logger.InfoContext(ctx, "navigate", "target", target)
	n.mu.Lock()
	defer n.mu.Unlock()
	return writef(n.out, "navigate: %s\n", target)
}
