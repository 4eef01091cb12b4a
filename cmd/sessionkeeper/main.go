package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/target/sessionkeeper/config"
	"github.com/target/sessionkeeper/internal/bootstrap"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
)

func main() {
	logger := bootstrap.InitLogger()
	if err := run(context.Background(), logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err = bootstrap.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	logStartupInfo(ctx, logger, &cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := bootstrap.NewAgent(ctx, bootstrap.AgentOptions{
		Config:    &cfg,
		Navigator: newLogNavigator(os.Stdout, logger),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := agent.Close(); cerr != nil {
			logger.Error("close agent failed", "error", cerr)
		}
	}()

	unsubscribe := agent.Controller.Subscribe(func(v domainauth.View) {
		logView(ctx, logger, v)
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(gctx) })
	g.Go(func() error {
		// The prompt ending (EOF or "quit") shuts the agent down.
		defer stop()
		return repl(gctx, os.Stdin, &commandContext{
			Ctx:        gctx,
			Controller: agent.Controller,
			Gateway:    agent.Gateway,
			Out:        os.Stdout,
		})
	})
	return g.Wait()
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting sessionkeeper",
		"gateway", cfg.Gateway.Mode,
		"store", cfg.Store.Backend,
		"push", cfg.Push.Source,
		"idle_time", cfg.Session.IdleTime,
		"refresh_interval", cfg.Session.RefreshInterval,
		"http_enabled", cfg.HTTP.Enabled,
		"dev", cfg.IsDev)
}

func logView(ctx context.Context, logger *slog.Logger, v domainauth.View) {
	attrs := []any{
		"authenticated", v.IsAuthenticated,
		"loading", v.IsLoading,
		"show_warning", v.ShowWarning,
	}
	if v.User != nil {
		attrs = append(attrs, "user_id", v.User.ID)
	}
	if v.ShowWarning {
		attrs = append(attrs, "remaining", v.RemainingTime)
	}
	logger.InfoContext(ctx, "session view changed", attrs...)
}

// repl executes one command per input line until in is exhausted, "quit" is
// entered or ctx ends.
func repl(ctx context.Context, in io.Reader, cc *commandContext) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(cc, line)
			if err != nil {
				if werr := writef(cc.Out, "error: %v\n", err); werr != nil {
					return werr
				}
			}
			if quit {
				return nil
			}
		}
	}
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
