// Package httpx serves the local session control API.
package httpx

import (
	"log/slog"
	"net/http"
)

// RouterOptions holds what the router needs.
type RouterOptions struct {
	Controller SessionController
	Completer  LoginCompleter
	Logger     *slog.Logger
}

// NewRouter creates the control API router wrapped in logging and panic recovery.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &SessionHandlers{
		Controller: opts.Controller,
		Completer:  opts.Completer,
		Logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("GET /session", h.Status)
	mux.HandleFunc("POST /session/check", h.Check)
	mux.HandleFunc("POST /session/continue", h.Continue)
	mux.HandleFunc("POST /session/activity", h.Activity)
	mux.HandleFunc("POST /session/login", h.Login)
	mux.HandleFunc("POST /session/logout", h.Logout)
	mux.HandleFunc("GET /auth/callback", h.Callback)

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
