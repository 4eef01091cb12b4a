package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
)

// SessionController is the subset of the session controller the API drives.
type SessionController interface {
	Snapshot() domainauth.View
	CheckAuth(ctx context.Context) domainauth.Outcome
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	ResetActivity() bool
	RecordActivity(kind domainauth.ActivityKind) bool
}

// LoginCompleter finishes a provider redirect login.
type LoginCompleter interface {
	CompleteLogin(ctx context.Context, code, state string) error
}

// SessionHandlers exposes the session controller over a local JSON API.
type SessionHandlers struct {
	Controller SessionController
	// Completer handles /auth/callback; nil when the gateway has no redirect flow.
	Completer LoginCompleter
	Logger    *slog.Logger
}

func (h *SessionHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ViewResponse is the JSON rendering of the session view.
type ViewResponse struct {
	Authenticated    bool             `json:"authenticated"`
	Loading          bool             `json:"loading"`
	ShowWarning      bool             `json:"showWarning"`
	RemainingSeconds int64            `json:"remainingSeconds"`
	User             *domainauth.User `json:"user"`
}

// OutcomeResponse reports the result of a reconciliation.
type OutcomeResponse struct {
	Outcome domainauth.Outcome `json:"outcome"`
	View    ViewResponse       `json:"view"`
}

type activityRequest struct {
	Kind domainauth.ActivityKind `json:"kind"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

func newViewResponse(v domainauth.View) ViewResponse {
	return ViewResponse{
		Authenticated:    v.IsAuthenticated,
		Loading:          v.IsLoading,
		ShowWarning:      v.ShowWarning,
		RemainingSeconds: int64(v.RemainingTime.Seconds()),
		User:             v.User,
	}
}

// Status returns the current session view.
// GET /session.
func (h *SessionHandlers) Status(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, newViewResponse(h.Controller.Snapshot()))
}

// Check reconciles the session with the provider.
// POST /session/check.
func (h *SessionHandlers) Check(w http.ResponseWriter, r *http.Request) {
	outcome := h.Controller.CheckAuth(r.Context())
	WriteJSON(w, http.StatusOK, OutcomeResponse{
		Outcome: outcome,
		View:    newViewResponse(h.Controller.Snapshot()),
	})
}

// Continue dismisses the idle warning.
// POST /session/continue.
func (h *SessionHandlers) Continue(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, acceptedResponse{Accepted: h.Controller.ResetActivity()})
}

// Activity records a user input event.
// POST /session/activity {"kind":"keydown"}.
func (h *SessionHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !req.Kind.IsQualifying() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_activity",
			Err:     errors.New("unknown activity kind"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, acceptedResponse{Accepted: h.Controller.RecordActivity(req.Kind)})
}

// Login navigates to the provider login page.
// POST /session/login.
func (h *SessionHandlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Login(r.Context()); err != nil {
		h.logger().ErrorContext(r.Context(), "login navigation failed", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusBadGateway, ErrCode: "login_failed", Err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout clears the session and navigates to the provider logout page.
// POST /session/logout.
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Logout(r.Context()); err != nil {
		h.logger().ErrorContext(r.Context(), "logout navigation failed", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusBadGateway, ErrCode: "logout_failed", Err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Callback completes a provider redirect login and reconciles the session.
// GET /auth/callback?code=<code>&state=<state>.
func (h *SessionHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Completer == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "callback_unsupported",
			Err:     errors.New("the configured gateway has no login callback"),
		})
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_code",
			Err:     errors.New("authorization code is required"),
		})
		return
	}
	if state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_state",
			Err:     errors.New("state parameter is required"),
		})
		return
	}

	if err := h.Completer.CompleteLogin(r.Context(), code, state); err != nil {
		h.logger().WarnContext(r.Context(), "login completion failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "login_completion_failed",
			Err:     err,
		})
		return
	}

	h.Check(w, r)
}
