package auth

import "time"

// Outcome classifies the result of a status reconciliation.
type Outcome string

const (
	OutcomeAuthenticated   Outcome = "authenticated"
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeBanned          Outcome = "banned"
	OutcomeForbidden       Outcome = "forbidden"
	OutcomeNetworkError    Outcome = "network_error"
)

// IsBlocking reports whether the outcome is an enforcement action that must
// redirect the user with a blocked indicator.
func (o Outcome) IsBlocking() bool {
	return o == OutcomeBanned || o == OutcomeForbidden
}

// LogoutReason records why a session was terminated locally.
type LogoutReason string

const (
	LogoutUser      LogoutReason = "user"
	LogoutIdle      LogoutReason = "idle"
	LogoutExhausted LogoutReason = "refresh_exhausted"
)

// IdlePhase is the state of the idle activity monitor.
type IdlePhase int

const (
	PhaseActive IdlePhase = iota
	PhaseWarning
	PhaseLoggedOut
)

// String returns a string representation of the phase.
func (p IdlePhase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseWarning:
		return "warning"
	case PhaseLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// ActivityKind is a user input event type.
type ActivityKind string

const (
	ActivityPointerDown ActivityKind = "pointerdown"
	ActivityPointerMove ActivityKind = "pointermove"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
	ActivityClick       ActivityKind = "click"
)

// ActivityKinds lists the input events that count as user activity.
func ActivityKinds() []ActivityKind {
	return []ActivityKind{
		ActivityPointerDown,
		ActivityPointerMove,
		ActivityKeyDown,
		ActivityScroll,
		ActivityTouchStart,
		ActivityClick,
	}
}

// IsQualifying reports whether k resets the idle timer.
func (k ActivityKind) IsQualifying() bool {
	switch k {
	case ActivityPointerDown, ActivityPointerMove, ActivityKeyDown,
		ActivityScroll, ActivityTouchStart, ActivityClick:
		return true
	default:
		return false
	}
}

// IdleStatus is the observable state of the idle monitor.
type IdleStatus struct {
	Phase           IdlePhase
	IsIdle          bool
	ShowWarning     bool
	RemainingTime   time.Duration
	WarningDeadline time.Time
}

// View is the reactive surface exposed to UIs.
type View struct {
	User            *User
	IsAuthenticated bool
	IsLoading       bool
	ShowWarning     bool
	RemainingTime   time.Duration
}
