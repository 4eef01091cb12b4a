package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/sessionkeeper/internal/clock"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/observability/metrics"
	"github.com/target/sessionkeeper/internal/observability/statsd"
)

// IdlePolicy configures the idle monitor.
type IdlePolicy struct {
	IdleTime      time.Duration // quiet period before the warning
	WarningTime   time.Duration // countdown length once the warning is shown
	CountdownTick time.Duration // remaining-time update period
}

// DefaultIdlePolicy returns the 5m idle / 60s warning / 1 Hz countdown policy.
func DefaultIdlePolicy() IdlePolicy {
	return IdlePolicy{
		IdleTime:      5 * time.Minute,
		WarningTime:   time.Minute,
		CountdownTick: time.Second,
	}
}

func (p IdlePolicy) withDefaults() IdlePolicy {
	d := DefaultIdlePolicy()
	if p.IdleTime <= 0 {
		p.IdleTime = d.IdleTime
	}
	if p.WarningTime <= 0 {
		p.WarningTime = d.WarningTime
	}
	if p.CountdownTick <= 0 {
		p.CountdownTick = d.CountdownTick
	}
	return p
}

// IdleMonitorOptions groups dependencies for IdleMonitor.
type IdleMonitorOptions struct {
	Clock   clock.Clock
	Policy  IdlePolicy
	Metrics statsd.Sink
	Logger  *slog.Logger

	// OnTimeout runs once when the warning countdown expires.
	OnTimeout func(ctx context.Context)
	// OnIdle runs when the warning is shown.
	OnIdle func(ctx context.Context)
}

// IdleMonitor demotes an authenticated session to a warning countdown after a
// quiet period and reports a timeout when the countdown runs out.
//
// The monitor only runs between Arm and Disarm. Every transition bumps a
// generation counter so callbacks from timers that were already stopped are
// ignored.
type IdleMonitor struct {
	clock     clock.Clock
	policy    IdlePolicy
	metrics   statsd.Sink
	logger    *slog.Logger
	onTimeout func(ctx context.Context)
	onIdle    func(ctx context.Context)

	mu        sync.Mutex
	ctx       context.Context
	armed     bool
	gen       uint64
	phase     domainauth.IdlePhase
	deadline  time.Time
	remaining time.Duration
	idle      clock.Timer
	countdown clock.Timer
	hard      clock.Timer

	listeners listeners[domainauth.IdleStatus]
}

// NewIdleMonitor constructs an idle monitor in the disarmed Active phase.
func NewIdleMonitor(opts IdleMonitorOptions) *IdleMonitor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleMonitor{
		clock:     clk,
		policy:    opts.Policy.withDefaults(),
		metrics:   opts.Metrics,
		logger:    logger.With("component", "idle_monitor"),
		onTimeout: opts.OnTimeout,
		onIdle:    opts.OnIdle,
		ctx:       context.Background(),
	}
}

// Policy returns the effective policy.
func (m *IdleMonitor) Policy() IdlePolicy { return m.policy }

// Arm starts watching for inactivity. Arming an armed monitor is a no-op.
func (m *IdleMonitor) Arm(ctx context.Context) {
	m.mu.Lock()
	if m.armed {
		m.mu.Unlock()
		return
	}
	m.armed = true
	m.ctx = context.WithoutCancel(ctx)
	m.enterActiveLocked()
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "idle monitor armed", "idle_time", m.policy.IdleTime)
	m.notify()
}

// Disarm clears every timer and returns to the inert Active phase.
func (m *IdleMonitor) Disarm() {
	m.mu.Lock()
	if !m.armed && m.phase == domainauth.PhaseActive {
		m.mu.Unlock()
		return
	}
	prev := m.phase
	m.armed = false
	m.gen++
	m.stopTimersLocked()
	m.phase = domainauth.PhaseActive
	m.deadline = time.Time{}
	m.remaining = 0
	m.mu.Unlock()

	if prev != domainauth.PhaseActive {
		metrics.EmitIdleTransition(m.metrics, prev.String(), domainauth.PhaseActive.String())
	}
	m.notify()
}

// Armed reports whether the monitor is running.
func (m *IdleMonitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// RecordActivity restarts the idle timer for a qualifying input event.
// Activity is ignored while disarmed and once the warning is shown.
func (m *IdleMonitor) RecordActivity(kind domainauth.ActivityKind) bool {
	if !kind.IsQualifying() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed || m.phase != domainauth.PhaseActive {
		return false
	}
	m.enterActiveLocked()
	return true
}

// Reset is the explicit "continue session" acknowledgement: it returns to
// Active and restarts the idle timer from zero.
func (m *IdleMonitor) Reset() bool {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return false
	}
	prev := m.phase
	ctx := m.ctx
	m.enterActiveLocked()
	m.mu.Unlock()

	if prev != domainauth.PhaseActive {
		metrics.EmitIdleTransition(m.metrics, prev.String(), domainauth.PhaseActive.String())
		m.logger.InfoContext(ctx, "session continued from idle warning")
	}
	m.notify()
	return true
}

// Status returns the current idle state.
func (m *IdleMonitor) Status() domainauth.IdleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Subscribe registers fn for every idle state change.
func (m *IdleMonitor) Subscribe(fn func(domainauth.IdleStatus)) func() {
	return m.listeners.add(fn)
}

func (m *IdleMonitor) statusLocked() domainauth.IdleStatus {
	return domainauth.IdleStatus{
		Phase:           m.phase,
		IsIdle:          m.phase != domainauth.PhaseActive,
		ShowWarning:     m.phase == domainauth.PhaseWarning,
		RemainingTime:   m.remaining,
		WarningDeadline: m.deadline,
	}
}

// enterActiveLocked stops all timers and arms a fresh idle timer.
func (m *IdleMonitor) enterActiveLocked() {
	m.gen++
	m.stopTimersLocked()
	m.phase = domainauth.PhaseActive
	m.deadline = time.Time{}
	m.remaining = 0
	gen := m.gen
	m.idle = m.clock.AfterFunc(m.policy.IdleTime, func() { m.warn(gen) })
}

func (m *IdleMonitor) stopTimersLocked() {
	for _, t := range []*clock.Timer{&m.idle, &m.countdown, &m.hard} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (m *IdleMonitor) warn(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.armed || m.phase != domainauth.PhaseActive {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen = m.gen
	m.idle = nil
	m.phase = domainauth.PhaseWarning
	m.deadline = m.clock.Now().Add(m.policy.WarningTime)
	m.remaining = m.policy.WarningTime
	m.countdown = m.clock.Every(m.policy.CountdownTick, func() { m.tick(gen) })
	m.hard = m.clock.AfterFunc(m.policy.WarningTime, func() { m.expire(gen) })
	ctx := m.ctx
	m.mu.Unlock()

	metrics.EmitIdleTransition(m.metrics, domainauth.PhaseActive.String(), domainauth.PhaseWarning.String())
	m.logger.InfoContext(ctx, "idle warning shown", "warning_time", m.policy.WarningTime)
	m.notify()
	if m.onIdle != nil {
		m.onIdle(ctx)
	}
}

func (m *IdleMonitor) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != domainauth.PhaseWarning {
		m.mu.Unlock()
		return
	}
	remaining := m.deadline.Sub(m.clock.Now())
	if remaining <= 0 {
		m.mu.Unlock()
		m.expire(gen)
		return
	}
	m.remaining = remaining
	m.mu.Unlock()

	m.notify()
}

// expire moves Warning to LoggedOut exactly once per warning, runs the
// timeout hook and then suspends the monitor.
func (m *IdleMonitor) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != domainauth.PhaseWarning {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimersLocked()
	m.phase = domainauth.PhaseLoggedOut
	m.remaining = 0
	ctx := m.ctx
	m.mu.Unlock()

	metrics.EmitIdleTransition(m.metrics, domainauth.PhaseWarning.String(), domainauth.PhaseLoggedOut.String())
	m.logger.InfoContext(ctx, "idle timeout reached")
	m.notify()

	if m.onTimeout != nil {
		m.onTimeout(ctx)
	}
	m.Disarm()
}

func (m *IdleMonitor) notify() {
	m.listeners.emit(m.Status())
}
