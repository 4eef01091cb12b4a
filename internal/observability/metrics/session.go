// Package metrics emits the session lifecycle metrics.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/sessionkeeper/internal/observability/errors"
	"github.com/target/sessionkeeper/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Metric names.
const (
	CheckAuthCount    = "session.check_auth"
	CheckAuthDuration = "session.check_auth.duration"
	RefreshCount      = "session.refresh"
	RefreshDuration   = "session.refresh.duration"
	IdleTransition    = "session.idle"
	LogoutCount       = "session.logout"
	InvalidationCount = "session.invalidation"
)

// CheckAuthMetric captures one status reconciliation.
type CheckAuthMetric struct {
	Outcome  string
	Duration time.Duration
	Err      error
}

// EmitCheckAuth emits the outcome counter and duration of a status check.
func EmitCheckAuth(sink statsd.Sink, in CheckAuthMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"outcome": in.Outcome}
	if in.Err != nil {
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	sink.Count(CheckAuthCount, 1, tags)
	if in.Duration > 0 {
		sink.Timing(CheckAuthDuration, in.Duration, CloneTags(tags))
	}
}

// RefreshMetric captures one refresh attempt.
type RefreshMetric struct {
	Result   string
	Failures int
	Duration time.Duration
	Err      error
}

// EmitRefresh emits refresh attempt metrics.
func EmitRefresh(sink statsd.Sink, in RefreshMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count(RefreshCount, 1, tags)
	if in.Duration > 0 {
		sink.Timing(RefreshDuration, in.Duration, CloneTags(tags))
	}
	if in.Result == ResultError {
		sink.Gauge(RefreshCount+".consecutive_failures", float64(in.Failures), nil)
	}
}

// EmitIdleTransition counts idle monitor phase changes ("active->warning").
func EmitIdleTransition(sink statsd.Sink, from, to string) {
	if sink == nil {
		return
	}
	sink.Count(IdleTransition, 1, map[string]string{"from": from, "to": to})
}

// EmitLogout counts logouts by reason.
func EmitLogout(sink statsd.Sink, reason string) {
	if sink == nil {
		return
	}
	sink.Count(LogoutCount, 1, map[string]string{"reason": reason})
}

// EmitInvalidation counts invalidation signals by source and whether they
// triggered a check or were dropped by the limiter.
func EmitInvalidation(sink statsd.Sink, source, result string) {
	if sink == nil {
		return
	}
	sink.Count(InvalidationCount, 1, map[string]string{"source": source, "result": result})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := maps.Clone(src)
	delete(out, "")
	return out
}
