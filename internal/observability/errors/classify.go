// Package errors classifies session errors into low-cardinality metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"

	"github.com/target/sessionkeeper/internal/ports"
)

// Error classes shared by logs and metrics.
const (
	ClassTimeout          = "timeout"
	ClassCanceled         = "canceled"
	ClassForbidden        = "forbidden"
	ClassRefreshRejected  = "refresh_rejected"
	ClassUnexpectedStatus = "unexpected_status"
	ClassNetwork          = "network"
	ClassUnknown          = "unknown"
)

// Classify returns a normalized error class suitable for tagging metrics/logs.
// Known sentinels map to fixed classes; anything else falls back to the
// innermost concrete type name in snake_case-ish form.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case goerrors.Is(err, context.Canceled):
		return ClassCanceled
	case goerrors.Is(err, ports.ErrForbidden):
		return ClassForbidden
	case goerrors.Is(err, ports.ErrRefreshRejected):
		return ClassRefreshRejected
	case goerrors.Is(err, ports.ErrUnexpectedStatus):
		return ClassUnexpectedStatus
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return typeName(err)
}

func typeName(err error) string {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ClassUnknown
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return ClassUnknown
	}
	return name
}
