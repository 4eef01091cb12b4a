package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/target/sessionkeeper/internal/ports"
)

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("status: %w", context.DeadlineExceeded), ClassTimeout},
		{"canceled", context.Canceled, ClassCanceled},
		{"forbidden", fmt.Errorf("status: %w", ports.ErrForbidden), ClassForbidden},
		{"refresh rejected", ports.ErrRefreshRejected, ClassRefreshRejected},
		{"unexpected status", fmt.Errorf("%w: 502", ports.ErrUnexpectedStatus), ClassUnexpectedStatus},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: goerrors.New("connection refused")}, ClassNetwork},
		{"custom type", fmt.Errorf("wrap: %w", customErr{}), "errors_customerr"},
		{"errors.New", goerrors.New("boom"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
