package telemetry

import (
	"context"
	"net"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

// ErrorType returns a low-cardinality type of the error, it is used as a metric label.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "net_timeout"
	case errors.As(err, &netErr):
		return "net"
	default:
		return "other"
	}
}
