package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d", e.Code)
}

// ParseError wraps a document that could not be parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

const maxErrorSummary = 200

// summarize turns a fetch error into the short text stored on fetch logs.
func summarize(err error) string {
	var (
		statusErr *StatusError
		parseErr  *ParseError
		netErr    net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &parseErr):
		return truncate(parseErr.Error(), maxErrorSummary)
	default:
		return truncate(err.Error(), maxErrorSummary)
	}
}
