package domain

import (
	"context"
	"errors"
)

// Request-level errors abort a whole search call.
var (
	ErrInvalidTimeRange     = errors.New("invalid time range")
	ErrNoSuchHost           = errors.New("no such host")
	ErrEmptyPattern         = errors.New("pattern is empty")
	ErrInvalidTarget        = errors.New("invalid server target")
	ErrNoLogPathsConfigured = errors.New("no log paths configured")
)

// Per-host errors are captured as a HostSearchOutcome status.
var (
	ErrAuthFailure    = errors.New("authentication failed")
	ErrConnectFailure = errors.New("connection failed")
	ErrTimeout        = errors.New("timed out")
	ErrExecution      = errors.New("execution error")
)

// StatusOf classifies err into exactly one OutcomeStatus. Anything that is
// not a recognised connection or lookup failure is an execution error.
func StatusOf(err error) OutcomeStatus {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrNoSuchHost):
		return StatusNoSuchHost
	case errors.Is(err, ErrAuthFailure):
		return StatusAuthFailure
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, ErrConnectFailure):
		return StatusConnectFailure
	default:
		return StatusExecutionError
	}
}
