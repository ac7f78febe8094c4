// Package api is the remote job client for the trend-review backend.
package api

import (
	"errors"
	"fmt"
)

// ErrMissingField is the cause of a RemoteError for a success envelope
// that lacks the field the endpoint must return.
var ErrMissingField = errors.New("response is missing a required field")

// RemoteError is a failed one-shot call: a non-2xx status, a malformed body,
// or an explicit server-side failure. Callers do not distinguish the three.
type RemoteError struct {
	Op         string // endpoint name, e.g. "process-csv"
	StatusCode int    // 0 when no response was received
	Message    string // server-provided error text, if any
	Cause      error
}

func (e *RemoteError) Error() string {
	msg := e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// IsRemoteError reports whether err is or wraps a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// StatusError is a failed status query. The poller counts these against its
// error budget instead of failing the job.
type StatusError struct {
	JobID      string
	StatusCode int
	Cause      error
}

func (e *StatusError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status query for %s failed: status %d: %v", e.JobID, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("status query for %s failed: %v", e.JobID, e.Cause)
}

func (e *StatusError) Unwrap() error { return e.Cause }
