package workflow

import (
	"errors"
	"fmt"

	"github.com/trendreview/trendreview/internal/poller"
)

var (
	// ErrNoRawUpload gates Process and edits.
	ErrNoRawUpload = errors.New("upload a CSV file first")
	// ErrNoProcessedData gates selection and analysis.
	ErrNoProcessedData = errors.New("no processed data: process the upload or load a processed CSV first")
	// ErrSelectionNotSubmitted gates analysis until a selection has been saved by the backend.
	ErrSelectionNotSubmitted = errors.New("select rows and submit the selection before starting the analysis")
	// ErrAnalysisInProgress rejects a second analysis while one is being polled.
	ErrAnalysisInProgress = errors.New("an analysis is already running")
	// ErrNoAnalysis is returned by Wait when no analysis was started.
	ErrNoAnalysis = errors.New("no analysis has been started")
	// ErrJobAbandoned ends a run whose polling was stopped by a newer action.
	ErrJobAbandoned = errors.New("analysis is no longer followed by this session")
)

// ValidationError is a user action rejected before any network call.
type ValidationError struct {
	Action string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot %s: %v", e.Action, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(action string, err error) error {
	return &ValidationError{Action: action, Err: err}
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AnalysisFailedError is a job the backend reported as failed.
type AnalysisFailedError struct {
	JobID   string
	Message string
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis %s failed: %s", e.JobID, e.Message)
}

// TimedOutError is a job whose polling budget ran out. The job may still
// finish on the server.
type TimedOutError struct {
	JobID    string
	Attempts int
	Errors   int
	Cause    error
}

func (e *TimedOutError) Error() string {
	reason := fmt.Sprintf("still running after %d status checks", e.Attempts)
	if e.Cause != nil && !errors.Is(e.Cause, poller.ErrTimedOut) {
		reason = fmt.Sprintf("status unavailable after %d failed queries (%v)", e.Errors, e.Cause)
	}
	return fmt.Sprintf("analysis %s %s; check back later with: trendreview wait %s", e.JobID, reason, e.JobID)
}

func (e *TimedOutError) Unwrap() []error {
	if e.Cause == nil || errors.Is(e.Cause, poller.ErrTimedOut) {
		return []error{poller.ErrTimedOut}
	}
	return []error{poller.ErrTimedOut, e.Cause}
}
