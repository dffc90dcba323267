package launch

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when Run or RetryStage is called while the
	// sequence is already executing.
	ErrBusy = errors.New("launch: sequence is busy")

	// ErrNotRetryable is returned by RetryStage for a stage that is not in
	// the error state.
	ErrNotRetryable = errors.New("launch: stage is not retryable")

	// ErrCancelled is returned once the sequence has been cancelled.
	ErrCancelled = errors.New("launch: sequence cancelled")

	// ErrStarted is returned by Run on a sequence that has already run.
	ErrStarted = errors.New("launch: sequence already started")

	// ErrQAFailed is wrapped by the Qa stage error when the report has an
	// error-severity finding.
	ErrQAFailed = errors.New("launch: quality checks failed")
)

// StageError reports the failure of one stage. The cause is reachable with
// errors.As and errors.Is.
type StageError struct {
	SessionID string
	Stage     StageID
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("launch: session %s: stage %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
