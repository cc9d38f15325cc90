package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable covers network and backend failures.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrUnauthorized covers owner mismatches and expired sessions.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidationFailed covers rejected input such as an empty title.
	ErrValidationFailed = errors.New("validation failed")
	// ErrLabelGenerationFailed is returned by label generators.
	ErrLabelGenerationFailed = errors.New("label generation failed")
	// ErrNotFound means the record does not exist in the owner's scope.
	ErrNotFound = errors.New("task not found")
	// ErrTaskPending rejects mutations of a record that is not confirmed yet.
	ErrTaskPending = fmt.Errorf("%w: task is not confirmed yet", ErrValidationFailed)
	// ErrStreamInterrupted is reported when a change subscription lost events.
	ErrStreamInterrupted = errors.New("change stream interrupted")
)

// Failure is a local mutation failure surfaced to the UI layer.
type Failure struct {
	Op     string `json:"op"`
	TaskID string `json:"taskId,omitempty"`
	Err    error  `json:"-"`
}

func (f Failure) Error() string {
	if f.TaskID == "" {
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Op, f.TaskID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Kind names the taxonomy bucket of err for user-facing messages.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrLabelGenerationFailed):
		return "label_generation_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "remote_unavailable"
	}
}

// Classify wraps errors that are not already part of the taxonomy as
// ErrRemoteUnavailable. Cancellation is passed through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrRemoteUnavailable, ErrUnauthorized, ErrValidationFailed, ErrLabelGenerationFailed, ErrNotFound} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
}
