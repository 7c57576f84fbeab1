package chat

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a session already has a question outstanding.
var ErrBusy = errors.New("session is busy generating an answer")

// BackendUnavailableError reports a failed retrieval. The session is left
// unchanged and the same question may be asked again.
type BackendUnavailableError struct {
	Cause error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("retrieval backend unavailable: %v", e.Cause)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Cause }

// GenerationFailedError reports a failed or timed out language model call.
type GenerationFailedError struct {
	Cause error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Cause)
}

func (e *GenerationFailedError) Unwrap() error { return e.Cause }
