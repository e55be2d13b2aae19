package animation

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrNotRetryable      = errors.New("job can only be retried from failed status")
	ErrVideoNotReady     = errors.New("video not ready")
	ErrVideoNotFound     = errors.New("video file not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Stage string

const (
	StageNarrationText  Stage = "narration_text"
	StageNarrationAudio Stage = "narration_audio"
	StageScript         Stage = "script_generation"
	StageDispatch       Stage = "render_dispatch"
	StageRender         Stage = "render"
)

// StageError is a collaborator or validation failure that moved a job to failed.
type StageError struct {
	Stage Stage
	JobID string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
