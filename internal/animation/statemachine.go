package animation

import (
	"fmt"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// transitions is the only set of status moves a job may make.
// failed -> generating_narration is the retry edge.
var transitions = map[jobstore.Status][]jobstore.Status{
	jobstore.StatusGeneratingNarration: {jobstore.StatusGeneratingAudio, jobstore.StatusFailed},
	jobstore.StatusGeneratingAudio:     {jobstore.StatusGeneratingScript, jobstore.StatusFailed},
	jobstore.StatusGeneratingScript:    {jobstore.StatusPending, jobstore.StatusFailed},
	jobstore.StatusPending:             {jobstore.StatusRendering, jobstore.StatusFailed},
	jobstore.StatusRendering:           {jobstore.StatusCompleted, jobstore.StatusFailed},
	jobstore.StatusFailed:              {jobstore.StatusGeneratingNarration},
	jobstore.StatusCompleted:           nil,
}

func CanTransition(from, to jobstore.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to jobstore.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Messages shown to callers while a job sits in each status.
const (
	msgGeneratingNarration = "Generating educational narration..."
	msgRegenerating        = "Regenerating animation with context-aware narration..."
	msgGeneratingAudio     = "Converting narration to speech..."
	msgGeneratingScript    = "Generating educational animation script..."
	msgPending             = "Ready for rendering"
	msgRendering           = "Rendering animation with audio..."
	msgCompleted           = "Animation completed successfully with audio"
	msgRenderFailed        = "Rendering failed"
	msgRenderTimeout       = "Rendering timeout"
	msgVideoMissing        = "Video file not found after rendering"
	msgRenderInterrupted   = "Rendering interrupted before completion"
	msgCreateFailed        = "Failed to create animation"
	msgDispatchFailed      = "Failed to start rendering"
)
