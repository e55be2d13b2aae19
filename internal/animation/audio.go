package animation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

type audioArtifact struct {
	Filename   string
	Path       string
	Duration   float64
	Size       int64
	SampleRate int
	Voice      string
}

// resolveVoice picks the requested voice, falling back to the configured default.
func (s *Service) resolveVoice(ctx context.Context, requested string) (string, error) {
	voices, err := s.tts.Voices(ctx)
	if err != nil {
		return "", fmt.Errorf("list voices: %w", err)
	}
	if requested != "" && slices.Contains(voices, requested) {
		return requested, nil
	}
	if requested != "" {
		s.log.Warn("voice style not found, using default", "voice", requested, "default", s.cfg.DefaultVoice)
	}
	if slices.Contains(voices, s.cfg.DefaultVoice) {
		return s.cfg.DefaultVoice, nil
	}
	return "", fmt.Errorf("default voice style %q not available", s.cfg.DefaultVoice)
}

func (s *Service) synthesizeNarration(ctx context.Context, job *jobstore.Job, text, voice string) (*audioArtifact, error) {
	voice, err := s.resolveVoice(ctx, voice)
	if err != nil {
		return nil, err
	}
	sp, err := s.tts.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	if len(sp.WAV) == 0 || sp.Duration <= 0 {
		return nil, fmt.Errorf("synthesizer returned empty audio")
	}

	if err := os.MkdirAll(s.cfg.NarrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("narrations dir: %w", err)
	}
	name := job.ID + "_narration.wav"
	path := filepath.Join(s.cfg.NarrationsDir, name)
	if err := os.WriteFile(path, sp.WAV, 0o644); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}

	return &audioArtifact{
		Filename:   name,
		Path:       path,
		Duration:   sp.Duration,
		Size:       int64(len(sp.WAV)),
		SampleRate: sp.SampleRate,
		Voice:      voice,
	}, nil
}
