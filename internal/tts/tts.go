// Package tts talks to the speech-synthesis service that turns narration text into a waveform.
package tts

import (
	"context"
	"errors"
)

// Speech is one synthesized waveform.
type Speech struct {
	WAV        []byte
	SampleRate int
	Duration   float64 // seconds
}

// Synthesizer converts text into speech using a named voice style.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Speech, error)
	Voices(ctx context.Context) ([]string, error)
}

var ErrUnknownVoice = errors.New("tts: unknown voice style")
