package ai

import (
	"context"
	"errors"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a text-generation backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

var ErrEmptyCompletion = errors.New("ai: empty completion")

// Complete sends a single user prompt, optionally preceded by a system prompt,
// and rejects blank completions.
func Complete(ctx context.Context, p Provider, system, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	out, err := p.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
