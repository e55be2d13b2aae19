package animation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/suPer8Hu/animation-platform/internal/ai"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

type narrationBounds struct {
	Min, Max int
}

func boundsForLevel(level int) narrationBounds {
	switch {
	case level <= 5:
		return narrationBounds{Min: 80, Max: 250}
	case level <= 8:
		return narrationBounds{Min: 100, Max: 350}
	case level <= 10:
		return narrationBounds{Min: 120, Max: 450}
	default:
		return narrationBounds{Min: 150, Max: 500}
	}
}

// cleanNarration strips markdown emphasis, surrounding quotes and runs of whitespace.
func cleanNarration(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, `"'`+"“” ")
}

// fitNarration enforces the bounds. Long text is cut at a word boundary and gets "...".
func fitNarration(s string, b narrationBounds) (string, error) {
	r := []rune(s)
	if len(r) < b.Min {
		return "", fmt.Errorf("narration too short: %d chars, need at least %d", len(r), b.Min)
	}
	if len(r) <= b.Max {
		return s, nil
	}
	cut := r[:b.Max-3]
	if i := lastSpace(cut); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(string(cut), func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsPunct(c)
	}) + "...", nil
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}

func (s *Service) generateNarration(ctx context.Context, p ai.Provider, job *jobstore.Job) (string, error) {
	b := boundsForLevel(job.Level)
	raw, err := ai.Complete(ctx, p, narrationSystemPrompt,
		narrationPrompt(job.Topic, job.Subject, job.Chapter, job.Level, b))
	if err != nil {
		return "", err
	}
	return fitNarration(cleanNarration(raw), b)
}
