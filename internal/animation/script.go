package animation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/suPer8Hu/animation-platform/internal/ai"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// ClassName derives the scene class from a topic: "Newton's First Law" -> "NewtonsFirstLawScene".
func ClassName(topic string) string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range topic {
		switch {
		case r == '\'' || r == '’':
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	var name strings.Builder
	for _, w := range words {
		name.WriteString(strings.ToUpper(w[:1]))
		name.WriteString(strings.ToLower(w[1:]))
	}
	out := name.String()
	switch {
	case out == "":
		out = "Animation"
	case unicode.IsDigit(rune(out[0])):
		out = "Anim" + out
	}
	return out + "Scene"
}

type scriptArtifact struct {
	Script    string
	Path      string
	ClassName string
}

func (s *Service) generateScript(ctx context.Context, p ai.Provider, job *jobstore.Job, audio *audioArtifact) (*scriptArtifact, error) {
	sc := ScriptContext{ClassName: ClassName(job.Topic)}
	if audio != nil {
		sc.AudioPath = audio.Path
		sc.AudioDuration = audio.Duration
	}

	raw, err := ai.Complete(ctx, p, scriptSystemPrompt,
		scriptPrompt(job.Topic, job.Subject, job.Chapter, job.Level, sc))
	if err != nil {
		return nil, err
	}

	script, rep, err := ApplyRules(raw, sc, s.rules)
	if err != nil {
		return nil, err
	}
	if len(rep.Fixed) > 0 {
		s.log.Info("script auto-fixed", "job_id", job.ID, "rules", rep.Fixed)
	}
	for _, w := range rep.Warnings {
		s.log.Warn("script check", "job_id", job.ID, "warning", w)
	}

	if err := os.MkdirAll(s.cfg.ScriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("scripts dir: %w", err)
	}
	path := filepath.Join(s.cfg.ScriptsDir, fmt.Sprintf("%s_%s.py", job.ID, sc.ClassName))
	if err := os.WriteFile(path, []byte(script+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return &scriptArtifact{Script: script, Path: path, ClassName: sc.ClassName}, nil
}
