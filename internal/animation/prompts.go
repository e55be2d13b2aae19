package animation

import (
	"fmt"
	"strings"
)

const narrationSystemPrompt = "You write short spoken narration for educational animations. " +
	"Reply with the narration text only."

const scriptSystemPrompt = "You are an expert educational animator who writes Manim Community scripts. " +
	"Reply with raw Python code only."

func narrationPrompt(topic, subject, chapter string, level int, b narrationBounds) string {
	return fmt.Sprintf(`Write the narration for an educational animation.

Subject: %s
Chapter: %s
Topic: %s
Grade level: %d

Requirements:
- 2-3 sentences in simple, spoken language suitable for grade %d
- explain the core idea of the topic in the context of the chapter
- no symbols, equations, markdown or stage directions
- between %d and %d characters

Reply with the narration text only.`, subject, chapter, topic, level, level, b.Min, b.Max)
}

func scriptPrompt(topic, subject, chapter string, level int, sc ScriptContext) string {
	var audio string
	if sc.AudioPath != "" && sc.AudioDuration > 0 {
		d := sc.AudioDuration
		audio = fmt.Sprintf(`AUDIO:
- The first line of construct() must be: self.add_sound(%q)
- Total animation length must match the narration: %.2f seconds
- Introduction %.1f-%.1fs, core content %.1f-%.1fs, conclusion %.1f-%.1fs
- Use self.wait() for natural pauses`,
			sc.AudioPath, d, d*0.15, d*0.20, d*0.60, d*0.70, d*0.10, d*0.15)
	} else {
		audio = "AUDIO: none. Make the animation about 10 seconds long."
	}

	return fmt.Sprintf(`Create a Manim animation that teaches %[1]s in the context of %[2]s (%[3]s) for grade %[4]d.

%[5]s

RULES:
- one class named %[6]s inheriting Scene (not ThreeDScene)
- simple 2D mobjects only (Circle, Square, Rectangle, Line, Arrow, Text, Dot)
- no updaters, particles or random numbers; fixed positions only
- every position is a 3D numpy array, e.g. np.array([0, 2.0, 0])

%[7]s

%[8]s

Start the reply with "from manim import *" and end it with the last line of construct().
No markdown fences and no explanation.`,
		topic, chapter, subject, level,
		complexityGuidance(level),
		sc.ClassName,
		audio,
		subjectGuidance(subject),
	)
}

func complexityGuidance(level int) string {
	switch {
	case level <= 5:
		return "STYLE (grades 1-5): large colorful shapes, slow 1.5-2s transitions, at most 6 elements, font_size 60-72."
	case level <= 8:
		return "STYLE (grades 6-8): labeled diagrams, 1-1.5s transitions, up to 10 elements, font_size 48-60, step-by-step."
	case level <= 10:
		return "STYLE (grades 9-10): detailed diagrams and graphs, 0.8-1.2s transitions, up to 12 elements, font_size 40-48."
	default:
		return "STYLE (grades 11+): layered diagrams and formulas as text, 0.6-1s transitions, up to 15 elements, font_size 36-44."
	}
}

func subjectGuidance(subject string) string {
	s := strings.ToLower(subject)
	switch {
	case strings.Contains(s, "science"), strings.Contains(s, "physics"):
		return "SCIENCE: show processes and systems, arrows for force or flow, color-coded labeled parts, cause and effect."
	case strings.Contains(s, "math"):
		return "MATHEMATICS: geometric relationships, step-by-step transformations, equations as Text."
	case strings.Contains(s, "biology"):
		return "BIOLOGY: simple shapes for structures, color by cell or organism type, animate processes, label structures."
	default:
		return "GENERAL: clear visual metaphors, arrows for relationships, label everything, build up progressively."
	}
}
