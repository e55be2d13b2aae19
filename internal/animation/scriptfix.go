package animation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ScriptContext is what the rules know about the script they are repairing.
type ScriptContext struct {
	ClassName     string
	AudioPath     string
	AudioDuration float64
}

// ScriptRule pairs a detector with a corrector. A Fix that returns an error rejects
// the script. Rules with Warn set only report when they detect something.
type ScriptRule struct {
	Name   string
	Detect func(src string, sc ScriptContext) bool
	Fix    func(src string, sc ScriptContext) (string, error)
	Warn   string
}

// ScriptReport lists what ApplyRules did.
type ScriptReport struct {
	Fixed    []string
	Warnings []string
}

var ErrInvalidScript = errors.New("invalid script")

// DefaultScriptRules run in order on every generated script.
var DefaultScriptRules = []ScriptRule{
	{Name: "extract_code", Detect: needsExtraction, Fix: extractCode},
	{Name: "require_import", Detect: missingLeadingImport, Fix: rejectMissingImport},
	{Name: "rate_functions", Detect: hasUnsupportedRateFunc, Fix: renameRateFuncs},
	{Name: "random_vectors", Detect: hasRandomVectors, Fix: fixRandomVectors},
	{Name: "numpy_import", Detect: missingNumpyImport, Fix: addNumpyImport},
	{Name: "scene_class_name", Detect: sceneClassMisnamed, Fix: renameSceneClass},
	{Name: "structure", Detect: missingStructure, Fix: rejectStructure},
	{Name: "audio_track", Detect: missingAudioTrack, Fix: injectAudioTrack},
	{Name: "loop_count", Detect: tooManyLoops, Warn: "script contains more than two object loops, render may be slow"},
}

func ApplyRules(src string, sc ScriptContext, rules []ScriptRule) (string, ScriptReport, error) {
	var rep ScriptReport
	for _, r := range rules {
		if !r.Detect(src, sc) {
			continue
		}
		if r.Fix == nil {
			rep.Warnings = append(rep.Warnings, r.Warn)
			continue
		}
		out, err := r.Fix(src, sc)
		if err != nil {
			return "", rep, fmt.Errorf("%w: %s: %v", ErrInvalidScript, r.Name, err)
		}
		src = out
		rep.Fixed = append(rep.Fixed, r.Name)
	}
	return src, rep, nil
}

var importMarkers = []string{"from manim import", "import manim", "import numpy"}

func needsExtraction(src string, sc ScriptContext) bool {
	out, _ := extractCode(src, sc)
	return strings.TrimSpace(out) != strings.TrimSpace(src)
}

// extractCode drops any preamble before the first import, markdown fences, and
// prose after the last line that belongs to a class.
func extractCode(src string, _ ScriptContext) (string, error) {
	first := -1
	for _, m := range importMarkers {
		if i := strings.Index(src, m); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	if first > 0 {
		src = src[first:]
	}
	src = strings.ReplaceAll(src, "```python", "")
	src = strings.ReplaceAll(src, "```", "")

	lines := strings.Split(src, "\n")
	last := len(lines) - 1
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimRight(lines[i], " \t\r")
		if l != "" && (strings.HasPrefix(l, "    ") || strings.HasPrefix(l, "\t") || strings.Contains(l, "class ")) {
			last = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[:last+1], "\n")), nil
}

func missingLeadingImport(src string, _ ScriptContext) bool {
	return !strings.HasPrefix(src, "from manim import") && !strings.HasPrefix(src, "import")
}

func rejectMissingImport(src string, _ ScriptContext) (string, error) {
	head := src
	if len(head) > 80 {
		head = head[:80]
	}
	return "", fmt.Errorf("script does not start with an import: %q", head)
}

var rateFuncRenames = map[string]string{
	"ease_in_out_sine":  "smooth",
	"ease_in_sine":      "slow_into",
	"ease_out_sine":     "rush_from",
	"ease_in_out_quad":  "smooth",
	"ease_in_out_cubic": "smooth",
	"ease_in_out":       "smooth",
	"ease_in":           "rush_into",
	"ease_out":          "rush_from",
}

var rateFuncRe = regexp.MustCompile(`\b(ease_in_out_sine|ease_in_out_quad|ease_in_out_cubic|ease_in_sine|ease_out_sine|ease_in_out|ease_in|ease_out)\b`)

func hasUnsupportedRateFunc(src string, _ ScriptContext) bool {
	return rateFuncRe.MatchString(src)
}

func renameRateFuncs(src string, _ ScriptContext) (string, error) {
	return rateFuncRe.ReplaceAllStringFunc(src, func(m string) string {
		return rateFuncRenames[m]
	}), nil
}

// randomVectorFixes replace 2D random offsets, which break 3D point arithmetic.
var randomVectorFixes = []struct{ from, to string }{
	{"np.random.randn(2)", "np.array([np.random.uniform(-1, 1), np.random.uniform(-1, 1), 0])"},
	{"+ 0.3*np.random", "+ np.array([0.3, 0.2, 0])"},
	{"+ 0.5*np.random", "+ np.array([0.5, 0.3, 0])"},
	{"shift(0.05*np.random", "shift(np.array([0.05, 0.03, 0])"},
	{"shift(0.2*np.random", "shift(np.array([0.2, 0.15, 0])"},
	{"shift(0.8*np.random", "shift(np.array([0.8, 0.6, 0])"},
}

func hasRandomVectors(src string, _ ScriptContext) bool {
	for _, f := range randomVectorFixes {
		if strings.Contains(src, f.from) {
			return true
		}
	}
	return false
}

func fixRandomVectors(src string, _ ScriptContext) (string, error) {
	for _, f := range randomVectorFixes {
		src = strings.ReplaceAll(src, f.from, f.to)
	}
	return src, nil
}

func missingNumpyImport(src string, _ ScriptContext) bool {
	return strings.Contains(src, "np.") && !strings.Contains(src, "import numpy as np")
}

func addNumpyImport(src string, _ ScriptContext) (string, error) {
	const manimImport = "from manim import *"
	if strings.Contains(src, manimImport) {
		return strings.Replace(src, manimImport, manimImport+"\nimport numpy as np", 1), nil
	}
	return "import numpy as np\n" + src, nil
}

var sceneClassRe = regexp.MustCompile(`(?m)^class\s+(\w+)\s*\(\s*(\w*Scene)\s*\)\s*:`)

func sceneClassMisnamed(src string, sc ScriptContext) bool {
	m := sceneClassRe.FindAllStringSubmatch(src, -1)
	return sc.ClassName != "" && len(m) == 1 && m[0][1] != sc.ClassName
}

// renameSceneClass renames the only Scene subclass so the renderer can find it by name.
func renameSceneClass(src string, sc ScriptContext) (string, error) {
	loc := sceneClassRe.FindStringSubmatchIndex(src)
	return src[:loc[2]] + sc.ClassName + src[loc[3]:], nil
}

var constructRe = regexp.MustCompile(`(?m)^([ \t]*)def construct\(self\):`)

func missingStructure(src string, _ ScriptContext) bool {
	return !sceneClassRe.MatchString(src) || !constructRe.MatchString(src)
}

func rejectStructure(src string, _ ScriptContext) (string, error) {
	if !sceneClassRe.MatchString(src) {
		return "", errors.New("missing class definition inheriting Scene")
	}
	return "", errors.New("missing construct method")
}

var addSoundRe = regexp.MustCompile(`add_sound\(\s*("[^"\n]*"|'[^'\n]*'|[^,)\n]*)`)

// missingAudioTrack reports a script that never plays the narration file, either
// because it has no add_sound call or because a call points somewhere else.
func missingAudioTrack(src string, sc ScriptContext) bool {
	if sc.AudioPath == "" {
		return false
	}
	calls := addSoundRe.FindAllStringSubmatch(src, -1)
	if len(calls) == 0 {
		return true
	}
	for _, c := range calls {
		if strings.Trim(strings.TrimSpace(c[1]), `"'`) != sc.AudioPath {
			return true
		}
	}
	return false
}

// injectAudioTrack points existing add_sound calls at the narration file, or makes
// self.add_sound the first statement of construct when there is none.
func injectAudioTrack(src string, sc ScriptContext) (string, error) {
	if addSoundRe.MatchString(src) {
		return addSoundRe.ReplaceAllLiteralString(src, fmt.Sprintf("add_sound(%q", sc.AudioPath)), nil
	}
	loc := constructRe.FindStringSubmatchIndex(src)
	if loc == nil {
		return "", errors.New("missing construct method")
	}
	indent := src[loc[2]:loc[3]]
	body := indent + "    "
	if strings.Contains(indent, "\t") {
		body = indent + "\t"
	}
	line := fmt.Sprintf("\n%s# narration audio\n%sself.add_sound(%q)\n", body, body, sc.AudioPath)
	return src[:loc[1]] + line + src[loc[1]:], nil
}

func tooManyLoops(src string, _ ScriptContext) bool {
	return strings.Count(src, "for _ in range(") > 2
}
