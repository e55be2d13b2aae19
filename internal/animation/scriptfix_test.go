package animation

import (
	"errors"
	"strings"
	"testing"
)

func TestClassName(t *testing.T) {
	cases := map[string]string{
		"Newton's First Law":   "NewtonsFirstLawScene",
		"photosynthesis":       "PhotosynthesisScene",
		"3D shapes & volumes":  "Anim3dShapesVolumesScene",
		"  ":                   "AnimationScene",
		"DNA replication":      "DnaReplicationScene",
		"area-of a   triangle": "AreaOfATriangleScene",
	}
	for in, want := range cases {
		if got := ClassName(in); got != want {
			t.Errorf("ClassName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyRules_RateFunctionsUseWholeWords(t *testing.T) {
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n" +
		"        self.play(a, rate_func=ease_in_out_quad)\n" +
		"        self.play(b, rate_func=ease_in)\n" +
		"        self.play(c, rate_func=ease_out_sine)\n"
	out, rep, err := ApplyRules(src, ScriptContext{ClassName: "AScene"}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"rate_func=smooth)", "rate_func=rush_into)", "rate_func=rush_from)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
	if strings.Contains(out, "smooth_quad") {
		t.Fatalf("partial rename leaked:\n%s", out)
	}
	if len(rep.Fixed) != 1 || rep.Fixed[0] != "rate_functions" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestApplyRules_CleanScriptIsNotExtracted(t *testing.T) {
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n        self.wait(1)\n\n"
	out, rep, err := ApplyRules(src, ScriptContext{ClassName: "AScene"}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	if containsString(rep.Fixed, "extract_code") || out != src {
		t.Fatalf("clean script rewritten: %+v\n%q", rep, out)
	}
}

func TestApplyRules_RandomVectorsAndNumpy(t *testing.T) {
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n" +
		"        d = Dot().shift(0.2*np.random.randn(2))\n"
	out, _, err := ApplyRules(src, ScriptContext{ClassName: "AScene"}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "randn(2)") {
		t.Fatalf("2D random vector survived:\n%s", out)
	}
	if !strings.HasPrefix(out, "from manim import *\nimport numpy as np\n") {
		t.Fatalf("numpy import not added after manim import:\n%s", out)
	}
}

func TestApplyRules_RejectsBrokenStructure(t *testing.T) {
	cases := []string{
		"Sorry, I cannot help with that.",
		"from manim import *\n\ndef helper():\n    pass\n",
		"from manim import *\n\nclass AScene(Scene):\n    def setup(self):\n        pass\n",
	}
	for _, src := range cases {
		if _, _, err := ApplyRules(src, ScriptContext{ClassName: "AScene"}, DefaultScriptRules); !errors.Is(err, ErrInvalidScript) {
			t.Fatalf("expected ErrInvalidScript for %q, got %v", src, err)
		}
	}
}

func TestApplyRules_InjectsAudioFirstInConstruct(t *testing.T) {
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n        self.wait(1)\n"
	out, _, err := ApplyRules(src, ScriptContext{ClassName: "AScene", AudioPath: "/srv/narrations/01J_narration.wav"}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	idxSound := strings.Index(out, `        self.add_sound("/srv/narrations/01J_narration.wav")`)
	idxWait := strings.Index(out, "self.wait(1)")
	if idxSound < 0 || idxSound > idxWait {
		t.Fatalf("add_sound not first statement:\n%s", out)
	}

	// already present: left alone
	again, _, _ := ApplyRules(out, ScriptContext{ClassName: "AScene", AudioPath: "/srv/narrations/01J_narration.wav"}, DefaultScriptRules)
	if strings.Count(again, "add_sound") != 1 {
		t.Fatalf("audio injected twice:\n%s", again)
	}
}

func TestApplyRules_RepointsForeignAudioTrack(t *testing.T) {
	const audio = "/srv/narrations/01ABC_narration.wav"
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n" +
		"        self.add_sound(\"narration.wav\")\n        self.wait(1)\n"
	out, rep, err := ApplyRules(src, ScriptContext{ClassName: "AScene", AudioPath: audio}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	if !containsString(rep.Fixed, "audio_track") {
		t.Fatalf("foreign audio track not detected: %+v", rep)
	}
	if !strings.Contains(out, `self.add_sound("`+audio+`")`) || strings.Contains(out, `"narration.wav"`) {
		t.Fatalf("add_sound not pointed at narration file:\n%s", out)
	}
	if strings.Count(out, "add_sound") != 1 {
		t.Fatalf("expected the existing call to be rewritten in place:\n%s", out)
	}

	// extra arguments survive
	src = strings.Replace(src, `"narration.wav")`, `'narration.wav', time_offset=0.5)`, 1)
	out, _, err = ApplyRules(src, ScriptContext{ClassName: "AScene", AudioPath: audio}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `self.add_sound("`+audio+`", time_offset=0.5)`) {
		t.Fatalf("add_sound arguments lost:\n%s", out)
	}
}

func TestApplyRules_WarnsOnManyLoops(t *testing.T) {
	src := "from manim import *\n\nclass AScene(Scene):\n    def construct(self):\n" +
		strings.Repeat("        for _ in range(3):\n            self.wait(0.1)\n", 3)
	_, rep, err := ApplyRules(src, ScriptContext{ClassName: "AScene"}, DefaultScriptRules)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", rep.Warnings)
	}
}

func TestFitNarration(t *testing.T) {
	b := boundsForLevel(4)
	if b.Min != 80 || b.Max != 250 {
		t.Fatalf("unexpected bounds for grade 4: %+v", b)
	}
	if _, err := fitNarration("Too short.", b); err == nil {
		t.Fatal("expected short narration to be rejected")
	}

	long := strings.Repeat("gravity pulls objects toward the earth ", 20)
	out, err := fitNarration(strings.TrimSpace(long), b)
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(out)) > b.Max || !strings.HasSuffix(out, "...") {
		t.Fatalf("not truncated properly (%d chars): %q", len(out), out)
	}
	if strings.HasSuffix(strings.TrimSuffix(out, "..."), " ") {
		t.Fatalf("truncation should end on a word: %q", out)
	}

	if got := cleanNarration(`  "**Inertia** keeps things   moving."  `); got != "Inertia keeps things moving." {
		t.Fatalf("clean: %q", got)
	}
}

func TestCanTransition(t *testing.T) {
	ok := [][2]string{
		{"generating_narration", "generating_audio"},
		{"generating_script", "pending"},
		{"rendering", "completed"},
		{"pending", "failed"},
		{"failed", "generating_narration"},
	}
	bad := [][2]string{
		{"completed", "generating_narration"},
		{"completed", "failed"},
		{"pending", "completed"},
		{"generating_narration", "pending"},
		{"failed", "pending"},
	}
	for _, c := range ok {
		if !CanTransition(statusOf(c[0]), statusOf(c[1])) {
			t.Errorf("%s -> %s should be allowed", c[0], c[1])
		}
	}
	for _, c := range bad {
		if CanTransition(statusOf(c[0]), statusOf(c[1])) {
			t.Errorf("%s -> %s should be refused", c[0], c[1])
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
