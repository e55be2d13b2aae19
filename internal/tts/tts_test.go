package tts

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeWAV_Duration(t *testing.T) {
	wav := EncodeWAV(make([]int16, 44100*2), 44100, 1)
	info, err := ProbeWAV(wav)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Fatalf("unexpected header: %+v", info)
	}
	if math.Abs(info.Duration-2.0) > 1e-9 {
		t.Fatalf("expected 2s, got %f", info.Duration)
	}
}

func TestProbeWAV_RejectsGarbage(t *testing.T) {
	if _, err := ProbeWAV([]byte("ID3 not a wav file")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestHTTPClient_SynthesizeFallsBackToHeaderProbe(t *testing.T) {
	wav := EncodeWAV(make([]int16, 24000), 24000, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/synthesize":
			var req synthesizeReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Voice == "ghost" {
				http.NotFound(w, r)
				return
			}
			if req.Speed != 1.05 {
				t.Errorf("expected speed forwarded, got %v", req.Speed)
			}
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write(wav)
		case "/voices":
			_ = json.NewEncoder(w).Encode(map[string]any{"voices": []string{"F1", "M1"}})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{Speed: 1.05, TotalSteps: 5})
	sp, err := c.Synthesize(context.Background(), "hello class", "F1")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if sp.SampleRate != 24000 || math.Abs(sp.Duration-1.0) > 1e-9 {
		t.Fatalf("unexpected speech meta: rate=%d dur=%f", sp.SampleRate, sp.Duration)
	}

	if _, err := c.Synthesize(context.Background(), "hello", "ghost"); !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("expected ErrUnknownVoice, got %v", err)
	}

	voices, err := c.Voices(context.Background())
	if err != nil || len(voices) != 2 {
		t.Fatalf("voices: %v %v", voices, err)
	}
}
