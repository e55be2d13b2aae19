package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Options are the synthesis knobs forwarded with every request.
type Options struct {
	Speed           float64
	TotalSteps      int
	SilenceDuration float64
}

// HTTPClient is a Synthesizer backed by the TTS HTTP service:
//
//	GET  /voices      -> {"voices": ["F1", "M1", ...]}
//	POST /synthesize  -> audio/wav body, X-Sample-Rate / X-Audio-Duration headers
type HTTPClient struct {
	BaseURL string
	Opts    Options
	Client  *http.Client
}

func NewHTTPClient(baseURL string, opts Options) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Opts:    opts,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type synthesizeReq struct {
	Text            string  `json:"text"`
	Voice           string  `json:"voice"`
	Speed           float64 `json:"speed,omitempty"`
	TotalSteps      int     `json:"total_steps,omitempty"`
	SilenceDuration float64 `json:"silence_duration,omitempty"`
}

func (c *HTTPClient) Synthesize(ctx context.Context, text, voice string) (*Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: text is required")
	}
	body, err := json.Marshal(synthesizeReq{
		Text:            text,
		Voice:           voice,
		Speed:           c.Opts.Speed,
		TotalSteps:      c.Opts.TotalSteps,
		SilenceDuration: c.Opts.SilenceDuration,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVoice, voice)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	sp := &Speech{WAV: wav}
	if v, err := strconv.Atoi(resp.Header.Get("X-Sample-Rate")); err == nil {
		sp.SampleRate = v
	}
	if v, err := strconv.ParseFloat(resp.Header.Get("X-Audio-Duration"), 64); err == nil {
		sp.Duration = v
	}
	if sp.SampleRate == 0 || sp.Duration <= 0 {
		info, err := ProbeWAV(wav)
		if err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
		if sp.SampleRate == 0 {
			sp.SampleRate = info.SampleRate
		}
		if sp.Duration <= 0 {
			sp.Duration = info.Duration
		}
	}
	return sp, nil
}

func (c *HTTPClient) Voices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tts: voices status %d", resp.StatusCode)
	}
	var decoded struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tts: decode voices: %w", err)
	}
	return decoded.Voices, nil
}

var _ Synthesizer = (*HTTPClient)(nil)
