package jobstore

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

type Status string

const (
	StatusGeneratingNarration Status = "generating_narration"
	StatusGeneratingAudio     Status = "generating_audio"
	StatusGeneratingScript    Status = "generating_script"
	StatusPending             Status = "pending"
	StatusRendering           Status = "rendering"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further pipeline work happens without a retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable job record. Stage artifacts stay nil until their stage has run.
type Job struct {
	ID string `json:"job_id"`

	Topic     string `json:"topic"`
	TopicID   int    `json:"topic_id"`
	Subject   string `json:"subject"`
	SubjectID int    `json:"subject_id"`
	Chapter   string `json:"chapter"`
	ChapterID int    `json:"chapter_id"`
	Level     int    `json:"level"`

	// narration text stage
	NarrationText *string `json:"narration_text"`

	// narration audio stage
	AudioFilename *string  `json:"audio_filename"`
	AudioDuration *float64 `json:"audio_duration"`
	VoiceStyle    *string  `json:"voice_style"`

	// script stage
	Script     *string `json:"script"`
	ScriptPath *string `json:"script_path"`
	ClassName  *string `json:"class_name"`

	// render
	VideoName *string `json:"video_name"`

	Status  Status  `json:"status"`
	Message string  `json:"message"`
	Error   *string `json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Timestamp orders the jobs index. Set once at creation.
	Timestamp OrderKey `json:"timestamp"`
}

// Clone returns a deep copy so callers can hand out records without sharing pointers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.NarrationText = cloneString(j.NarrationText)
	c.AudioFilename = cloneString(j.AudioFilename)
	c.VoiceStyle = cloneString(j.VoiceStyle)
	c.Script = cloneString(j.Script)
	c.ScriptPath = cloneString(j.ScriptPath)
	c.ClassName = cloneString(j.ClassName)
	c.VideoName = cloneString(j.VideoName)
	c.Error = cloneString(j.Error)
	if j.AudioDuration != nil {
		d := *j.AudioDuration
		c.AudioDuration = &d
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// OrderKey is a unix timestamp in fractional seconds.
// Decoding never fails: numbers, numeric strings and RFC 3339 strings are accepted,
// anything else decodes to zero and is repaired on the next Save.
type OrderKey float64

func (k OrderKey) Valid() bool { return k > 0 }

func OrderKeyFrom(t time.Time) OrderKey {
	return OrderKey(float64(t.UnixNano()) / 1e9)
}

func (k *OrderKey) UnmarshalJSON(b []byte) error {
	*k = 0
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*k = OrderKey(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*k = OrderKey(f)
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*k = OrderKeyFrom(t)
	}
	return nil
}

// repairOrderKey fills a missing or invalid ordering timestamp from created_at, then now.
func repairOrderKey(j *Job, now time.Time) {
	if j.Timestamp.Valid() {
		return
	}
	if !j.CreatedAt.IsZero() {
		j.Timestamp = OrderKeyFrom(j.CreatedAt)
		return
	}
	j.Timestamp = OrderKeyFrom(now)
}
