package animation

import (
	"time"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// Animation is the cache index row: one per (level, subject_id, chapter_id, topic_id).
type Animation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Level       int    `gorm:"not null;uniqueIndex:uniq_animation_identity,priority:1" json:"level"`
	SubjectID   int    `gorm:"not null;uniqueIndex:uniq_animation_identity,priority:2" json:"subject_id"`
	SubjectName string `gorm:"type:varchar(255)" json:"subject_name"`
	ChapterID   int    `gorm:"not null;uniqueIndex:uniq_animation_identity,priority:3" json:"chapter_id"`
	ChapterName string `gorm:"type:varchar(255)" json:"chapter_name"`
	TopicID     int    `gorm:"not null;uniqueIndex:uniq_animation_identity,priority:4" json:"topic_id"`
	TopicName   string `gorm:"type:varchar(255);not null" json:"topic_name"`

	JobID     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"job_id"`
	VideoName *string         `gorm:"type:varchar(255)" json:"video_name"`
	Status    jobstore.Status `gorm:"type:varchar(32);index;not null" json:"status"`

	NarrationText *string  `gorm:"type:text" json:"narration_text"`
	AudioFilename *string  `gorm:"type:varchar(255)" json:"audio_filename"`
	AudioDuration *float64 `json:"audio_duration"`
	VoiceStyle    *string  `gorm:"type:varchar(32)" json:"voice_style"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Animation) TableName() string { return "animations" }

// animationFromJob builds the summary row for a job.
func animationFromJob(j *jobstore.Job) *Animation {
	return &Animation{
		Level:         j.Level,
		SubjectID:     j.SubjectID,
		SubjectName:   j.Subject,
		ChapterID:     j.ChapterID,
		ChapterName:   j.Chapter,
		TopicID:       j.TopicID,
		TopicName:     j.Topic,
		JobID:         j.ID,
		VideoName:     j.VideoName,
		Status:        j.Status,
		NarrationText: j.NarrationText,
		AudioFilename: j.AudioFilename,
		AudioDuration: j.AudioDuration,
		VoiceStyle:    j.VoiceStyle,
	}
}

// toJob is the reduced-fidelity record served once the job store has let the job expire.
func (a *Animation) toJob() *jobstore.Job {
	return &jobstore.Job{
		ID:            a.JobID,
		Topic:         a.TopicName,
		TopicID:       a.TopicID,
		Subject:       a.SubjectName,
		SubjectID:     a.SubjectID,
		Chapter:       a.ChapterName,
		ChapterID:     a.ChapterID,
		Level:         a.Level,
		NarrationText: a.NarrationText,
		AudioFilename: a.AudioFilename,
		AudioDuration: a.AudioDuration,
		VoiceStyle:    a.VoiceStyle,
		VideoName:     a.VideoName,
		Status:        a.Status,
		Message:       "Restored from animation cache",
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		Timestamp:     jobstore.OrderKeyFrom(a.CreatedAt),
	}
}
