package animation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// Repo is the cache index over the animations table.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Animation{})
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CheckExisting returns the completed animation for the tuple, or nil when there is none.
// Rows that are still in progress or failed are a miss.
func (r *Repo) CheckExisting(ctx context.Context, level, subjectID, chapterID, topicID int) (*Animation, error) {
	var a Animation
	err := r.db.WithContext(ctx).
		Where("level = ? AND subject_id = ? AND chapter_id = ? AND topic_id = ? AND status = ?",
			level, subjectID, chapterID, topicID, jobstore.StatusCompleted).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert inserts the row for the tuple or overwrites its job and artifact fields
// unconditionally. It is used for completions. created_at of an existing row is kept.
func (r *Repo) Upsert(ctx context.Context, a *Animation) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: identityColumns,
			DoUpdates: clause.AssignmentColumns([]string{
				"subject_name", "chapter_name", "topic_name",
				"job_id", "video_name", "status",
				"narration_text", "audio_filename", "audio_duration", "voice_style",
				"updated_at",
			}),
		}).
		Create(a).Error
}

var identityColumns = []clause.Column{{Name: "level"}, {Name: "subject_id"}, {Name: "chapter_id"}, {Name: "topic_id"}}

// Track records an in-progress job for its tuple. A row that already points at a
// completed job is left alone, so the tuple keeps serving that video until a new
// completion replaces it through Upsert.
func (r *Repo) Track(ctx context.Context, a *Animation) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: identityColumns, DoNothing: true}).Create(a)
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
		return tx.Model(&Animation{}).
			Where("level = ? AND subject_id = ? AND chapter_id = ? AND topic_id = ?",
				a.Level, a.SubjectID, a.ChapterID, a.TopicID).
			Where("status <> ?", jobstore.StatusCompleted).
			Updates(map[string]any{
				"subject_name":   a.SubjectName,
				"chapter_name":   a.ChapterName,
				"topic_name":     a.TopicName,
				"job_id":         a.JobID,
				"video_name":     a.VideoName,
				"status":         a.Status,
				"narration_text": a.NarrationText,
				"audio_filename": a.AudioFilename,
				"audio_duration": a.AudioDuration,
				"voice_style":    a.VoiceStyle,
				"updated_at":     now,
			}).Error
	})
}

// StatusUpdate carries the optional artifact fields written alongside a status change.
type StatusUpdate struct {
	VideoName     *string
	AudioFilename *string
	AudioDuration *float64
}

// UpdateStatus reports whether a row for jobID existed.
func (r *Repo) UpdateStatus(ctx context.Context, jobID string, status jobstore.Status, u StatusUpdate) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if u.VideoName != nil {
		updates["video_name"] = *u.VideoName
	}
	if u.AudioFilename != nil {
		updates["audio_filename"] = *u.AudioFilename
	}
	if u.AudioDuration != nil {
		updates["audio_duration"] = *u.AudioDuration
	}
	res := r.db.WithContext(ctx).Model(&Animation{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) GetByJobID(ctx context.Context, jobID string) (*Animation, error) {
	var a Animation
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns rows newest first.
func (r *Repo) List(ctx context.Context, limit int) ([]Animation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []Animation
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type CacheStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	ByLevel  map[int]int64    `json:"by_level"`
}

func (r *Repo) Stats(ctx context.Context) (*CacheStats, error) {
	st := &CacheStats{ByStatus: map[string]int64{}, ByLevel: map[int]int64{}}

	if err := r.db.WithContext(ctx).Model(&Animation{}).Count(&st.Total).Error; err != nil {
		return nil, err
	}

	var byStatus []struct {
		Status string
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&Animation{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		st.ByStatus[row.Status] = row.N
	}

	var byLevel []struct {
		Level int
		N     int64
	}
	if err := r.db.WithContext(ctx).Model(&Animation{}).
		Select("level, COUNT(*) AS n").
		Group("level").
		Scan(&byLevel).Error; err != nil {
		return nil, err
	}
	for _, row := range byLevel {
		st.ByLevel[row.Level] = row.N
	}
	return st, nil
}
