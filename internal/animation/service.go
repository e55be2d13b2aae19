// Package animation drives animation jobs through narration, speech, script
// generation and rendering, and keeps the job store and cache index in step.
package animation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/animation-platform/internal/ai"
	"github.com/suPer8Hu/animation-platform/internal/common"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
	"github.com/suPer8Hu/animation-platform/internal/logger"
	"github.com/suPer8Hu/animation-platform/internal/render"
	"github.com/suPer8Hu/animation-platform/internal/tts"
)

var tracer = otel.Tracer("github.com/suPer8Hu/animation-platform/internal/animation")

// JobStore is the durable job record store.
type JobStore interface {
	Save(ctx context.Context, job *jobstore.Job) error
	Get(ctx context.Context, id string) (*jobstore.Job, error)
	ListAll(ctx context.Context) ([]*jobstore.Job, error)
}

// JobMirror is the write-through recovery copy.
type JobMirror interface {
	Write(job *jobstore.Job) error
}

type Settings struct {
	AIProvider    string
	AIModel       string
	DefaultVoice  string
	ScriptsDir    string
	NarrationsDir string
	MediaRoot     string
	VideoExt      string
}

type Deps struct {
	Store    JobStore
	Mirror   JobMirror
	Cache    *Repo
	LLM      *ai.Registry
	TTS      tts.Synthesizer
	Renderer render.Runner
	Log      *logger.Logger
}

type Service struct {
	store      JobStore
	mirror     JobMirror
	cache      *Repo
	llm        *ai.Registry
	tts        tts.Synthesizer
	renderer   render.Runner
	dispatcher Dispatcher
	rules      []ScriptRule

	cfg   Settings
	locks *keyedMutex
	log   *logger.Logger
	now   func() time.Time
	newID func() (string, error)
}

func NewService(d Deps, cfg Settings) *Service {
	if cfg.VideoExt == "" {
		cfg.VideoExt = "mp4"
	}
	cfg.VideoExt = strings.TrimPrefix(cfg.VideoExt, ".")
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "F1"
	}
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:    d.Store,
		mirror:   d.Mirror,
		cache:    d.Cache,
		llm:      d.LLM,
		tts:      d.TTS,
		renderer: d.Renderer,
		rules:    DefaultScriptRules,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		log:      log.With("component", "animation"),
		now:      time.Now,
		newID:    common.NewULID,
	}
}

// SetDispatcher must be called before Create or Retry.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

func (s *Service) Settings() Settings { return s.cfg }

type CreateRequest struct {
	Topic      string `json:"topic"`
	TopicID    int    `json:"topic_id"`
	Subject    string `json:"subject"`
	SubjectID  int    `json:"subject_id"`
	Chapter    string `json:"chapter"`
	ChapterID  int    `json:"chapter_id"`
	Level      int    `json:"level"`
	VoiceStyle string `json:"voice_style,omitempty"`
}

func (r *CreateRequest) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Subject = strings.TrimSpace(r.Subject)
	r.Chapter = strings.TrimSpace(r.Chapter)
	r.VoiceStyle = strings.TrimSpace(r.VoiceStyle)
	switch {
	case r.Topic == "" || r.Subject == "" || r.Chapter == "":
		return fmt.Errorf("%w: topic, subject and chapter are required", ErrInvalidRequest)
	case r.Level <= 0:
		return fmt.Errorf("%w: level must be positive", ErrInvalidRequest)
	}
	return ValidateIdentity(r.Level, r.SubjectID, r.ChapterID, r.TopicID)
}

// ValidateIdentity checks a (level, subject_id, chapter_id, topic_id) tuple.
func ValidateIdentity(level, subjectID, chapterID, topicID int) error {
	if level <= 0 || subjectID <= 0 || chapterID <= 0 || topicID <= 0 {
		return fmt.Errorf("%w: level, subject_id, chapter_id and topic_id must be positive", ErrInvalidRequest)
	}
	return nil
}

// Result is what create and retry report back.
type Result struct {
	JobID     string          `json:"job_id"`
	Status    jobstore.Status `json:"status"`
	Message   string          `json:"message"`
	Cached    bool            `json:"cached"`
	Script    *string         `json:"script,omitempty"`
	VideoName *string         `json:"video_name,omitempty"`
}

func resultOf(j *jobstore.Job) *Result {
	return &Result{
		JobID:     j.ID,
		Status:    j.Status,
		Message:   j.Message,
		Script:    j.Script,
		VideoName: j.VideoName,
	}
}

// Create serves a cache hit without running any stage. Otherwise it creates a job,
// runs the three stages, and hands the job to the render dispatcher.
// Stage failures return a *StageError together with the failed job's result.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hit, err := s.cache.CheckExisting(ctx, req.Level, req.SubjectID, req.ChapterID, req.TopicID)
	if err != nil {
		s.log.Warn("cache lookup failed, generating", "err", err)
	}
	if hit != nil {
		s.log.Info("cache hit", "job_id", hit.JobID, "level", req.Level, "topic_id", req.TopicID)
		return &Result{
			JobID:     hit.JobID,
			Status:    hit.Status,
			Message:   "Animation already generated",
			Cached:    true,
			VideoName: hit.VideoName,
		}, nil
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("new job id: %w", err)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.now().UTC()
	job := &jobstore.Job{
		ID:        id,
		Topic:     req.Topic,
		TopicID:   req.TopicID,
		Subject:   req.Subject,
		SubjectID: req.SubjectID,
		Chapter:   req.Chapter,
		ChapterID: req.ChapterID,
		Level:     req.Level,
		Status:    jobstore.StatusGeneratingNarration,
		Message:   msgGeneratingNarration,
		CreatedAt: now,
		UpdatedAt: now,
		Timestamp: jobstore.OrderKeyFrom(now),
	}
	// The job must be durable before any stage runs.
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persist new job: %w", err)
	}
	if err := s.mirror.Write(job); err != nil {
		return nil, fmt.Errorf("mirror new job: %w", err)
	}
	s.log.Info("job created", "job_id", id, "topic", req.Topic, "level", req.Level)

	return s.runPipeline(ctx, job, req.VoiceStyle)
}

// Retry re-runs every stage for a failed job under the same id.
func (s *Service) Retry(ctx context.Context, jobID string) (*Result, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != jobstore.StatusFailed {
		return nil, fmt.Errorf("%w: current status is %s", ErrNotRetryable, job.Status)
	}

	s.log.Info("retrying job", "job_id", jobID, "topic", job.Topic)
	job.Error = nil
	if err := s.advance(ctx, job, jobstore.StatusGeneratingNarration, msgRegenerating); err != nil {
		return nil, err
	}
	voice := ""
	if job.VoiceStyle != nil {
		voice = *job.VoiceStyle
	}
	return s.runPipeline(ctx, job, voice)
}

func (s *Service) runPipeline(ctx context.Context, job *jobstore.Job, voice string) (*Result, error) {
	if err := s.runStages(ctx, job, voice); err != nil {
		if ferr := s.fail(ctx, job, msgCreateFailed, err); ferr != nil {
			s.log.Error("could not record job failure", "job_id", job.ID, "err", ferr)
		}
		return resultOf(job), err
	}

	if err := s.dispatch(ctx, job); err != nil {
		return resultOf(job), err
	}
	return resultOf(job), nil
}

func (s *Service) runStages(ctx context.Context, job *jobstore.Job, voice string) error {
	provider, err := s.llm.Get(ctx, s.cfg.AIProvider, s.cfg.AIModel)
	if err != nil {
		return &StageError{Stage: StageNarrationText, JobID: job.ID, Err: err}
	}

	var text string
	if err := s.stage(ctx, job, StageNarrationText, func(ctx context.Context) error {
		var err error
		text, err = s.generateNarration(ctx, provider, job)
		return err
	}); err != nil {
		return err
	}
	job.NarrationText = &text
	if err := s.advance(ctx, job, jobstore.StatusGeneratingAudio, msgGeneratingAudio); err != nil {
		return err
	}

	var audio *audioArtifact
	if err := s.stage(ctx, job, StageNarrationAudio, func(ctx context.Context) error {
		var err error
		audio, err = s.synthesizeNarration(ctx, job, text, voice)
		return err
	}); err != nil {
		return err
	}
	job.AudioFilename = &audio.Filename
	job.AudioDuration = &audio.Duration
	job.VoiceStyle = &audio.Voice
	if err := s.advance(ctx, job, jobstore.StatusGeneratingScript, msgGeneratingScript); err != nil {
		return err
	}

	var script *scriptArtifact
	if err := s.stage(ctx, job, StageScript, func(ctx context.Context) error {
		var err error
		script, err = s.generateScript(ctx, provider, job, audio)
		return err
	}); err != nil {
		return err
	}
	job.Script = &script.Script
	job.ScriptPath = &script.Path
	job.ClassName = &script.ClassName
	return s.advance(ctx, job, jobstore.StatusPending, msgPending)
}

// stage runs one collaborator call inside a span and wraps its failure.
func (s *Service) stage(ctx context.Context, job *jobstore.Job, st Stage, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "animation."+string(st), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.level", job.Level),
	))
	defer span.End()

	start := s.now()
	s.log.Info("stage started", "job_id", job.ID, "stage", st)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("stage failed", "job_id", job.ID, "stage", st, "err", err)
		return &StageError{Stage: st, JobID: job.ID, Err: err}
	}
	s.log.Info("stage finished", "job_id", job.ID, "stage", st, "cost", s.now().Sub(start))
	return nil
}

func (s *Service) dispatch(ctx context.Context, job *jobstore.Job) error {
	if s.dispatcher == nil {
		return s.dispatchFailed(ctx, job, errors.New("no render dispatcher configured"))
	}
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		return s.dispatchFailed(ctx, job, err)
	}
	s.log.Info("render dispatched", "job_id", job.ID)
	return nil
}

func (s *Service) dispatchFailed(ctx context.Context, job *jobstore.Job, err error) error {
	se := &StageError{Stage: StageDispatch, JobID: job.ID, Err: err}
	if ferr := s.fail(ctx, job, msgDispatchFailed, se); ferr != nil {
		s.log.Error("could not record dispatch failure", "job_id", job.ID, "err", ferr)
	}
	return se
}

// advance moves job to status and persists it.
func (s *Service) advance(ctx context.Context, job *jobstore.Job, to jobstore.Status, msg string) error {
	if err := checkTransition(job.Status, to); err != nil {
		return err
	}
	job.Status = to
	job.Message = msg
	return s.persist(ctx, job)
}

// fail moves job to failed with cause recorded verbatim.
func (s *Service) fail(ctx context.Context, job *jobstore.Job, msg string, cause error) error {
	if err := checkTransition(job.Status, jobstore.StatusFailed); err != nil {
		return err
	}
	errText := cause.Error()
	var se *StageError
	if errors.As(cause, &se) {
		errText = se.Err.Error()
	}
	job.Status = jobstore.StatusFailed
	job.Message = msg
	job.Error = &errText
	return s.persist(ctx, job)
}

// persist stamps updated_at, writes the job store (best effort, logged) and the
// mirror (must succeed), then brings the cache index row in line.
func (s *Service) persist(ctx context.Context, job *jobstore.Job) error {
	now := s.now().UTC()
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
	if err := s.store.Save(ctx, job); err != nil {
		s.log.Error("job store write failed", "job_id", job.ID, "status", job.Status, "err", err)
	}
	if err := s.mirror.Write(job); err != nil {
		return fmt.Errorf("mirror job %s: %w", job.ID, err)
	}
	s.syncCache(ctx, job)
	return nil
}

// syncCache writes the derived summary row. The row is claimed at pending unless it
// already maps a completed job, updated for rendering and failed only while it still
// belongs to this job, and overwritten by every completion.
func (s *Service) syncCache(ctx context.Context, job *jobstore.Job) {
	var err error
	switch job.Status {
	case jobstore.StatusPending:
		err = s.cache.Track(ctx, animationFromJob(job))
	case jobstore.StatusRendering, jobstore.StatusFailed:
		_, err = s.cache.UpdateStatus(ctx, job.ID, job.Status, StatusUpdate{})
	case jobstore.StatusCompleted:
		err = s.cache.Upsert(ctx, animationFromJob(job))
	default:
		return
	}
	if err != nil {
		s.log.Error("cache index write failed", "job_id", job.ID, "status", job.Status, "err", err)
	}
}

// Status reads the job store and falls back to the cache index once the record has expired.
// fromCache reports which one answered.
func (s *Service) Status(ctx context.Context, jobID string) (job *jobstore.Job, fromCache bool, err error) {
	job, err = s.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job != nil {
		return job, false, nil
	}
	row, err := s.cache.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return row.toJob(), true, nil
}

func (s *Service) List(ctx context.Context) ([]*jobstore.Job, error) {
	return s.store.ListAll(ctx)
}

// CheckCache is a read-only cache index lookup.
func (s *Service) CheckCache(ctx context.Context, level, subjectID, chapterID, topicID int) (*Animation, error) {
	if err := ValidateIdentity(level, subjectID, chapterID, topicID); err != nil {
		return nil, err
	}
	return s.cache.CheckExisting(ctx, level, subjectID, chapterID, topicID)
}

func (s *Service) CacheStats(ctx context.Context) (*CacheStats, error) {
	return s.cache.Stats(ctx)
}

func (s *Service) ListCached(ctx context.Context, limit int) ([]Animation, error) {
	return s.cache.List(ctx, limit)
}

// MarkFailed records an out-of-band failure, e.g. a render that could not be queued.
func (s *Service) MarkFailed(ctx context.Context, jobID, msg string, cause error) error {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}
	return s.fail(ctx, job, msg, cause)
}

// Video resolves the completed video of a job to a file inside the media root.
func (s *Service) Video(ctx context.Context, jobID string) (*VideoFile, error) {
	job, _, err := s.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobstore.StatusCompleted {
		return nil, fmt.Errorf("%w: job status is %s", ErrVideoNotReady, job.Status)
	}
	if job.VideoName == nil || *job.VideoName == "" {
		return nil, fmt.Errorf("%w: no video associated with job", ErrVideoNotFound)
	}
	return LocateVideo(s.cfg.MediaRoot, *job.VideoName)
}
