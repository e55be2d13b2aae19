package handlers

import (
	"context"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
	"github.com/suPer8Hu/animation-platform/internal/logger"
)

// AnimationService is the orchestrator surface the handlers use.
type AnimationService interface {
	Create(ctx context.Context, req animation.CreateRequest) (*animation.Result, error)
	Retry(ctx context.Context, jobID string) (*animation.Result, error)
	Status(ctx context.Context, jobID string) (*jobstore.Job, bool, error)
	List(ctx context.Context) ([]*jobstore.Job, error)
	CheckCache(ctx context.Context, level, subjectID, chapterID, topicID int) (*animation.Animation, error)
	CacheStats(ctx context.Context) (*animation.CacheStats, error)
	ListCached(ctx context.Context, limit int) ([]animation.Animation, error)
	Video(ctx context.Context, jobID string) (*animation.VideoFile, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// JobIndex is the job store as seen by stats and health.
type JobIndex interface {
	Pinger
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	Svc   AnimationService
	Jobs  JobIndex
	Cache Pinger
	Cfg   config.Config
	// RenderAvailable reports whether the render binary resolves on PATH.
	RenderAvailable func() bool
	Log             *logger.Logger
}

func NewHandler(svc AnimationService, jobs JobIndex, cache Pinger, cfg config.Config, renderAvailable func() bool, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if renderAvailable == nil {
		renderAvailable = func() bool { return false }
	}
	return &Handler{
		Svc:             svc,
		Jobs:            jobs,
		Cache:           cache,
		Cfg:             cfg,
		RenderAvailable: renderAvailable,
		Log:             log.With("component", "http"),
	}
}
