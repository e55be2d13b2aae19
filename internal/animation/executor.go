package animation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
	"github.com/suPer8Hu/animation-platform/internal/render"
)

const (
	logTail   = 500
	errorTail = 2000
)

// Render runs the renderer for a pending job and finalizes it as completed or failed.
// Renderer failures end up in the job record and are not returned; the returned
// error is for jobs that could not be loaded or persisted.
func (s *Service) Render(ctx context.Context, jobID string) (*jobstore.Job, error) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	// job state is read and written on pctx; cancellation of ctx only stops the renderer
	pctx := context.WithoutCancel(ctx)

	job, err := s.store.Get(pctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != jobstore.StatusPending {
		return job, fmt.Errorf("%w: render requested for job in %s", ErrInvalidTransition, job.Status)
	}
	if job.ScriptPath == nil || job.ClassName == nil {
		return job, s.fail(pctx, job, msgRenderFailed, errors.New("job has no script to render"))
	}
	if err := ctx.Err(); err != nil {
		s.log.Warn("render abandoned before start", "job_id", job.ID, "err", err)
		return job, s.fail(pctx, job, msgRenderInterrupted, fmt.Errorf("render not started: %w", err))
	}

	ctx, span := tracer.Start(ctx, "animation.render", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("render.scene", *job.ClassName),
	))
	defer span.End()

	if err := s.advance(pctx, job, jobstore.StatusRendering, msgRendering); err != nil {
		s.log.Error("could not record render start", "job_id", job.ID, "err", err)
		if ferr := s.fail(pctx, job, msgRenderFailed, err); ferr != nil {
			s.log.Error("could not record job failure", "job_id", job.ID, "err", ferr)
		}
		return job, err
	}
	s.log.Info("render started", "job_id", job.ID, "scene", *job.ClassName)

	res, rerr := s.renderer.Render(ctx, *job.ScriptPath, *job.ClassName)
	if res != nil {
		if res.Stdout != "" {
			s.log.Info("renderer stdout", "job_id", job.ID, "tail", render.Tail(res.Stdout, logTail))
		}
		if res.Stderr != "" {
			s.log.Warn("renderer stderr", "job_id", job.ID, "tail", render.Tail(res.Stderr, logTail))
		}
	}
	if rerr != nil {
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		msg := msgRenderFailed
		if errors.Is(rerr, render.ErrTimeout) {
			msg = msgRenderTimeout
		}
		s.log.Error("render failed", "job_id", job.ID, "err", render.Tail(rerr.Error(), logTail))
		return job, s.fail(pctx, job, msg, errors.New(render.Tail(rerr.Error(), errorTail)))
	}

	videoName := *job.ClassName + "." + s.cfg.VideoExt
	if _, err := LocateVideo(s.cfg.MediaRoot, videoName); err != nil {
		span.SetStatus(codes.Error, "video missing")
		s.log.Error("video not found after render", "job_id", job.ID, "video", videoName, "err", err)
		return job, s.fail(pctx, job, msgVideoMissing, fmt.Errorf("expected video %s under media root: %v", videoName, err))
	}

	job.VideoName = &videoName
	if err := s.advance(pctx, job, jobstore.StatusCompleted, msgCompleted); err != nil {
		return job, err
	}
	s.log.Info("render completed", "job_id", job.ID, "video", videoName)
	return job, nil
}
