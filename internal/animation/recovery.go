package animation

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// RecoverResult counts what Recover did with unfinished jobs.
type RecoverResult struct {
	Redispatched int
	Failed       int
	Skipped      int
}

// Recover picks up jobs left unfinished by a previous process. Only jobs whose
// last update is at least staleAfter old are touched: pending jobs are handed to
// the dispatcher again, jobs stuck in a generating stage or in rendering are
// marked failed so they can be retried.
func (s *Service) Recover(ctx context.Context, staleAfter time.Duration) (RecoverResult, error) {
	var res RecoverResult
	jobs, err := s.store.ListAll(ctx)
	if err != nil {
		return res, err
	}
	cutoff := s.now().UTC().Add(-staleAfter)
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		if j.UpdatedAt.After(cutoff) {
			res.Skipped++
			continue
		}
		switch s.recoverJob(ctx, j.ID, cutoff) {
		case jobstore.StatusPending:
			res.Redispatched++
		case jobstore.StatusFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// recoverJob re-reads the job under its lock and returns the status it was
// recovered from, or "" when it was left alone.
func (s *Service) recoverJob(ctx context.Context, jobID string, cutoff time.Time) jobstore.Status {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	job, err := s.store.Get(ctx, jobID)
	if err != nil || job == nil {
		if err != nil {
			s.log.Warn("recover: load failed", "job_id", jobID, "err", err)
		}
		return ""
	}
	if job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
		return ""
	}

	if job.Status == jobstore.StatusPending {
		if err := s.dispatch(ctx, job); err != nil {
			s.log.Warn("recover: re-dispatch failed", "job_id", job.ID, "err", err)
			return jobstore.StatusFailed
		}
		s.log.Info("recover: pending job re-dispatched", "job_id", job.ID)
		return jobstore.StatusPending
	}

	from := job.Status
	msg := msgCreateFailed
	if from == jobstore.StatusRendering {
		msg = msgRenderInterrupted
	}
	cause := errors.New("job was " + string(from) + " when the service stopped")
	if err := s.fail(ctx, job, msg, cause); err != nil {
		s.log.Error("recover: could not mark job failed", "job_id", job.ID, "status", from, "err", err)
		return ""
	}
	s.log.Info("recover: interrupted job marked failed", "job_id", job.ID, "status", from)
	return jobstore.StatusFailed
}
