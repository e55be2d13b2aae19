package jobstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

var ErrReconcileLocked = errors.New("reconcile already running in another process")

type ReconcileResult struct {
	Mirrored int
	Restored int
	Present  int
	Stale    int
	Bad      int
	Expired  int
}

// Reconcile re-inserts mirrored records missing from Redis, each with its remaining
// retention measured from updated_at, then runs Expire. Records already past
// retention are left out. A lock file in the mirror dir keeps concurrent
// processes from replaying the same mirror.
func Reconcile(ctx context.Context, store *Store, mirror *Mirror, log *logger.Logger) (ReconcileResult, error) {
	var res ReconcileResult
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "reconcile")

	lock := flock.New(filepath.Join(mirror.Dir(), ".reconcile.lock"))
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ok, err := lock.TryLockContext(lctx, 100*time.Millisecond)
	cancel()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("reconcile lock: %w", err)
	}
	if !ok {
		return res, ErrReconcileLocked
	}
	defer func() { _ = lock.Unlock() }()

	jobs, bad, err := mirror.All()
	if err != nil {
		return res, fmt.Errorf("read mirror: %w", err)
	}
	res.Mirrored = len(jobs)
	res.Bad = len(bad)
	for _, name := range bad {
		log.Warn("skip unreadable mirror file", "file", name)
	}

	now := store.now()
	var restored, present, stale int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			existing, err := store.Get(gctx, job.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				atomic.AddInt64(&present, 1)
				return nil
			}
			ref := job.UpdatedAt
			if ref.IsZero() {
				ref = job.CreatedAt
			}
			remaining := store.TTL() - now.Sub(ref)
			if ref.IsZero() || remaining <= 0 {
				atomic.AddInt64(&stale, 1)
				return nil
			}
			if err := store.Restore(gctx, job, remaining); err != nil {
				return err
			}
			atomic.AddInt64(&restored, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	res.Restored = int(restored)
	res.Present = int(present)
	res.Stale = int(stale)

	expired, err := store.Expire(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile expire: %w", err)
	}
	res.Expired = expired

	log.Info("job store reconciled",
		"mirrored", res.Mirrored,
		"restored", res.Restored,
		"present", res.Present,
		"stale", res.Stale,
		"bad", res.Bad,
		"expired", res.Expired,
	)
	return res, nil
}
