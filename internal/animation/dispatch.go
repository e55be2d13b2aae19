package animation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

// Dispatcher hands a pending job to whatever runs renders.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type DispatcherFunc func(ctx context.Context, jobID string) error

func (f DispatcherFunc) Dispatch(ctx context.Context, jobID string) error { return f(ctx, jobID) }

var (
	ErrPoolClosed = errors.New("render pool closed")
	ErrPoolFull   = errors.New("render queue full")
)

// LocalPool runs renders in-process on a fixed number of workers.
type LocalPool struct {
	render func(ctx context.Context, jobID string) error
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan string
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewLocalPool starts concurrency workers. Queued ids beyond queueSize are refused.
func NewLocalPool(concurrency, queueSize int, render func(ctx context.Context, jobID string) error, log *logger.Logger) *LocalPool {
	if concurrency <= 0 {
		concurrency = 2
	}
	if queueSize < concurrency {
		queueSize = concurrency * 2
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &LocalPool{
		render: render,
		log:    log.With("component", "render_pool"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan string, queueSize),
	}
	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.worker(i)
	}
	p.log.Info("render pool started", "concurrency", concurrency, "queue", queueSize)
	return p
}

func (p *LocalPool) worker(id int) {
	defer p.wg.Done()
	for jobID := range p.jobs {
		start := time.Now()
		if err := p.render(p.ctx, jobID); err != nil {
			p.log.Error("render failed", "worker", id, "job_id", jobID, "cost", time.Since(start), "err", err)
			continue
		}
		p.log.Info("render finished", "worker", id, "job_id", jobID, "cost", time.Since(start))
	}
}

// Dispatch never blocks on a busy pool; a full queue is an error.
func (p *LocalPool) Dispatch(ctx context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrPoolFull
	}
}

// Close stops accepting work and waits for queued renders. When ctx expires first,
// running renders are cancelled.
func (p *LocalPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
