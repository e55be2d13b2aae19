// Package jobstore holds job records in Redis with a TTL, a sorted index for listing,
// and a file mirror used to repopulate Redis after a restart.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

const (
	keyPrefix = "job:"
	indexKey  = "jobs:list"
)

// ErrUnavailable is returned when Redis cannot be reached after the reconnect budget is spent.
var ErrUnavailable = errors.New("job store unavailable")

type Options struct {
	Addr     string
	Password string
	DB       int

	TTL           time.Duration
	ReconnectMax  int
	ReconnectWait time.Duration
}

// Store is safe for concurrent use. The Redis client is created on first use and
// replaced when a connectivity error is seen.
type Store struct {
	opts Options
	log  *logger.Logger
	now  func() time.Time

	mu     sync.Mutex
	client *redis.Client
}

func New(opts Options, log *logger.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 5
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		opts: opts,
		log:  log.With("component", "jobstore"),
		now:  time.Now,
	}
}

func (s *Store) TTL() time.Duration { return s.opts.TTL }

func (s *Store) newClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         s.opts.Addr,
		Password:     s.opts.Password,
		DB:           s.opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   1,
	})
}

func (s *Store) conn() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = s.newClient()
	}
	return s.client
}

// reconnect replaces failed with a fresh client that answers PING.
// If another caller already replaced it, the current client is kept.
func (s *Store) reconnect(ctx context.Context, failed *redis.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client != failed {
		return nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.ReconnectMax; attempt++ {
		c := s.newClient()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := c.Ping(pctx).Err()
		cancel()
		if err == nil {
			s.client = c
			s.log.Info("redis reconnected", "attempt", attempt)
			return nil
		}
		_ = c.Close()
		lastErr = err
		s.log.Warn("redis reconnect failed", "attempt", attempt, "max", s.opts.ReconnectMax, "err", err)

		if attempt == s.opts.ReconnectMax {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.ReconnectWait):
		}
	}
	return lastErr
}

// withConn runs fn, and on a connectivity error reconnects and runs it once more.
func (s *Store) withConn(ctx context.Context, op string, fn func(*redis.Client) error) error {
	c := s.conn()
	err := fn(c)
	if err == nil || !isConnErr(err) {
		return err
	}
	s.log.Warn("redis connection error", "op", op, "err", err)

	if rerr := s.reconnect(ctx, c); rerr != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, rerr)
	}
	if err := fn(s.conn()); err != nil {
		if isConnErr(err) {
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
		return err
	}
	return nil
}

func isConnErr(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func jobKey(id string) string { return keyPrefix + id }

// Save writes the record with the store TTL and indexes it by its ordering timestamp.
func (s *Store) Save(ctx context.Context, job *Job) error {
	return s.save(ctx, job, s.opts.TTL)
}

// Restore is Save with an explicit TTL, used when replaying mirrored records.
func (s *Store) Restore(ctx context.Context, job *Job, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("restore %s: non-positive ttl", job.ID)
	}
	return s.save(ctx, job, ttl)
}

func (s *Store) save(ctx context.Context, job *Job, ttl time.Duration) error {
	if job == nil || job.ID == "" {
		return errors.New("save: job id is required")
	}
	repairOrderKey(job, s.now())

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("save %s: %w", job.ID, err)
	}
	return s.withConn(ctx, "save", func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, jobKey(job.ID), raw, ttl)
			p.ZAdd(ctx, indexKey, redis.Z{Score: float64(job.Timestamp), Member: job.ID})
			return nil
		})
		return err
	})
}

// Get returns nil, nil when the record never existed or has expired.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	var raw []byte
	err := s.withConn(ctx, "get", func(c *redis.Client) error {
		b, err := c.Get(ctx, jobKey(id)).Bytes()
		if err != nil {
			return err
		}
		raw = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(raw)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withConn(ctx, "delete", func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, jobKey(id))
			p.ZRem(ctx, indexKey, id)
			return nil
		})
		return err
	})
}

// ListAll returns live records newest first. Index entries whose record expired are skipped.
func (s *Store) ListAll(ctx context.Context) ([]*Job, error) {
	var ids []string
	var vals []interface{}
	err := s.withConn(ctx, "list", func(c *redis.Client) error {
		var err error
		ids, err = c.ZRevRange(ctx, indexKey, 0, -1).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = jobKey(id)
		}
		vals, err = c.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Job, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(str))
		if err != nil {
			s.log.Warn("skip undecodable job record", "job_id", ids[i], "err", err)
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Expire drops index members whose record is gone and returns how many were removed.
func (s *Store) Expire(ctx context.Context) (int, error) {
	removed := 0
	err := s.withConn(ctx, "expire", func(c *redis.Client) error {
		ids, err := c.ZRange(ctx, indexKey, 0, -1).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		cmds := make([]*redis.IntCmd, len(ids))
		if _, err := c.Pipelined(ctx, func(p redis.Pipeliner) error {
			for i, id := range ids {
				cmds[i] = p.Exists(ctx, jobKey(id))
			}
			return nil
		}); err != nil {
			return err
		}
		var stale []interface{}
		for i, cmd := range cmds {
			if cmd.Val() == 0 {
				stale = append(stale, ids[i])
			}
		}
		if len(stale) == 0 {
			return nil
		}
		n, err := c.ZRem(ctx, indexKey, stale...).Result()
		removed = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("expired job index entries", "removed", removed)
	}
	return removed, nil
}

// Count is the size of the ordering index, which may include not-yet-expired stale members.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.withConn(ctx, "count", func(c *redis.Client) error {
		var err error
		n, err = c.ZCard(ctx, indexKey).Result()
		return err
	})
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, "ping", func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func decodeJob(raw []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}
