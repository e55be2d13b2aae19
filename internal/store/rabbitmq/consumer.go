package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

// HandlerFunc renders one job. A nil return acks the message. An error schedules a
// delayed retry until MaxAttempts is reached, after which the message is dead-lettered.
type HandlerFunc func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Queue       string
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
}

type retryPublisher interface {
	retry(ctx context.Context, m RenderMessage, delay time.Duration) error
}

type channelRetry struct {
	ch    *amqp.Channel
	queue string
}

func (r channelRetry) retry(ctx context.Context, m RenderMessage, delay time.Duration) error {
	return publish(ctx, r.ch, r.queue, m, delay)
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	topo  Topology
	opts  ConsumerOptions
	retry retryPublisher
	log   *logger.Logger
}

func NewConsumer(url string, opts ConsumerOptions, log *logger.Logger) (*Consumer, error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	topo := TopologyFor(opts.Queue)
	if err := Declare(ch, topo); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:  conn,
		ch:    ch,
		topo:  topo,
		opts:  opts,
		retry: channelRetry{ch: ch, queue: topo.Retry},
		log:   log.With("component", "render_consumer", "queue", topo.Main),
	}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery channel closes, then waits
// for in-flight renders.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	msgs, err := c.ch.Consume(c.topo.Main, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("consumer started", "concurrency", c.opts.Concurrency)

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handleDelivery(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, workerID int, d amqp.Delivery, handle HandlerFunc) {
	m, err := decodeMessage(d.Body)
	if err != nil {
		c.log.Warn("bad message", "worker", workerID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Error("ack failed", "worker", workerID, "job_id", m.JobID, "err", err)
		}
		return
	}

	attempt := m.Attempt + 1
	if attempt >= c.opts.MaxAttempts || ctx.Err() != nil {
		c.log.Error("render gave up", "worker", workerID, "job_id", m.JobID, "attempt", attempt, "cost", time.Since(start), "err", err)
		_ = d.Nack(false, false)
		return
	}

	c.log.Warn("render retry scheduled", "worker", workerID, "job_id", m.JobID, "attempt", attempt, "delay", c.opts.RetryDelay, "err", err)
	if rerr := c.retry.retry(ctx, RenderMessage{JobID: m.JobID, Attempt: attempt}, c.opts.RetryDelay); rerr != nil {
		c.log.Error("retry publish failed", "worker", workerID, "job_id", m.JobID, "err", rerr)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
