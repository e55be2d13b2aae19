package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = f.requeued || requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { f.nacks++; return nil }

type fakeRetry struct {
	msgs  []RenderMessage
	delay time.Duration
	err   error
}

func (f *fakeRetry) retry(ctx context.Context, m RenderMessage, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	f.delay = delay
	return nil
}

func newTestConsumer(r *fakeRetry) *Consumer {
	return &Consumer{
		topo:  TopologyFor("render_jobs"),
		opts:  ConsumerOptions{Queue: "render_jobs", Concurrency: 1, MaxAttempts: 3, RetryDelay: time.Second},
		retry: r,
		log:   logger.Nop(),
	}
}

func delivery(ack *fakeAck, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body)}
}

func TestHandleDelivery_AckOnSuccess(t *testing.T) {
	c := newTestConsumer(&fakeRetry{})
	ack := &fakeAck{}
	var got string
	c.handleDelivery(context.Background(), 0, delivery(ack, `{"job_id":"01J"}`), func(ctx context.Context, jobID string) error {
		got = jobID
		return nil
	})
	if got != "01J" || ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("got=%q acks=%d nacks=%d", got, ack.acks, ack.nacks)
	}
}

func TestHandleDelivery_MalformedIsDeadLettered(t *testing.T) {
	c := newTestConsumer(&fakeRetry{})
	for _, body := range []string{"not json", `{"job_id":""}`} {
		ack := &fakeAck{}
		called := false
		c.handleDelivery(context.Background(), 0, delivery(ack, body), func(ctx context.Context, jobID string) error {
			called = true
			return nil
		})
		if called || ack.nacks != 1 || ack.requeued {
			t.Fatalf("body %q: called=%v nacks=%d requeued=%v", body, called, ack.nacks, ack.requeued)
		}
	}
}

func TestHandleDelivery_RetryThenGiveUp(t *testing.T) {
	r := &fakeRetry{}
	c := newTestConsumer(r)
	failing := func(ctx context.Context, jobID string) error { return errors.New("store unavailable") }

	ack := &fakeAck{}
	c.handleDelivery(context.Background(), 0, delivery(ack, `{"job_id":"01J"}`), failing)
	if ack.acks != 1 || len(r.msgs) != 1 || r.msgs[0].Attempt != 1 || r.delay != time.Second {
		t.Fatalf("expected a scheduled retry, acks=%d retries=%+v", ack.acks, r.msgs)
	}

	ack = &fakeAck{}
	c.handleDelivery(context.Background(), 0, delivery(ack, `{"job_id":"01J","attempt":2}`), failing)
	if ack.nacks != 1 || ack.requeued || len(r.msgs) != 1 {
		t.Fatalf("expected dead-letter on last attempt, nacks=%d retries=%d", ack.nacks, len(r.msgs))
	}
}

func TestHandleDelivery_RetryPublishFailureDeadLetters(t *testing.T) {
	c := newTestConsumer(&fakeRetry{err: errors.New("channel closed")})
	ack := &fakeAck{}
	c.handleDelivery(context.Background(), 0, delivery(ack, `{"job_id":"01J"}`), func(ctx context.Context, jobID string) error {
		return errors.New("boom")
	})
	if ack.nacks != 1 || ack.acks != 0 {
		t.Fatalf("acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestTopologyFor(t *testing.T) {
	topo := TopologyFor("render_jobs")
	if topo.Retry != "render_jobs.retry" || topo.DLQ != "render_jobs.dlq" {
		t.Fatalf("unexpected topology: %+v", topo)
	}
}
