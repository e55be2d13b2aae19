package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/animation-platform/internal/logger"
)

// RenderMessage asks a worker to render one pending job.
type RenderMessage struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt,omitempty"`
}

var ErrBadMessage = errors.New("malformed render message")

func decodeMessage(body []byte) (RenderMessage, error) {
	var m RenderMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, errors.Join(ErrBadMessage, err)
	}
	if m.JobID == "" {
		return m, ErrBadMessage
	}
	return m, nil
}

// Topology names for a render queue.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func TopologyFor(queue string) Topology {
	return Topology{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

// Declare creates the main, retry and dead-letter queues. Rejected messages on the
// main queue land in the DLQ; messages in the retry queue flow back to main once
// their per-message expiration passes.
func Declare(ch *amqp.Channel, t Topology) error {
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Main,
	}); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(t.Main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DLQ,
	})
	return err
}

// Publisher sends render requests. It satisfies animation.Dispatcher.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	topo Topology
	log  *logger.Logger
}

func NewPublisher(url, queue string, log *logger.Logger) (*Publisher, error) {
	if log == nil {
		log = logger.Nop()
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
	topo := TopologyFor(queue)
	if err := Declare(ch, topo); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, topo: topo, log: log.With("component", "render_publisher")}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Dispatch enqueues jobID on the main render queue.
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	if err := publish(ctx, p.ch, p.topo.Main, RenderMessage{JobID: jobID}, 0); err != nil {
		p.log.Error("render publish failed", "job_id", jobID, "queue", p.topo.Main, "err", err)
		return err
	}
	p.log.Debug("render queued", "job_id", jobID, "queue", p.topo.Main)
	return nil
}

func publish(ctx context.Context, ch *amqp.Channel, queue string, m RenderMessage, delay time.Duration) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return ch.PublishWithContext(cctx, "", queue, false, false, msg)
}
