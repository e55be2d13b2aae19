package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/app"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/logger"
	"github.com/suPer8Hu/animation-platform/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", "err", err)
	}
	defer a.Close(context.Background())

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, rabbitmq.ConsumerOptions{
		Queue:       cfg.RabbitQueue,
		Concurrency: cfg.RenderConcurrency,
	}, log)
	if err != nil {
		log.Fatal("rabbit consumer", "err", err)
	}
	defer consumer.Close()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", cfg.RenderConcurrency)
	if err := consumer.Run(ctx, handleJob(a.Service, log)); err != nil {
		log.Error("consumer stopped", "err", err)
	}
}

// handleJob acks every outcome the job record already reflects. Only failures to
// load or persist the job are returned, so the message is retried.
func handleJob(svc *animation.Service, log *logger.Logger) rabbitmq.HandlerFunc {
	return func(ctx context.Context, jobID string) error {
		start := time.Now()
		job, err := svc.Render(ctx, jobID)
		switch {
		case errors.Is(err, animation.ErrJobNotFound), errors.Is(err, animation.ErrInvalidTransition):
			log.Warn("render message dropped", "job_id", jobID, "err", err)
			return nil
		case job != nil && job.Status.Terminal():
			log.Info("job rendered", "job_id", jobID, "status", job.Status, "cost", time.Since(start))
			return nil
		case err != nil:
			return err
		}
		return nil
	}
}
