package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/app"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/httpapi"
	"github.com/suPer8Hu/animation-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/animation-platform/internal/logger"
	"github.com/suPer8Hu/animation-platform/internal/store/rabbitmq"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.LogMode == "production" || cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", "err", err)
	}
	a.Reconcile(ctx)

	// render dispatcher
	var closeDispatcher func(context.Context) error
	// jobs younger than this may still be owned by a live worker
	var staleAfter time.Duration
	switch cfg.RenderDispatch {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, log)
		if err != nil {
			log.Fatal("rabbit publisher", "err", err)
		}
		a.Service.SetDispatcher(pub)
		closeDispatcher = func(context.Context) error { return pub.Close() }
		staleAfter = cfg.RenderTimeout + time.Minute
		log.Info("render dispatch via rabbitmq", "queue", cfg.RabbitQueue)
	case "local":
		pool := animation.NewLocalPool(cfg.RenderConcurrency, cfg.RenderConcurrency*8, a.RenderFunc(), log)
		a.Service.SetDispatcher(pool)
		closeDispatcher = pool.Close
	default:
		log.Fatal("unsupported RENDER_DISPATCH", "value", cfg.RenderDispatch)
	}
	a.Recover(ctx, staleAfter)

	h := handlers.NewHandler(a.Service, a.Store, a.Cache, cfg, a.Renderer.Available, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := closeDispatcher(shutdownCtx); err != nil {
		log.Warn("render dispatcher shutdown", "err", err)
	}
	a.Close(shutdownCtx)
}
