package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/animation-platform/internal/ai"
	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/db"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
	"github.com/suPer8Hu/animation-platform/internal/logger"
	"github.com/suPer8Hu/animation-platform/internal/observability"
	"github.com/suPer8Hu/animation-platform/internal/render"
	"github.com/suPer8Hu/animation-platform/internal/tts"
)

// App holds the collaborators shared by the server and the render worker.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	DB       *gorm.DB
	Cache    *animation.Repo
	Store    *jobstore.Store
	Mirror   *jobstore.Mirror
	Renderer *render.CLI
	Service  *animation.Service

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	for _, dir := range []string{cfg.MediaRoot, cfg.ScriptsDir, cfg.JobsDir, cfg.NarrationsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "animation-platform",
		Environment: cfg.LogMode,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampling,
	})

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	cache := animation.NewRepo(gdb)
	if err := cache.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate cache index: %w", err)
	}
	log.Info("cache index ready", "driver", db.DetectDriver(cfg.DBDSN))

	store := jobstore.New(jobstore.Options{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		TTL:           cfg.JobTTL,
		ReconnectMax:  cfg.RedisReconnectMax,
		ReconnectWait: cfg.RedisReconnectWait,
	}, log)
	mirror, err := jobstore.NewMirror(cfg.JobsDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("job mirror: %w", err)
	}

	renderer := render.NewCLI(
		render.WithBinary(cfg.RenderBinary),
		render.WithQuality(cfg.RenderQuality),
		render.WithWorkDir(cfg.BaseDir),
		render.WithMediaDir(cfg.MediaRoot),
		render.WithTimeout(cfg.RenderTimeout),
	)
	if !renderer.Available() {
		log.Warn("render binary not found on PATH", "binary", cfg.RenderBinary)
	}

	svc := animation.NewService(animation.Deps{
		Store:  store,
		Mirror: mirror,
		Cache:  cache,
		LLM:    ai.NewRegistryFromConfig(cfg),
		TTS: tts.NewHTTPClient(cfg.TTSBaseURL, tts.Options{
			Speed:           cfg.TTSSpeed,
			TotalSteps:      cfg.TTSTotalSteps,
			SilenceDuration: cfg.TTSSilenceDuration,
		}),
		Renderer: renderer,
		Log:      log,
	}, animation.Settings{
		AIProvider:    cfg.AIProvider,
		DefaultVoice:  cfg.DefaultVoiceStyle,
		ScriptsDir:    cfg.ScriptsDir,
		NarrationsDir: cfg.NarrationsDir,
		MediaRoot:     cfg.MediaRoot,
		VideoExt:      cfg.VideoExt,
	})

	return &App{
		Cfg:          cfg,
		Log:          log,
		DB:           gdb,
		Cache:        cache,
		Store:        store,
		Mirror:       mirror,
		Renderer:     renderer,
		Service:      svc,
		shutdownOTel: shutdownOTel,
	}, nil
}

// Reconcile restores mirrored jobs into the job store. Another process holding
// the reconcile lock is not an error.
func (a *App) Reconcile(ctx context.Context) {
	res, err := jobstore.Reconcile(ctx, a.Store, a.Mirror, a.Log)
	switch {
	case err == nil:
		a.Log.Info("startup reconcile done", "mirrored", res.Mirrored, "restored", res.Restored,
			"present", res.Present, "stale", res.Stale, "bad", res.Bad, "expired", res.Expired)
	case errors.Is(err, jobstore.ErrReconcileLocked):
		a.Log.Info("startup reconcile skipped, running elsewhere")
	default:
		a.Log.Error("startup reconcile failed", "err", err)
	}
}

// Recover hands unfinished jobs from a previous run back to the dispatcher or fails
// them. It must run after the dispatcher is set.
func (a *App) Recover(ctx context.Context, staleAfter time.Duration) {
	res, err := a.Service.Recover(ctx, staleAfter)
	if err != nil {
		a.Log.Error("startup recovery failed", "err", err)
		return
	}
	a.Log.Info("startup recovery done", "redispatched", res.Redispatched, "failed", res.Failed, "skipped", res.Skipped)
}

// RenderFunc adapts the service render to the dispatcher callback shape.
func (a *App) RenderFunc() func(ctx context.Context, jobID string) error {
	return func(ctx context.Context, jobID string) error {
		_, err := a.Service.Render(ctx, jobID)
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "err", err)
		}
	}
}
