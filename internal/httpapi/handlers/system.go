package handlers

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/common"
)

const probeTimeout = 2 * time.Second

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

type healthResp struct {
	Status         string `json:"status"`
	RedisConnected bool   `json:"redis_connected"`
	DBConnected    bool   `json:"database_connected"`
	ActiveJobs     int64  `json:"active_jobs"`

	MediaRoot       string `json:"media_root"`
	MediaRootExists bool   `json:"media_root_exists"`
	ScriptsDir      string `json:"scripts_dir"`
	JobsDir         string `json:"jobs_dir"`

	AIProvider     string `json:"ai_provider"`
	AIConfigured   bool   `json:"ai_configured"`
	TTSURL         string `json:"tts_url"`
	RenderBinary   string `json:"render_binary"`
	RenderResolved bool   `json:"render_binary_found"`
	RenderDispatch string `json:"render_dispatch"`
}

// Health probes both stores concurrently and reports configuration presence.
// It answers 200 with status "degraded" when a store is unreachable.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	resp := healthResp{
		MediaRoot:       h.Cfg.MediaRoot,
		MediaRootExists: dirExists(h.Cfg.MediaRoot),
		ScriptsDir:      h.Cfg.ScriptsDir,
		JobsDir:         h.Cfg.JobsDir,
		AIProvider:      h.Cfg.AIProvider,
		AIConfigured:    aiConfigured(h.Cfg.AIProvider, h.Cfg.OllamaBaseURL, h.Cfg.OpenRouterAPIKey),
		TTSURL:          h.Cfg.TTSBaseURL,
		RenderBinary:    h.Cfg.RenderBinary,
		RenderResolved:  h.RenderAvailable(),
		RenderDispatch:  h.Cfg.RenderDispatch,
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := h.Jobs.Ping(ctx); err != nil {
			h.Log.Warn("health: job store ping failed", "err", err)
			return nil
		}
		resp.RedisConnected = true
		if n, err := h.Jobs.Count(ctx); err == nil {
			resp.ActiveJobs = n
		}
		return nil
	})
	g.Go(func() error {
		if err := h.Cache.Ping(ctx); err != nil {
			h.Log.Warn("health: database ping failed", "err", err)
			return nil
		}
		resp.DBConnected = true
		return nil
	})
	_ = g.Wait()

	resp.Status = "ok"
	if !resp.RedisConnected || !resp.DBConnected {
		resp.Status = "degraded"
	}
	common.OK(c, resp)
}

func aiConfigured(provider, ollamaURL, openRouterKey string) bool {
	switch strings.ToLower(provider) {
	case "openrouter":
		return openRouterKey != ""
	case "", "ollama":
		return ollamaURL != ""
	}
	return false
}

type databaseStatsResp struct {
	Cache          *animation.CacheStats `json:"animations"`
	JobStoreJobs   int64                 `json:"job_store_jobs"`
	RedisConnected bool                  `json:"redis_connected"`
}

func (h *Handler) DatabaseStats(c *gin.Context) {
	ctx := c.Request.Context()
	var resp databaseStatsResp

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := h.Svc.CacheStats(gctx)
		if err != nil {
			return err
		}
		resp.Cache = st
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, probeTimeout)
		defer cancel()
		n, err := h.Jobs.Count(pctx)
		if err != nil {
			h.Log.Warn("stats: job store count failed", "err", err)
			return nil
		}
		resp.JobStoreJobs = n
		resp.RedisConnected = true
		return nil
	})
	if err := g.Wait(); err != nil {
		h.respondError(c, err, nil)
		return
	}
	common.OK(c, resp)
}

func (h *Handler) ListVideos(c *gin.Context) {
	videos, err := animation.ListVideos(h.Cfg.MediaRoot)
	if err != nil {
		h.Log.Error("list videos failed", "media_root", h.Cfg.MediaRoot, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to list videos")
		return
	}
	common.OK(c, gin.H{
		"count":      len(videos),
		"media_root": h.Cfg.MediaRoot,
		"videos":     videos,
	})
}
