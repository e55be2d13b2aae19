package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/suPer8Hu/animation-platform/internal/common"
	"github.com/suPer8Hu/animation-platform/internal/config"
	"github.com/suPer8Hu/animation-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/animation-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/animation-platform/internal/logger"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.OTelEnabled {
		r.Use(otelgin.Middleware("animation-platform"))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)

	// jobs
	r.GET("/job-status/:job_id", h.JobStatus)
	r.GET("/list-jobs", h.ListJobs)
	r.GET("/video-by-job/:job_id", h.VideoByJob)
	r.GET("/download-video/:job_id", h.DownloadVideo)
	r.GET("/list-videos", h.ListVideos)

	// cache index
	r.GET("/check-cache", h.CheckCache)
	r.POST("/check-cache", h.CheckCache)
	r.GET("/database-stats", h.DatabaseStats)
	r.GET("/list-cached-animations", h.ListCachedAnimations)

	// mutating routes, JWT required when JWT_SECRET is set
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/create-animation", h.CreateAnimation)
	authGroup.POST("/retry-job/:job_id", h.RetryJob)
	return r
}
