package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli(5, "/ws/"))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Attempt API (Rate Limited) ─────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(limiter.Middleware(), middleware.NoStore())
	{
		api.POST("/attempts", handlers.Attempt.CreateAttempt)
		api.POST("/attempts/:id/consent", handlers.Attempt.RecordConsent)
		api.POST("/attempts/:id/start", handlers.Attempt.StartAttempt)
		api.GET("/attempts/:id/state", handlers.Attempt.GetState)
		api.GET("/attempts/:id/paper", handlers.Attempt.GetPaper)
		api.POST("/attempts/:id/submit", handlers.Attempt.SubmitAttempt)
		api.GET("/attempts/:id/result", handlers.Attempt.GetResult)
	}

	// ─── 2. Proctor Monitor (SSE) ──────────────────────────────────────
	if handlers.Monitor != nil {
		router.GET("/api/v1/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	// ─── 3. WebSocket Stream ───────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
