package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ubuygold/gosparklio/internal/metrics"
)

// NewRouter builds the gin engine. gatherer may be nil to leave /metrics out.
func NewRouter(handler *Handler, limiter *RateLimiter, gatherer prometheus.Gatherer, log *slog.Logger, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(log))
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", handler.HealthHandler)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	api := router.Group("/api")
	api.Use(UserMiddleware())
	if limiter != nil {
		api.Use(limiter.Middleware(log))
	}
	{
		api.POST("/generate", handler.GenerateHandler)
		api.GET("/usage", handler.UsageHandler)

		credential := api.Group("/credential")
		credential.Use(RequireUser())
		{
			credential.PUT("", handler.PutCredentialHandler)
			credential.DELETE("", handler.DeleteCredentialHandler)
		}
	}
	return router
}
