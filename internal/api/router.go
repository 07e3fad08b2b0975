// Package api hosts the administrative surface: a Gin HTTP API for
// inspecting and driving the port registry, a gorilla/websocket endpoint
// streaming helper events, and a Prometheus exposition route. It is a
// pure observer/driver of internal/ipc's public operations — it never
// reaches into registry internals directly.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/api/middleware"
	"github.com/liboscore/shim/internal/apimetrics"
	"github.com/liboscore/shim/internal/config"
	"github.com/liboscore/shim/internal/ipc"
)

// NewRouter assembles the admin API's Gin engine, grounded on the
// teacher's internal/api/http handler style and middleware stack.
func NewRouter(manager *ipc.Manager, cfg *config.Config, log *zap.Logger) *gin.Engine {
	apiMetrics := apimetrics.New()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(apimetrics.Middleware(apiMetrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		r.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	h := &Handlers{manager: manager, log: log}
	events := &EventsHandler{manager: manager, metrics: apiMetrics, log: log}

	r.GET("/healthz", h.Healthz)
	r.GET("/ports", h.ListPorts)
	r.GET("/ports/:peer", h.GetPort)
	r.POST("/broadcast", h.Broadcast)
	r.GET("/events", events.Handle)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return r
}
