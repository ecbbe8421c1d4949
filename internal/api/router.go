package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig carries the router's HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(log.Named("http")), cors(cfg.AllowedOrigins))

	r.GET("/health", h.Health)
	r.POST("/refresh", h.Refresh)
	r.POST("/semantic_search", h.Search)
	r.POST("/search", h.Search)
	r.POST("/rebuild", h.Rebuild)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
