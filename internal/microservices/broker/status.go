package broker

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusHandler serves read-only broker introspection: /healthz, /status and,
// when metrics is set, /metrics.
type StatusHandler struct {
	registry *Registry
	metrics  *Metrics
}

func NewStatusHandler(registry *Registry, metrics *Metrics) *StatusHandler {
	return &StatusHandler{registry: registry, metrics: metrics}
}

func (h *StatusHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", h.Health)
	r.GET("/status", h.Status)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Sessions())
}

// NewStatusRouter builds the gin engine behind the status endpoint.
func NewStatusRouter(h *StatusHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterRoutes(r)
	return r
}
