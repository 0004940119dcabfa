package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/graphmem"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler handles health check requests
type HealthHandler struct {
	memory graphmem.Memory
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(memory graphmem.Memory) *HealthHandler {
	return &HealthHandler{memory: memory}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "graphmem",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck handles GET /ready. Probes the store with a lookup that is
// expected to miss; a timeout means the backend is unreachable.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := gin.H{}

	if h.memory != nil {
		start := time.Now()
		_, err := h.memory.GetNode(ctx, "readiness-probe")
		elapsed := time.Since(start)
		switch {
		case err == nil || errors.Is(err, graphmem.ErrNodeNotFound):
			checks["store"] = gin.H{"status": "healthy", "duration": elapsed.String()}
		default:
			checks["store"] = gin.H{"status": "unhealthy", "error": err.Error(), "duration": elapsed.String()}
			status = "not ready"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "graphmem",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
