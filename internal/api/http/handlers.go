package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/domain/session"
	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

// Handlers contains the host's HTTP handlers.
type Handlers struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set.
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{sessions: sessions, metrics: metrics, logger: logger.Named("http")}
}

// Register returns the bridge id of a page, creating its session on first use.
func (h *Handlers) Register(c *gin.Context) {
	var req protocol.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PageKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_key is required"})
		return
	}

	s, err := h.sessions.Register(req.PageKey)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, driver.ErrPageNotFound) {
			status = http.StatusNotFound
		}
		h.logger.Warn("Failed to register page", zap.String("page_key", req.PageKey), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, protocol.RegisterResponse{BridgeID: s.ID.String()})
}

// ListSessions lists every registered session.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// Health handles health checks.
func (h *Handlers) Health(c *gin.Context) {
	connected := 0
	sessions := h.sessions.List()
	for _, s := range sessions {
		if s.Connected() {
			connected++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"sessions":  len(sessions),
		"connected": connected,
	})
}

// Metrics serves the prometheus registry.
func (h *Handlers) Metrics() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler())
}
