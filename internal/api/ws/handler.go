package ws

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/domain/session"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
	"github.com/GriffinCanCode/pwbridge/internal/transport"
)

// Handler manages bridge socket connections.
type Handler struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("ws"),
		upgrader: websocket.Upgrader{
			// pages are served from arbitrary test origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and serves the bridge RPC until
// the socket closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw := c.Query(protocol.BridgeIDParam)
	if !id.IsBridgeID(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed bridge id"})
		return
	}
	s, err := h.sessions.Get(id.BridgeID(raw))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if s.Connected() {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrAlreadyConnected.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	t := transport.NewWebSocket(conn, h.metrics)
	defer t.Close()

	err = h.sessions.Serve(c.Request.Context(), s.ID, t)
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		h.logger.Warn("Refused second bridge socket", zap.String("bridge_id", s.ID.String()))
	case err != nil:
		h.logger.Warn("Bridge socket failed", zap.String("bridge_id", s.ID.String()), zap.Error(err))
	}
}
