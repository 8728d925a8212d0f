package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/pwbridge/internal/api/http"
	"github.com/GriffinCanCode/pwbridge/internal/api/middleware"
	"github.com/GriffinCanCode/pwbridge/internal/api/ws"
	"github.com/GriffinCanCode/pwbridge/internal/domain/session"
	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/script"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and the bridge session manager.
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a host serving bridge sessions for pages of browser.
func NewServer(cfg *config.Config, browser driver.Browser, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("Initializing bridge host",
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("route_context", cfg.Bridge.RouteContext),
	)

	metrics := monitoring.NewMetrics()

	sessions := session.NewManager(browser, session.Config{
		Options: session.Options{RouteContext: cfg.Bridge.RouteContext},
		Script:  script.Config{MaxCallStackSize: cfg.Bridge.MaxCallStackSize},
		Logger:  logger.Logger,
		Metrics: metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins...)))

	handlers := apihttp.NewHandlers(sessions, metrics, logger.Logger)
	wsHandler := ws.NewHandler(sessions, metrics, logger.Logger)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", handlers.Metrics())
	router.GET("/sessions", handlers.ListSessions)
	router.POST(protocol.RegisterPath, handlers.Register)
	router.GET("/"+protocol.SocketPath, wsHandler.HandleConnection)

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}
}

// Handler returns the HTTP handler of the host.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.sessions.Close)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Close closes live bridge sockets and flushes the logger.
func (s *Server) Close() error {
	s.sessions.Close()
	_ = s.logger.Sync()
	return nil
}
