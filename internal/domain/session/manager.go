package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/domain/intercept"
	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/script"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
)

var (
	ErrSessionNotFound  = errors.New("session: not found")
	ErrAlreadyConnected = errors.New("session: bridge RPC already exists")
)

// Options are per-page bridge options.
type Options struct {
	// RouteContext intercepts at the browser context instead of the page.
	RouteContext bool
}

// Config configures a Manager.
type Config struct {
	Options Options
	Script  script.Config
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Session is one page's bridge.
type Session struct {
	ID        id.BridgeID
	PageKey   string
	Page      driver.Page
	Options   Options
	CreatedAt time.Time

	mu   sync.Mutex
	conn *rpc.Conn
}

// Connected reports whether a bridge socket is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Info is a read-only view of a session.
type Info struct {
	BridgeID  string    `json:"bridge_id"`
	PageKey   string    `json:"page_key"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		BridgeID:  s.ID.String(),
		PageKey:   s.PageKey,
		Connected: s.Connected(),
		CreatedAt: s.CreatedAt,
	}
}

// Manager tracks sessions by page key and bridge id.
type Manager struct {
	browser driver.Browser
	config  Config
	logger  *zap.Logger

	mu    sync.RWMutex
	byKey map[string]*Session
	byID  map[id.BridgeID]*Session
	live  int
}

// NewManager creates a manager resolving pages through browser.
func NewManager(browser driver.Browser, config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		browser: browser,
		config:  config,
		logger:  logger.Named("session"),
		byKey:   make(map[string]*Session),
		byID:    make(map[id.BridgeID]*Session),
	}
}

// Register returns the session of the page registered under pageKey,
// creating it on first use. A page keeps its bridge id for its lifetime.
func (m *Manager) Register(pageKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byKey[pageKey]; ok {
		return s, nil
	}
	page, err := m.browser.Page(pageKey)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id.NewBridgeID(),
		PageKey:   pageKey,
		Page:      page,
		Options:   m.config.Options,
		CreatedAt: time.Now(),
	}
	m.byKey[pageKey] = s
	m.byID[s.ID] = s
	m.logger.Info("Session registered",
		zap.String("bridge_id", s.ID.String()),
		zap.String("page_key", pageKey))
	return s, nil
}

// Get returns the session with the given bridge id.
func (m *Manager) Get(bridgeID id.BridgeID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byID[bridgeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, bridgeID)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Forget drops the session of pageKey, e.g. when its page closes.
func (m *Manager) Forget(pageKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byKey[pageKey]; ok {
		delete(m.byKey, pageKey)
		delete(m.byID, s.ID)
	}
}

// Serve runs the bridge RPC for a session over t until the connection
// closes or ctx ends.
func (m *Manager) Serve(ctx context.Context, bridgeID id.BridgeID, t rpc.Transport) error {
	s, err := m.Get(bridgeID)
	if err != nil {
		return err
	}
	logger := m.logger.With(zap.String("bridge_id", bridgeID.String()))

	scriptConfig := m.config.Script
	scriptConfig.Logger = logger
	runtime, err := script.New(scriptConfig)
	if err != nil {
		return fmt.Errorf("failed to create script runtime: %w", err)
	}
	defer runtime.Close()

	registry := handle.NewRegistry(runtime, handle.Options{Logger: logger, Metrics: m.config.Metrics})
	registry.RegisterCommon(s.ID, s.Page, s.Page.Context())

	conn := rpc.New(t, registry.Methods(), rpc.Options{
		Encode:  codec.EncodeOptions{NullFunctions: true},
		Decode:  codec.DecodeOptions{Targets: registry},
		Logger:  logger,
		Metrics: m.config.Metrics,
	})
	controller := intercept.NewController(s.Page, registry, conn, intercept.Config{
		BridgeID:     s.ID,
		RouteContext: s.Options.RouteContext,
		Logger:       logger,
		Metrics:      m.config.Metrics,
	})
	for name, h := range controller.Methods() {
		conn.Handle(name, h)
	}

	if err := m.attach(s, conn); err != nil {
		_ = conn.Close()
		return err
	}
	defer m.detach(s)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger.Info("Bridge connected")
	err = conn.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := controller.Close(closeCtx); cerr != nil {
		logger.Warn("Failed to switch interception off", zap.Error(cerr))
	}
	logger.Info("Bridge disconnected", zap.Int("handles", registry.Len()))
	return err
}

func (m *Manager) attach(s *Session, conn *rpc.Conn) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, s.ID)
	}
	s.conn = conn
	s.mu.Unlock()

	m.mu.Lock()
	m.live++
	m.config.Metrics.SetSessionsActive(m.live)
	m.mu.Unlock()
	return nil
}

func (m *Manager) detach(s *Session) {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	m.mu.Lock()
	m.live--
	m.config.Metrics.SetSessionsActive(m.live)
	m.mu.Unlock()
}

// Close closes every live bridge connection.
func (m *Manager) Close() {
	for _, s := range m.List() {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	}
}
