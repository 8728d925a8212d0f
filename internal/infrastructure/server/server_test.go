package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pwbridge/internal/driver/netproxy"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	browser := netproxy.NewBrowser(netproxy.Options{})
	_, err := browser.NewContext().NewPage("tab", "https://app.test/")
	require.NoError(t, err)
	return NewServer(config.Default(), browser, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRegister(t *testing.T) {
	s := newServer(t)

	rec := do(t, s, http.MethodPost, protocol.RegisterPath, `{"page_key":"tab"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var first protocol.RegisterResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &first))
	assert.NotEmpty(t, first.BridgeID)

	rec = do(t, s, http.MethodPost, protocol.RegisterPath, `{"page_key":"tab"}`)
	var second protocol.RegisterResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.BridgeID, second.BridgeID)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, protocol.RegisterPath, `{"page_key":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, protocol.RegisterPath, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, protocol.RegisterPath, `not json`).Code)
}

func TestSocketRequiresKnownSession(t *testing.T) {
	s := newServer(t)

	rec := do(t, s, http.MethodGet, "/"+protocol.WebSocketPath("unknown"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/"+protocol.WebSocketPath(id.NewBridgeID().String()), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	do(t, s, http.MethodPost, protocol.RegisterPath, `{"page_key":"tab"}`)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","sessions":1,"connected":0}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/sessions", "")
	assert.Contains(t, rec.Body.String(), `"page_key":"tab"`)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
