package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/policy"
	"github.com/tyin88/agentgw/internal/service"
	"github.com/tyin88/agentgw/internal/store"
	"github.com/tyin88/agentgw/tests/helpers"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	cfg := &config.Config{
		DefaultModel:  "sonnet",
		EngineTimeout: 5 * time.Second,
		RunExpiry:     time.Hour,
	}
	svc := service.New(helpers.NewTestSQLiteStore(t), store.NewMemoryCache(), &engine.ScriptedEngine{}, policyEngine, cfg)
	return NewServer(svc, cfg)
}

func TestHealthIsOpen(t *testing.T) {
	server := newTestServer(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	server := newTestServer(t)

	for _, target := range []string{"/api/v1/sessions", "/v1/models"} {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestAuthenticatedRequestPasses(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-API-Key", "sk-test")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions"`)
}
