package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/policy"
	"github.com/tyin88/agentgw/internal/service"
	"github.com/tyin88/agentgw/internal/store"
	"github.com/tyin88/agentgw/tests/helpers"
)

func newTestHandler(t *testing.T, eng engine.Engine) (*Handler, *service.Service) {
	t.Helper()
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	cfg := &config.Config{
		DefaultModel:  "sonnet",
		EngineTimeout: 5 * time.Second,
		PingInterval:  time.Minute,
		RunExpiry:     time.Hour,
	}
	svc := service.New(helpers.NewTestSQLiteStore(t), store.NewMemoryCache(), eng, policyEngine, cfg)
	return NewHandler(svc, cfg), svc
}

func newContext(method, target, body, tenant string, rec *httptest.ResponseRecorder) echo.Context {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	c := e.NewContext(req, rec)
	auth.SetTenantHash(c, tenant)
	return c
}

func createSession(t *testing.T, svc *service.Service, tenant string) *domain.Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), tenant, domain.CreateSessionRequest{Model: "sonnet"})
	require.NoError(t, err)
	return session
}

func completedScript() []engine.Event {
	return []engine.Event{
		{Kind: engine.EventAssistantText, Text: "hello"},
		{Kind: engine.EventUsage, NumTurns: 1, CostUSD: 0.01},
		{Kind: engine.EventDone},
	}
}

func TestCreateAndGetSession(t *testing.T) {
	h, _ := newTestHandler(t, &engine.ScriptedEngine{})

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions", `{"model":"opus"}`, "tenant1", rec)
	require.NoError(t, h.CreateSession(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "opus", created.Model)
	assert.NotEmpty(t, created.SessionID)

	rec = httptest.NewRecorder()
	c = newContext(http.MethodGet, "/api/v1/sessions/"+created.SessionID, "", "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(created.SessionID)
	require.NoError(t, h.GetSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.SessionID)
}

func TestGetSessionCrossTenant(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenantA")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodGet, "/api/v1/sessions/"+session.SessionID, "", "tenantB", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.GetSession(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")
}

func TestListSessionsScopedToTenant(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	createSession(t, svc, "tenantA")
	createSession(t, svc, "tenantA")
	createSession(t, svc, "tenantB")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodGet, "/api/v1/sessions?page=1&page_size=10", "", "tenantA", rec)
	require.NoError(t, h.ListSessions(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []domain.Session `json:"sessions"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Len(t, body.Sessions, 2)
}

func TestResumeStreamsSSE(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{Script: completedScript()})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/resume", `{"prompt":"hi"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.ResumeSession(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.Contains(t, body, "event: init")
	assert.Contains(t, body, "event: message")
	assert.Contains(t, body, "event: result")
	assert.Contains(t, body, "event: done")
	assert.Less(t, strings.Index(body, "event: init"), strings.Index(body, "event: done"))
}

func TestResumeBoundaryErrorsAreJSON(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{Script: completedScript()})
	session := createSession(t, svc, "tenant1")

	// Missing prompt never opens a stream.
	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/resume", `{}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.ResumeSession(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "detail")

	// A second live stream is rejected with a conflict.
	_, err := svc.Registry().Begin(session.SessionID)
	require.NoError(t, err)
	defer svc.Registry().End(session.SessionID)

	rec = httptest.NewRecorder()
	c = newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/resume", `{"prompt":"hi"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.ResumeSession(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFLICT")
}

func TestForkStreamsAgainstChild(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{Script: completedScript()})
	parent := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+parent.SessionID+"/fork", `{"prompt":"branch"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(parent.SessionID)
	require.NoError(t, h.ForkSession(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: init")
	assert.NotContains(t, body, `"session_id":"`+parent.SessionID+`"`)
}

func TestInterruptIdleSession(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/interrupt", "", "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.InterruptSession(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControlValidation(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/control", `{"type":"volume_change"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.ControlSession(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Detail []domain.FieldError `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Detail)
	assert.Equal(t, []string{"body", "type"}, body.Detail[0].Loc)
}

func TestAnswerWithoutPendingQuestion(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/answer", `{"answer":"yes"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.AnswerSession(c))

	// Not streaming at all reads as not-found.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRewindUnknownCheckpoint(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/rewind", `{"checkpoint_id":"ckpt_missing"}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.RewindSession(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_CHECKPOINT")
}

func TestRewindRequiresCheckpointID(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	rec := httptest.NewRecorder()
	c := newContext(http.MethodPost, "/api/v1/sessions/"+session.SessionID+"/rewind", `{}`, "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.RewindSession(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListCheckpoints(t *testing.T) {
	h, svc := newTestHandler(t, &engine.ScriptedEngine{})
	session := createSession(t, svc, "tenant1")

	_, err := svc.RecordCheckpoint(context.Background(), session.SessionID, "umsg-1", []string{"main.go"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c := newContext(http.MethodGet, "/api/v1/sessions/"+session.SessionID+"/checkpoints", "", "tenant1", rec)
	c.SetParamNames("session_id")
	c.SetParamValues(session.SessionID)
	require.NoError(t, h.ListCheckpoints(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Checkpoints []domain.Checkpoint `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Checkpoints, 1)
	assert.Equal(t, []string{"main.go"}, body.Checkpoints[0].FilesModified)
}
