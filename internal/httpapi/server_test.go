package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tamtap/internal/auth"
	"tamtap/internal/cache"
	"tamtap/internal/capture"
	"tamtap/internal/clock"
	"tamtap/internal/config"
	"tamtap/internal/machine"
	"tamtap/internal/records"
	"tamtap/internal/remote"
	"tamtap/internal/schedule"
	"tamtap/internal/syncer"
)

type apiEnv struct {
	cfg    config.App
	store  *records.Store
	router *gin.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.App{
		JWTIssuer:     "tamtap-test",
		JWTSigningKey: "test-signing-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}
	clk := clock.NewFake(time.Date(2026, 3, 2, 7, 10, 0, 0, time.UTC))
	guard := cache.NewGuard(cache.New(filepath.Join(t.TempDir(), "snap.json"), zap.NewNop()))
	mem := remote.NewMemory()
	engine := syncer.NewEngine(guard, clk, time.Second, zap.NewNop())
	dial := func(ctx context.Context) (remote.Client, error) {
		if err := mem.Ping(ctx); err != nil {
			return nil, err
		}
		return mem, nil
	}
	sup := syncer.NewSupervisor(dial, engine, clk, 30*time.Second, time.Second, zap.NewNop())
	sup.Start()
	t.Cleanup(sup.Stop)

	store := records.NewStore(guard, sup, clk, time.Second, zap.NewNop())
	classifier := schedule.NewClassifier(
		schedule.NewClient("http://127.0.0.1:1", 100*time.Millisecond), zap.NewNop())
	verifier := capture.NewHTTPVerifier("", time.Second, true)
	m := machine.New(store, verifier, classifier, clk, zap.NewNop())
	today := func() string { return clk.Now().Format("2006-01-02") }

	srv := NewServer(cfg, store, m, sup, today, zap.NewNop())
	return &apiEnv{cfg: cfg, store: store, router: srv.Router()}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) adminToken(t *testing.T) string {
	t.Helper()
	pair, err := auth.Issue("operator", "admin", e.cfg.JWTIssuer, e.cfg.JWTSigningKey, e.cfg.AccessTTL, e.cfg.RefreshTTL)
	require.NoError(t, err)
	return pair.AccessToken
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["remote"])
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/v1/identities", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/v1/identities", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong scheme entirely.
	req := httptest.NewRequest(http.MethodGet, "/v1/identities", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w = env.do(t, http.MethodGet, "/v1/identities", nil, env.adminToken(t))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterIdentityAndScan(t *testing.T) {
	env := newAPIEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/v1/identities", gin.H{
		"badge_key":    "badge-1",
		"role":         "student",
		"display_name": "Charles Marcelo",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate badge key conflicts.
	w = env.do(t, http.MethodPost, "/v1/identities", gin.H{
		"badge_key":    "badge-1",
		"role":         "student",
		"display_name": "Other",
	}, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The scan adapter needs no token; kiosks post raw badge keys.
	w = env.do(t, http.MethodPost, "/v1/scan", gin.H{"badge_key": "badge-1"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var outcome machine.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, machine.OutcomeAdmitted, outcome.Kind)

	w = env.do(t, http.MethodGet, "/v1/attendance", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Date   string            `json:"date"`
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, "2026-03-02", listing.Date)
	assert.Len(t, listing.Events, 1)
}

func TestScanValidation(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/v1/scan", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/scan", gin.H{"badge_key": "ghost"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var outcome machine.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, machine.OutcomeUnknown, outcome.Kind)
}

func TestDeviceRegistrationIssuesUsableToken(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/v1/devices/register", gin.H{"device_id": "kiosk-1"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)

	w = env.do(t, http.MethodGet, "/v1/status", nil, body.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteIdentity(t *testing.T) {
	env := newAPIEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/v1/identities", gin.H{
		"badge_key":    "badge-1",
		"role":         "teacher",
		"display_name": "Ms. Reyes",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/identities/badge-1", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/identities/badge-1", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForceSyncEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/v1/sync", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
}
