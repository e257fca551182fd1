package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"VaultLedger/internal/observability"

	"github.com/stretchr/testify/require"
)

func readiness(t *testing.T, h *observability.HealthChecker) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()
	require.False(t, h.IsReady())

	code, body := readiness(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "starting", body["status"])

	h.SetReady(true)
	require.True(t, h.IsReady())
	code, _ = readiness(t, h)
	require.Equal(t, http.StatusOK, code)

	var down error
	h.AddProbe("postgres", func(context.Context) error { return down })
	h.AddProbe("nats", func(context.Context) error { return nil })
	require.Empty(t, h.Check(context.Background()))

	down = errors.New("connection refused")
	code, body = readiness(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, map[string]any{"postgres": "connection refused"}, body["failed"])
}

func TestHealthChecker_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"alive"`)
}
