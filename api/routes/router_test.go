package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(t *testing.T, checks map[string]db.Pinger) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "ops-test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	metrics.NewCronJobMetrics(reg).IncSuccess("credit-expiry")
	return NewOpsRouter(cfg, logg, reg, checks)
}

func TestLiveProbe(t *testing.T) {
	router := newRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-ForestCarbon-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReadyProbeReportsFailedDependencies(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	router := newRouter(t, map[string]db.Pinger{"database": ok, "redis": ok})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	router = newRouter(t, map[string]db.Pinger{"database": ok, "redis": down})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), "DEPENDENCY_ERROR")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cron_job_runs_total"))
}
