package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/library/log"
)

type fixedCounter struct {
	apps, versions int64
	err            error
}

func (f fixedCounter) Counts(context.Context) (int64, int64, error) {
	return f.apps, f.versions, f.err
}

type fixedUsage struct {
	usage storage.Usage
	err   error
}

func (f fixedUsage) Usage() (storage.Usage, error) {
	return f.usage, f.err
}

func TestMetricsRefresh(t *testing.T) {
	m := NewMetrics()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	require.NoError(t, os.WriteFile(dbPath, make([]byte, 30), 0o600))

	m.Refresh(context.Background(), MetricsSources{
		Catalog: fixedCounter{apps: 3, versions: 7},
		Files:   fixedUsage{usage: storage.Usage{APKs: 1000, Icons: 200}},
		DBPath:  dbPath,
	}, log.Logger)

	require.InDelta(t, 3, testutil.ToFloat64(m.apps), 0)
	require.InDelta(t, 7, testutil.ToFloat64(m.versions), 0)
	require.InDelta(t, 1000, testutil.ToFloat64(m.storage.WithLabelValues(storageService, "/apks")), 0)
	require.InDelta(t, 200, testutil.ToFloat64(m.storage.WithLabelValues(storageService, "/icons")), 0)
	require.InDelta(t, 30, testutil.ToFloat64(m.storage.WithLabelValues(storageService, "/db")), 0)
	require.InDelta(t, 1230, testutil.ToFloat64(m.storage.WithLabelValues(storageService, "/")), 0)
}

func TestMetricsRefreshKeepsGaugesOnError(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Refresh(ctx, MetricsSources{Catalog: fixedCounter{apps: 2, versions: 4}}, log.Logger)
	m.Refresh(ctx, MetricsSources{
		Catalog: fixedCounter{err: errors.New("db locked")},
		Files:   fixedUsage{err: errors.New("walk failed")},
	}, log.Logger)

	require.InDelta(t, 2, testutil.ToFloat64(m.apps), 0)
	require.InDelta(t, 4, testutil.ToFloat64(m.versions), 0)
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	s := newTestServer(t, true)
	s.seedVersion(t, "com.example.app", 1, []byte("apk"))

	require.Equal(t, http.StatusOK, s.get("/api/apps/com.example.app", "user").Code)
	require.Equal(t, http.StatusNotFound, s.get("/api/apps/com.other.app", "user").Code)
	require.Equal(t, http.StatusNotFound, s.get("/no/such/route", "").Code)

	requests := s.metrics.requests
	require.InDelta(t, 1, testutil.ToFloat64(
		requests.WithLabelValues(http.MethodGet, "/api/apps/:package_name", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(
		requests.WithLabelValues(http.MethodGet, "/api/apps/:package_name", "404")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(
		requests.WithLabelValues(http.MethodGet, unmatchedPath, "404")), 0)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Refresh(context.Background(), MetricsSources{Catalog: fixedCounter{apps: 1, versions: 1}}, log.Logger)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, name := range []string{
		"lellostore_apps_total 1",
		"lellostore_app_versions_total 1",
		`homelab_storage_bytes{path="/",service="lellostore"} 0`,
		"go_goroutines",
	} {
		require.True(t, strings.Contains(body, name), name)
	}
}

func TestRunUpdaterStopsWithContext(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunUpdater(ctx, time.Hour, MetricsSources{Catalog: fixedCounter{apps: 5}}, log.Logger)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.apps) == 5
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
