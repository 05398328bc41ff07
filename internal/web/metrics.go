package web

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Laisky/lellostore/internal/storage"
)

const (
	storageService = "lellostore"
	// unmatchedPath labels requests that hit no route, keeping label
	// cardinality bounded.
	unmatchedPath = "unmatched"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	apps     prometheus.Gauge
	versions prometheus.Gauge
	storage  *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lellostore_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lellostore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		apps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lellostore_apps_total",
			Help: "Total number of apps in catalog",
		}),
		versions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lellostore_app_versions_total",
			Help: "Total number of app versions",
		}),
		storage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "homelab_storage_bytes",
				Help: "Storage usage in bytes",
			},
			[]string{"service", "path"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.apps,
		m.versions,
		m.storage,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency by route template, so
// "/api/apps/com.example.app" is counted as "/api/apps/:package_name".
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method

		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// CatalogCounter reports catalog sizes.
type CatalogCounter interface {
	Counts(ctx context.Context) (apps, versions int64, err error)
}

// UsageReporter reports bytes used by stored files.
type UsageReporter interface {
	Usage() (storage.Usage, error)
}

// MetricsSources feeds the periodic gauge refresh.
type MetricsSources struct {
	Catalog CatalogCounter
	Files   UsageReporter
	// DBPath is the sqlite file; empty for server databases.
	DBPath string
}

// Refresh updates catalog and storage gauges once.
func (m *Metrics) Refresh(ctx context.Context, src MetricsSources, logger logSDK.Logger) {
	if src.Catalog != nil {
		apps, versions, err := src.Catalog.Counts(ctx)
		if err != nil {
			logger.Warn("count catalog", zap.Error(err))
		} else {
			m.apps.Set(float64(apps))
			m.versions.Set(float64(versions))
		}
	}

	var total int64
	if src.Files != nil {
		usage, err := src.Files.Usage()
		if err != nil {
			logger.Warn("measure storage", zap.Error(err))
		} else {
			m.storage.WithLabelValues(storageService, "/apks").Set(float64(usage.APKs))
			m.storage.WithLabelValues(storageService, "/icons").Set(float64(usage.Icons))
			total += usage.APKs + usage.Icons
		}
	}
	if src.DBPath != "" {
		if info, err := os.Stat(src.DBPath); err == nil {
			m.storage.WithLabelValues(storageService, "/db").Set(float64(info.Size()))
			total += info.Size()
		}
	}
	m.storage.WithLabelValues(storageService, "/").Set(float64(total))
}

// RunUpdater refreshes the gauges immediately and then every interval until
// ctx is done.
func (m *Metrics) RunUpdater(ctx context.Context, interval time.Duration, src MetricsSources, logger logSDK.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Refresh(ctx, src, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
