// Package web serves the catalog REST API and the metrics endpoint.
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/lellostore/internal/auth"
	"github.com/Laisky/lellostore/library/config"
	"github.com/Laisky/lellostore/library/log"
)

const (
	DefaultListen        = "127.0.0.1:8080"
	DefaultMetricsListen = "127.0.0.1:9091"
	shutdownTimeout      = 30 * time.Second
)

// Settings configures the HTTP listeners.
type Settings struct {
	Listen        string
	MetricsListen string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	// FrontendDistDir is the built frontend; empty disables it.
	FrontendDistDir string
}

// LoadSettingsFromConfig reads listener settings.
func LoadSettingsFromConfig() Settings {
	return Settings{
		Listen:        config.String("listen", DefaultListen),
		MetricsListen: config.String("metrics-listen", DefaultMetricsListen),
		ReadTimeout:   time.Duration(config.Int64("settings.http.read_timeout_seconds", 600)) * time.Second,
		WriteTimeout:  time.Duration(config.Int64("settings.http.write_timeout_seconds", 3600)) * time.Second,

		FrontendDistDir: config.String("settings.web.frontend_dist_dir", ""),
	}
}

// ServerOption configures NewRouter.
type ServerOption func(*serverOptions)

type serverOptions struct {
	verifier auth.TokenVerifier
	metrics  *Metrics
	frontend http.Handler
	logger   logSDK.Logger
}

// WithTokenVerifier protects /api with bearer tokens and mounts admin routes.
// Without it the read API is public and admin routes are absent.
func WithTokenVerifier(v auth.TokenVerifier) ServerOption {
	return func(o *serverOptions) {
		o.verifier = v
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}

// WithFrontend serves the frontend for every path outside /api that matches
// no route.
func WithFrontend(h http.Handler) ServerOption {
	return func(o *serverOptions) {
		o.frontend = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger logSDK.Logger) ServerOption {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewRouter builds the API engine.
func NewRouter(h *Handlers, opts ...ServerOption) *gin.Engine {
	o := &serverOptions{logger: log.Logger.Named("gin")}
	for _, opt := range opts {
		opt(o)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(gmw.WithLogger(o.logger)),
		allowCORS,
	)
	if o.metrics != nil {
		router.Use(o.metrics.Middleware())
	}

	router.GET("/health", Health)

	api := router.Group("/api")
	if o.verifier != nil {
		api.Use(auth.RequireUser(o.verifier))
	}
	api.GET("/apps", h.ListApps)
	api.GET("/apps/:package_name", h.GetApp)
	api.GET("/apps/:package_name/icon", h.GetIcon)
	api.GET("/apps/:package_name/versions/:version_code/apk", h.DownloadAPK)

	if o.verifier != nil {
		admin := api.Group("/admin", auth.RequireAdmin())
		admin.POST("/apps", h.UploadApp)
		admin.PUT("/apps/:package_name", h.UpdateApp)
		admin.DELETE("/apps/:package_name", h.DeleteApp)
		admin.DELETE("/apps/:package_name/versions/:version_code", h.DeleteVersion)
	} else {
		o.logger.Warn("authentication disabled, admin routes are not mounted")
	}

	router.NoRoute(func(c *gin.Context) {
		if o.frontend == nil || isAPIPath(c.Request.URL.Path) {
			respondError(c, http.StatusNotFound, "route not found")
			return
		}
		o.frontend.ServeHTTP(c.Writer, c.Request)
	})

	return router
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// allowCORS allows any origin. Bearer tokens travel in headers, so no
// credentials mode is involved.
func allowCORS(ctx *gin.Context) {
	if ctx.Request.Header.Get("Origin") == "" {
		ctx.Next()
		return
	}

	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
	ctx.Header("Access-Control-Allow-Headers", "*")
	ctx.Header("Access-Control-Expose-Headers", "Content-Disposition, Content-Range, Accept-Ranges")
	ctx.Header("Access-Control-Max-Age", "86400") // 24 hours

	if ctx.Request.Method == http.MethodOptions {
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}

	ctx.Next()
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, name, addr string, handler http.Handler, settings Settings, logger logSDK.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       settings.ReadTimeout,
		WriteTimeout:      settings.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on http", zap.String("server", name), zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "%s server exit", name)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "shutdown %s server", name)
	}
	logger.Info("http server stopped", zap.String("server", name))
	return nil
}
