package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/upload"
)

// brokenCatalog fails every call with err.
type brokenCatalog struct {
	err error
}

func (b brokenCatalog) ListApps(context.Context) ([]catalog.AppSummary, error) { return nil, b.err }
func (b brokenCatalog) GetApp(context.Context, string) (*catalog.App, error) { return nil, b.err }
func (b brokenCatalog) ListVersions(context.Context, string) ([]catalog.Version, error) {
	return nil, b.err
}
func (b brokenCatalog) GetVersion(context.Context, string, int64) (*catalog.Version, error) {
	return nil, b.err
}
func (b brokenCatalog) UpdateApp(context.Context, string, catalog.AppUpdate) (*catalog.App, error) {
	return nil, b.err
}
func (b brokenCatalog) DeleteApp(context.Context, string) (*catalog.App, error) { return nil, b.err }
func (b brokenCatalog) DeleteVersion(context.Context, string, int64) (*catalog.DeleteVersionResult, error) {
	return nil, b.err
}

func TestInternalErrorsAreLoggedNotLeaked(t *testing.T) {
	setupGinTestMode()
	t.Parallel()

	files := newTestServer(t, false).files
	svc, err := upload.NewService(upload.Settings{}, files, brokenUploadCatalog{}, payloadMetadata{})
	require.NoError(t, err)
	h, err := NewHandlers(brokenCatalog{err: errors.New("pq: password=hunter2 rejected")}, files, svc)
	require.NoError(t, err)

	router := NewRouter(h, WithLogger(logSDK.Shared.Named("test_internal_errors")))
	for _, path := range []string{"/api/apps", "/api/apps/com.example.app", "/api/apps/com.example.app/icon"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		require.Equal(t, http.StatusInternalServerError, w.Code, path)
		require.NotContains(t, w.Body.String(), "hunter2", path)
		require.JSONEq(t, `{"error":"Internal Server Error","message":"internal error"}`, w.Body.String(), path)
	}
}

// brokenUploadCatalog satisfies upload.Catalog; the test never uploads.
type brokenUploadCatalog struct{}

func (brokenUploadCatalog) GetApp(context.Context, string) (*catalog.App, error) {
	return nil, catalog.ErrNotFound
}
func (brokenUploadCatalog) VersionExists(context.Context, string, int64) (bool, error) {
	return false, nil
}
func (brokenUploadCatalog) RecordUpload(context.Context, *catalog.UploadRecord) (bool, error) {
	return false, errors.New("read only")
}

func TestContextLoggerReachesHandlers(t *testing.T) {
	setupGinTestMode()
	t.Parallel()

	testLogger := logSDK.Shared.Named("test_context_logger")

	router := gin.New()
	router.Use(gmw.NewLoggerMiddleware(
		gmw.WithLogger(testLogger),
	))

	var (
		loggerNotNil bool
		ctxHasGin    bool
	)
	router.GET("/apps/:package_name", func(c *gin.Context) {
		logger := gmw.GetLogger(c).Named("app_handler")
		loggerNotNil = logger != nil

		// the service layer only sees a context.Context
		_, ctxHasGin = gmw.GetGinCtxFromStdCtx(c)

		respondError(c, http.StatusNotFound, "app "+c.Param("package_name")+" not found")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/com.example.app", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "com.example.app")
	require.True(t, loggerNotNil, "Logger should be accessible from context")
	require.True(t, ctxHasGin, "Gin context should be accessible via gmw.GetGinCtxFromStdCtx")
}

func TestLoggerFallbackWhenNoGinContext(t *testing.T) {
	t.Parallel()

	logger := gmw.GetLogger(context.Background())
	require.NotNil(t, logger, "Logger should have a fallback when no gin context")
	logger.Debug("fallback logger test")
}
