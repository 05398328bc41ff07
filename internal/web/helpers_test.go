package web

import (
	"archive/zip"
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/lellostore/internal/apk"
	"github.com/Laisky/lellostore/internal/auth"
	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/internal/upload"
	"github.com/Laisky/lellostore/library/db/sqldb"
)

var (
	ginModeOnce sync.Once
)

func setupGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

// payloadMetadata reads the package identity from the classes.dex entry,
// formatted as "pkg:code:name".
type payloadMetadata struct{}

func (payloadMetadata) Parse(_ context.Context, apkPath string) (*apk.Metadata, error) {
	zr, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, apk.NewError(apk.ErrCodeParse, "not a zip")
	}
	defer zr.Close() // nolint: errcheck

	for _, f := range zr.File {
		if f.Name != "classes.dex" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}

		parts := strings.SplitN(buf.String(), ":", 3)
		if len(parts) != 3 {
			return nil, apk.NewError(apk.ErrCodeParse, "bad payload")
		}
		meta := &apk.Metadata{
			PackageName: parts[0],
			VersionName: parts[2],
			AppName:     "App " + parts[0],
			MinSDK:      24,
			Icon:        []byte("icon-png"),
		}
		for _, r := range parts[1] {
			meta.VersionCode = meta.VersionCode*10 + int64(r-'0')
		}
		return meta, nil
	}
	return nil, apk.NewError(apk.ErrCodeParse, "no payload")
}

// tokenVerifier accepts "admin" and "user" as bearer tokens.
type tokenVerifier struct{}

func (tokenVerifier) Validate(_ context.Context, token string) (*auth.AuthenticatedUser, error) {
	switch token {
	case "admin":
		return &auth.AuthenticatedUser{Subject: "root", Roles: []string{"admin"}, IsAdmin: true}, nil
	case "user":
		return &auth.AuthenticatedUser{Subject: "alice", Roles: []string{"user"}}, nil
	default:
		return nil, auth.NewError(auth.ErrCodeTokenInvalid, "bad token")
	}
}

type testServer struct {
	router  *gin.Engine
	files   *storage.Manager
	repo    *catalog.Repository
	metrics *Metrics
}

func newTestServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	setupGinTestMode()
	ctx := context.Background()

	files, err := storage.New(t.TempDir())
	require.NoError(t, err)

	db, err := sqldb.Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))

	repo, err := catalog.NewRepository(db.DB)
	require.NoError(t, err)

	svc, err := upload.NewService(upload.Settings{MaxUploadSize: 64 << 10}, files, repo, payloadMetadata{})
	require.NoError(t, err)

	h, err := NewHandlers(repo, files, svc)
	require.NoError(t, err)

	metrics := NewMetrics()
	opts := []ServerOption{WithMetrics(metrics)}
	if withAuth {
		opts = append(opts, WithTokenVerifier(tokenVerifier{}))
	}

	return &testServer{
		router:  NewRouter(h, opts...),
		files:   files,
		repo:    repo,
		metrics: metrics,
	}
}

func (s *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path, token string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil), token)
}

// buildAPK returns a minimal APK whose payload payloadMetadata understands.
func buildAPK(t *testing.T, pkg, code, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range [][2]string{{"AndroidManifest.xml", "manifest"}, {"classes.dex", pkg + ":" + code + ":" + name}} {
		w, err := zw.Create(entry[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(entry[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// uploadRequest builds a multipart upload. Empty fields are omitted.
func uploadRequest(t *testing.T, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/apps", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// seedVersion stores data as a version directly, bypassing the upload pipeline.
func (s *testServer) seedVersion(t *testing.T, pkg string, code int64, data []byte) {
	t.Helper()
	ctx := context.Background()

	rel, err := s.files.SaveAPK(ctx, pkg, code, data)
	require.NoError(t, err)
	_, err = s.repo.RecordUpload(ctx, &catalog.UploadRecord{
		PackageName: pkg,
		AppName:     "Seeded",
		VersionCode: code,
		VersionName: "2.0",
		APKPath:     rel,
		Size:        int64(len(data)),
		SHA256:      storage.SHA256(data),
		MinSDK:      21,
	})
	require.NoError(t, err)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
