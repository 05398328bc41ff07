package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/lellostore/internal/apk"
	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/library/db/sqldb"
)

// fakeMetadata resolves metadata by the content hash of the inspected file.
type fakeMetadata struct {
	mu     sync.Mutex
	byHash map[string]*apk.Metadata
	err    error
	calls  int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{byHash: map[string]*apk.Metadata{}}
}

func (f *fakeMetadata) register(data []byte, meta *apk.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[storage.SHA256(data)] = meta
}

func (f *fakeMetadata) Parse(ctx context.Context, apkPath string) (*apk.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}

	data, err := os.ReadFile(apkPath)
	if err != nil {
		return nil, err
	}
	meta, ok := f.byHash[storage.SHA256(data)]
	if !ok {
		return nil, apk.NewError(apk.ErrCodeParse, "unknown test package")
	}
	cp := *meta
	return &cp, nil
}

// fakeConverter writes a fixed universal APK into outDir.
type fakeConverter struct {
	universal []byte
	err       error
	gotAAB    []byte
}

func (f *fakeConverter) Convert(_ context.Context, aabPath, outDir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := os.ReadFile(aabPath)
	if err != nil {
		return "", err
	}
	f.gotAAB = data

	out := filepath.Join(outDir, "universal.apk")
	if err := os.WriteFile(out, f.universal, 0o600); err != nil {
		return "", err
	}
	return out, nil
}

// failingCatalog fails RecordUpload with err.
type failingCatalog struct {
	*catalog.Repository
	err error
}

func (f *failingCatalog) RecordUpload(context.Context, *catalog.UploadRecord) (bool, error) {
	return false, f.err
}

type testEnv struct {
	svc      *Service
	files    *storage.Manager
	repo     *catalog.Repository
	metadata *fakeMetadata
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	files, err := storage.New(t.TempDir())
	require.NoError(t, err)

	db, err := sqldb.Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, catalog.Migrate(ctx, db))

	repo, err := catalog.NewRepository(db.DB)
	require.NoError(t, err)

	metadata := newFakeMetadata()
	svc, err := NewService(Settings{MaxUploadSize: 10 << 20}, files, repo, metadata, opts...)
	require.NoError(t, err)

	return &testEnv{svc: svc, files: files, repo: repo, metadata: metadata}
}

// requireNoSessions asserts that every upload session has been released.
func (e *testEnv) requireNoSessions(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.files.Root(), "temp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

// buildPackage returns a zip that DetectKind classifies by its marker entry.
func buildPackage(t *testing.T, marker, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range [][2]string{{marker, "marker"}, {"classes.dex", payload}} {
		w, err := zw.Create(entry[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(entry[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildAPK(t *testing.T, payload string) []byte {
	return buildPackage(t, "AndroidManifest.xml", payload)
}

func buildAAB(t *testing.T, payload string) []byte {
	return buildPackage(t, "BundleConfig.pb", payload)
}

func strPtr(s string) *string { return &s }
