package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordingMirror keeps mirror calls in memory.
type recordingMirror struct {
	mu      sync.Mutex
	puts    []string
	removes []string
	err     error
}

func (r *recordingMirror) Put(_ context.Context, relPath string, _ []byte, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts = append(r.puts, relPath)
	return r.err
}

func (r *recordingMirror) Remove(_ context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, relPath)
	return r.err
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return m
}

func TestNewCreatesLayout(t *testing.T) {
	m := newTestManager(t)
	for _, dir := range []string{"apks", "icons", "temp"} {
		require.DirExists(t, filepath.Join(m.Root(), dir))
	}
}

func TestSHA256(t *testing.T) {
	require.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		SHA256([]byte("hello world")))
	require.Len(t, SHA256(nil), 64)
}

func TestValidatePackageName(t *testing.T) {
	valid := []string{"com.example.app", "org.lello.store_2", "a.b"}
	for _, name := range valid {
		require.NoError(t, ValidatePackageName(name), name)
	}

	invalid := []string{
		"",
		"noDots",
		"../etc/passwd",
		"com/example",
		`com\example`,
		"com..example",
		"com.example\x00",
		".com.example",
		"com.example.",
		"1com.example",
		"com.exa mple",
		"com." + string(make([]byte, 300)),
	}
	for _, name := range invalid {
		err := ValidatePackageName(name)
		require.Error(t, err, name)
		require.True(t, IsCode(err, ErrCodeInvalidPackageName), name)
	}
}

func TestSaveAPKLayoutAndContent(t *testing.T) {
	mirror := &recordingMirror{}
	m := newTestManager(t, WithMirror(mirror))
	ctx := context.Background()

	rel, err := m.SaveAPK(ctx, "com.example.app", 42, []byte("apk-bytes"))
	require.NoError(t, err)
	require.Equal(t, "apks/com.example.app/42.apk", rel)

	abs, err := m.APKPath("com.example.app", 42)
	require.NoError(t, err)
	got, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.Equal(t, "apk-bytes", string(got))

	entries, err := os.ReadDir(filepath.Dir(abs))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")

	require.Equal(t, []string{rel}, mirror.puts)
}

func TestSaveAPKNeverOverwrites(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveAPK(ctx, "com.example.app", 1, []byte("first"))
	require.NoError(t, err)

	_, err = m.SaveAPK(ctx, "com.example.app", 1, []byte("second"))
	require.True(t, IsCode(err, ErrCodeExists), "%+v", err)

	abs, err := m.APKPath("com.example.app", 1)
	require.NoError(t, err)
	got, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	entries, err := os.ReadDir(filepath.Dir(abs))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveAPKRejectsBadPackageName(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SaveAPK(context.Background(), "../../evil", 1, []byte("x"))
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidPackageName))
}

func TestSaveIconOverwrites(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	rel, err := m.SaveIcon(ctx, "com.example.app", []byte("old"))
	require.NoError(t, err)
	require.Equal(t, "icons/com.example.app.png", rel)

	_, err = m.SaveIcon(ctx, "com.example.app", []byte("new"))
	require.NoError(t, err)

	abs, err := m.IconPath("com.example.app")
	require.NoError(t, err)
	got, err := os.ReadFile(abs)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestDeleteAPKRemovesEmptyDir(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveAPK(ctx, "com.example.app", 1, []byte("v1"))
	require.NoError(t, err)
	_, err = m.SaveAPK(ctx, "com.example.app", 2, []byte("v2"))
	require.NoError(t, err)

	require.NoError(t, m.DeleteAPK(ctx, "com.example.app", 1))
	require.DirExists(t, filepath.Join(m.Root(), "apks", "com.example.app"))

	require.NoError(t, m.DeleteAPK(ctx, "com.example.app", 2))
	require.NoDirExists(t, filepath.Join(m.Root(), "apks", "com.example.app"))

	// absent files are fine
	require.NoError(t, m.DeleteAPK(ctx, "com.example.app", 2))
	require.NoError(t, m.DeleteIcon(ctx, "com.example.app"))
}

func TestDeletePackage(t *testing.T) {
	mirror := &recordingMirror{}
	m := newTestManager(t, WithMirror(mirror))
	ctx := context.Background()

	_, err := m.SaveAPK(ctx, "com.example.app", 1, []byte("v1"))
	require.NoError(t, err)
	_, err = m.SaveIcon(ctx, "com.example.app", []byte("icon"))
	require.NoError(t, err)

	require.NoError(t, m.DeletePackage(ctx, "com.example.app"))
	require.NoDirExists(t, filepath.Join(m.Root(), "apks", "com.example.app"))
	require.NoFileExists(t, filepath.Join(m.Root(), "icons", "com.example.app.png"))
	require.Contains(t, mirror.removes, "apks/com.example.app/")
	require.Contains(t, mirror.removes, "icons/com.example.app.png")

	require.NoError(t, m.DeletePackage(ctx, "com.example.app"))
}

func TestMirrorFailureDoesNotFailWrite(t *testing.T) {
	m := newTestManager(t, WithMirror(&recordingMirror{err: errors.New("bucket down")}))

	_, err := m.SaveAPK(context.Background(), "com.example.app", 3, []byte("v3"))
	require.NoError(t, err)
}

func TestResolve(t *testing.T) {
	m := newTestManager(t)

	abs, err := m.Resolve("apks/com.example.app/1.apk")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(m.Root(), "apks", "com.example.app", "1.apk"), abs)

	_, err = m.Resolve("../outside")
	require.True(t, IsCode(err, ErrCodeInvalidPath))

	_, err = m.Resolve("/etc/passwd")
	require.True(t, IsCode(err, ErrCodeInvalidPath))
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.NewSession()
	require.NoError(t, err)
	s2, err := m.NewSession()
	require.NoError(t, err)
	require.NotEqual(t, s1.ID(), s2.ID())
	id, err := uuid.Parse(s1.ID())
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())

	path, err := s1.WriteFile("input.aab", []byte("data"))
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, s1.Path("input.aab"), path)

	require.NoError(t, s1.Release())
	require.NoDirExists(t, s1.Dir())
	require.NoError(t, s1.Release())

	require.NoError(t, s2.Release())
}

func TestUsage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveAPK(ctx, "com.example.app", 1, make([]byte, 100))
	require.NoError(t, err)
	_, err = m.SaveAPK(ctx, "com.example.other", 1, make([]byte, 50))
	require.NoError(t, err)
	_, err = m.SaveIcon(ctx, "com.example.app", make([]byte, 7))
	require.NoError(t, err)

	u, err := m.Usage()
	require.NoError(t, err)
	require.EqualValues(t, 150, u.APKs)
	require.EqualValues(t, 7, u.Icons)
}
