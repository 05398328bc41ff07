// Package storage owns the on-disk layout for package binaries and icons.
//
// Layout under the root directory:
//
//	apks/{packageName}/{versionCode}.apk
//	icons/{packageName}.png
//	temp/{sessionID}/
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/library/log"
)

const (
	apksDir  = "apks"
	iconsDir = "icons"
	tempDir  = "temp"

	maxPackageNameLen = 255
)

var regexpPackageName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z0-9_]+)+$`)

// Mirror receives copies of stored objects. Implementations must be safe for
// concurrent use. Mirror failures never fail the local operation.
type Mirror interface {
	Put(ctx context.Context, relPath string, data []byte, contentType string) error
	Remove(ctx context.Context, relPrefix string) error
}

// Manager stores binaries and icons below a root directory.
type Manager struct {
	root   string
	mirror Mirror
	logger logSDK.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirror replicates every write and delete to m.
func WithMirror(m Mirror) Option {
	return func(mgr *Manager) {
		mgr.mirror = m
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(mgr *Manager) {
		if logger != nil {
			mgr.logger = logger
		}
	}
}

// New creates the directory layout under root and returns a Manager.
func New(root string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve storage root %q", root)
	}

	m := &Manager{
		root:   abs,
		logger: log.Logger.Named("storage"),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, dir := range []string{apksDir, iconsDir, tempDir} {
		if err = os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create storage dir %q", dir)
		}
	}

	return m, nil
}

// Root returns the absolute storage root.
func (m *Manager) Root() string {
	return m.root
}

// ValidatePackageName rejects identifiers that are not reverse-domain names.
func ValidatePackageName(packageName string) error {
	if packageName == "" {
		return NewError(ErrCodeInvalidPackageName, "package name is required")
	}
	if len(packageName) > maxPackageNameLen {
		return NewError(ErrCodeInvalidPackageName, "package name exceeds max length")
	}
	if strings.ContainsAny(packageName, "/\\\x00") || strings.Contains(packageName, "..") {
		return NewError(ErrCodeInvalidPackageName, "package name contains path characters")
	}
	if !regexpPackageName.MatchString(packageName) {
		return NewError(ErrCodeInvalidPackageName, "package name must be a reverse-domain identifier")
	}
	return nil
}

// SHA256 returns the lowercase hex digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// APKRelPath returns the storage-relative path for a package version.
func APKRelPath(packageName string, versionCode int64) string {
	return filepath.ToSlash(filepath.Join(apksDir, packageName, strconv.FormatInt(versionCode, 10)+".apk"))
}

// IconRelPath returns the storage-relative path for a package icon.
func IconRelPath(packageName string) string {
	return filepath.ToSlash(filepath.Join(iconsDir, packageName+".png"))
}

// SaveAPK atomically writes a package binary and returns its relative path.
// Binaries are immutable: an existing file yields an ErrCodeExists error.
func (m *Manager) SaveAPK(ctx context.Context, packageName string, versionCode int64, data []byte) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", errors.WithStack(err)
	}
	if versionCode < 0 {
		return "", errors.Errorf("invalid version code %d", versionCode)
	}

	rel := APKRelPath(packageName, versionCode)
	if err := m.writeAtomic(filepath.Join(m.root, rel), data, false); err != nil {
		return "", errors.Wrapf(err, "save apk %s", rel)
	}

	m.mirrorPut(ctx, rel, data, "application/vnd.android.package-archive")
	return rel, nil
}

// SaveIcon atomically writes a PNG icon, replacing any previous icon.
func (m *Manager) SaveIcon(ctx context.Context, packageName string, data []byte) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", errors.WithStack(err)
	}

	rel := IconRelPath(packageName)
	if err := m.writeAtomic(filepath.Join(m.root, rel), data, true); err != nil {
		return "", errors.Wrapf(err, "save icon %s", rel)
	}

	m.mirrorPut(ctx, rel, data, "image/png")
	return rel, nil
}

// DeleteAPK removes a version binary, and the package directory once empty.
// Deleting an absent file is not an error.
func (m *Manager) DeleteAPK(ctx context.Context, packageName string, versionCode int64) error {
	if err := ValidatePackageName(packageName); err != nil {
		return errors.WithStack(err)
	}

	rel := APKRelPath(packageName, versionCode)
	if err := removeIfExists(filepath.Join(m.root, rel)); err != nil {
		return errors.Wrapf(err, "delete apk %s", rel)
	}

	pkgDir := filepath.Join(m.root, apksDir, packageName)
	if entries, err := os.ReadDir(pkgDir); err == nil && len(entries) == 0 {
		if err = os.Remove(pkgDir); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("remove empty package dir", zap.String("dir", pkgDir), zap.Error(err))
		}
	}

	m.mirrorRemove(ctx, rel)
	return nil
}

// DeleteIcon removes the package icon if present.
func (m *Manager) DeleteIcon(ctx context.Context, packageName string) error {
	if err := ValidatePackageName(packageName); err != nil {
		return errors.WithStack(err)
	}

	rel := IconRelPath(packageName)
	if err := removeIfExists(filepath.Join(m.root, rel)); err != nil {
		return errors.Wrapf(err, "delete icon %s", rel)
	}

	m.mirrorRemove(ctx, rel)
	return nil
}

// DeletePackage removes every stored version and the icon of a package.
func (m *Manager) DeletePackage(ctx context.Context, packageName string) error {
	if err := ValidatePackageName(packageName); err != nil {
		return errors.WithStack(err)
	}

	pkgDir := filepath.Join(apksDir, packageName)
	if err := os.RemoveAll(filepath.Join(m.root, pkgDir)); err != nil {
		return errors.Wrapf(err, "delete package dir %s", pkgDir)
	}
	m.mirrorRemove(ctx, filepath.ToSlash(pkgDir)+"/")

	return m.DeleteIcon(ctx, packageName)
}

// APKPath returns the absolute path of a version binary.
func (m *Manager) APKPath(packageName string, versionCode int64) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", errors.WithStack(err)
	}
	return filepath.Join(m.root, APKRelPath(packageName, versionCode)), nil
}

// IconPath returns the absolute path of a package icon.
func (m *Manager) IconPath(packageName string) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", errors.WithStack(err)
	}
	return filepath.Join(m.root, IconRelPath(packageName)), nil
}

// Resolve turns a storage-relative path, as recorded in the catalog,
// into an absolute path. Paths escaping the root are rejected.
func (m *Manager) Resolve(relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", NewError(ErrCodeInvalidPath, "storage path must be relative")
	}

	abs := filepath.Join(m.root, filepath.FromSlash(relPath))
	if abs != m.root && !strings.HasPrefix(abs, m.root+string(filepath.Separator)) {
		return "", NewError(ErrCodeInvalidPath, "storage path escapes root")
	}
	return abs, nil
}

// writeAtomic writes data into a temp file next to dst, syncs it and moves it
// into place. With overwrite false an existing dst yields ErrCodeExists.
func (m *Manager) writeAtomic(dst string, data []byte, overwrite bool) (err error) {
	dir := filepath.Dir(dst)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create dir %q", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if overwrite {
		if err = os.Rename(tmpName, dst); err != nil {
			return errors.Wrap(err, "rename temp file")
		}
		return nil
	}

	return publishExclusive(tmpName, dst)
}

// publishExclusive hard links tmp to dst so that an existing dst is never
// replaced, then drops tmp. Filesystems without hard links fall back to a
// stat-then-rename.
func publishExclusive(tmp, dst string) error {
	linkErr := os.Link(tmp, dst)
	switch {
	case linkErr == nil:
		_ = os.Remove(tmp)
		return nil
	case errors.Is(linkErr, fs.ErrExist):
		_ = os.Remove(tmp)
		return NewError(ErrCodeExists, filepath.Base(dst)+" already exists")
	}

	if _, err := os.Lstat(dst); err == nil {
		_ = os.Remove(tmp)
		return NewError(ErrCodeExists, filepath.Base(dst)+" already exists")
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "rename temp file after link failed: %v", linkErr)
	}
	return nil
}

func (m *Manager) mirrorPut(ctx context.Context, rel string, data []byte, contentType string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Put(ctx, rel, data, contentType); err != nil {
		m.logger.Warn("mirror put", zap.String("path", rel), zap.Error(err))
	}
}

func (m *Manager) mirrorRemove(ctx context.Context, rel string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Remove(ctx, rel); err != nil {
		m.logger.Warn("mirror remove", zap.String("path", rel), zap.Error(err))
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
