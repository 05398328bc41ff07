// Package upload turns an uploaded APK or AAB into a stored, cataloged version.
package upload

import (
	"context"
	"os"
	"strconv"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/internal/apk"
	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/library/log"
)

const (
	sessionAPKName = "app.apk"
	sessionAABName = "input.aab"
)

// Catalog is the subset of catalog.Store the pipeline needs.
type Catalog interface {
	GetApp(ctx context.Context, packageName string) (*catalog.App, error)
	VersionExists(ctx context.Context, packageName string, versionCode int64) (bool, error)
	RecordUpload(ctx context.Context, rec *catalog.UploadRecord) (isNewApp bool, err error)
}

// FileStore is the subset of storage.Manager the pipeline needs.
type FileStore interface {
	NewSession() (*storage.Session, error)
	SaveAPK(ctx context.Context, packageName string, versionCode int64, data []byte) (string, error)
	SaveIcon(ctx context.Context, packageName string, data []byte) (string, error)
	DeleteAPK(ctx context.Context, packageName string, versionCode int64) error
	DeleteIcon(ctx context.Context, packageName string) error
}

// Result describes an accepted upload.
type Result struct {
	PackageName string `json:"packageName"`
	VersionCode int64  `json:"versionCode"`
	VersionName string `json:"versionName"`
	AppName     string `json:"appName"`
	IsNewApp    bool   `json:"isNewApp"`
}

// Service runs the upload pipeline. It is safe for concurrent use.
type Service struct {
	settings Settings
	files    FileStore
	catalog  Catalog
	metadata apk.MetadataSource
	// bundles is nil when AAB conversion is unavailable
	bundles apk.BundleConverter
	logger  logSDK.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBundleConverter enables AAB uploads.
func WithBundleConverter(c apk.BundleConverter) Option {
	return func(s *Service) {
		s.bundles = c
	}
}

// WithLogger sets the service logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates an upload service.
func NewService(settings Settings, files FileStore, cat Catalog, metadata apk.MetadataSource, opts ...Option) (*Service, error) {
	if files == nil || cat == nil || metadata == nil {
		return nil, errors.New("files, catalog and metadata source are required")
	}
	if settings.MaxUploadSize <= 0 {
		settings.MaxUploadSize = DefaultMaxUploadSize
	}

	s := &Service{
		settings: settings,
		files:    files,
		catalog:  cat,
		metadata: metadata,
		logger:   log.Logger.Named("upload"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// MaxUploadSize returns the configured upload limit in bytes.
func (s *Service) MaxUploadSize() int64 {
	return s.settings.MaxUploadSize
}

// ProcessUpload validates, converts, inspects, stores and records one upload.
// Override fields are applied only when non-nil.
func (s *Service) ProcessUpload(ctx context.Context,
	fileName string,
	data []byte,
	overrideName, overrideDescription *string,
) (*Result, error) {
	if int64(len(data)) > s.settings.MaxUploadSize {
		return nil, NewError(ErrCodeFileTooLarge,
			"file exceeds maximum upload size of "+strconv.FormatInt(s.settings.MaxUploadSize, 10)+" bytes")
	}

	kind := apk.DetectKind(fileName, data)
	if kind == apk.KindUnknown {
		return nil, NewError(ErrCodeInvalidFileType, "file must be an APK or AAB")
	}
	if kind == apk.KindAAB && s.bundles == nil {
		return nil, NewError(ErrCodeAabNotSupported, "AAB uploads are not supported on this server")
	}

	sess, err := s.files.NewSession()
	if err != nil {
		return nil, wrapError(ErrCodeInternal, "failed to allocate upload session", err)
	}
	defer func() {
		if rerr := sess.Release(); rerr != nil {
			s.logger.Warn("release upload session",
				zap.String("session", sess.ID()),
				zap.Error(rerr))
		}
	}()

	apkPath, apkData, err := s.preparePackage(ctx, sess, kind, data)
	if err != nil {
		return nil, err
	}

	meta, err := s.metadata.Parse(ctx, apkPath)
	if err != nil {
		return nil, mapExtractError(err)
	}
	if err = storage.ValidatePackageName(meta.PackageName); err != nil {
		return nil, wrapError(ErrCodeInvalidPackageName, "invalid package name: "+meta.PackageName, err)
	}

	logger := s.logger.With(
		zap.String("package", meta.PackageName),
		zap.Int64("version_code", meta.VersionCode),
		zap.String("session", sess.ID()))

	exists, err := s.catalog.VersionExists(ctx, meta.PackageName, meta.VersionCode)
	if err != nil {
		return nil, wrapError(ErrCodeInternal, "failed to query catalog", err)
	}
	if exists {
		return nil, versionExistsError(meta)
	}

	existing, err := s.catalog.GetApp(ctx, meta.PackageName)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, wrapError(ErrCodeInternal, "failed to query catalog", err)
	}

	sha := storage.SHA256(apkData)

	apkRel, err := s.files.SaveAPK(ctx, meta.PackageName, meta.VersionCode, apkData)
	if err != nil {
		// a concurrent upload of the same pair stored its binary first
		if storage.IsCode(err, storage.ErrCodeExists) {
			return nil, versionExistsError(meta)
		}
		return nil, wrapError(ErrCodeInternal, "failed to store package", err)
	}

	var iconRel *string
	if len(meta.Icon) > 0 {
		if rel, err := s.files.SaveIcon(ctx, meta.PackageName, meta.Icon); err != nil {
			logger.Warn("store icon", zap.Error(err))
		} else {
			iconRel = &rel
		}
	}

	isNewApp, err := s.catalog.RecordUpload(ctx, &catalog.UploadRecord{
		PackageName:         meta.PackageName,
		AppName:             meta.AppName,
		OverrideName:        overrideName,
		OverrideDescription: overrideDescription,
		IconPath:            iconRel,
		VersionCode:         meta.VersionCode,
		VersionName:         meta.VersionName,
		APKPath:             apkRel,
		Size:                int64(len(apkData)),
		SHA256:              sha,
		MinSDK:              meta.MinSDK,
	})
	if err != nil {
		s.compensate(ctx, logger, meta.PackageName, meta.VersionCode, existing == nil && iconRel != nil)
		if errors.Is(err, catalog.ErrVersionConflict) {
			return nil, versionExistsError(meta)
		}
		return nil, wrapError(ErrCodeInternal, "failed to record upload", err)
	}

	appName := meta.AppName
	switch {
	case overrideName != nil:
		appName = *overrideName
	case existing != nil:
		appName = existing.Name
	}

	logger.Info("upload accepted",
		zap.String("version_name", meta.VersionName),
		zap.String("kind", kind.String()),
		zap.Int("size", len(apkData)),
		zap.String("sha256", sha),
		zap.Bool("new_app", isNewApp))

	return &Result{
		PackageName: meta.PackageName,
		VersionCode: meta.VersionCode,
		VersionName: meta.VersionName,
		AppName:     appName,
		IsNewApp:    isNewApp,
	}, nil
}

// preparePackage places the installable APK inside the session, converting
// bundles first. It returns the APK path and its bytes.
func (s *Service) preparePackage(ctx context.Context,
	sess *storage.Session,
	kind apk.Kind,
	data []byte,
) (string, []byte, error) {
	if kind != apk.KindAAB {
		path, err := sess.WriteFile(sessionAPKName, data)
		if err != nil {
			return "", nil, wrapError(ErrCodeInternal, "failed to write upload", err)
		}
		return path, data, nil
	}

	aabPath, err := sess.WriteFile(sessionAABName, data)
	if err != nil {
		return "", nil, wrapError(ErrCodeInternal, "failed to write upload", err)
	}

	converted, err := s.bundles.Convert(ctx, aabPath, sess.Dir())
	if err != nil {
		return "", nil, mapExtractError(err)
	}

	apkData, err := os.ReadFile(converted)
	if err != nil {
		return "", nil, wrapError(ErrCodeInternal, "failed to read converted package", err)
	}
	return converted, apkData, nil
}

// compensate removes files stored for an upload whose catalog write failed.
func (s *Service) compensate(ctx context.Context,
	logger logSDK.Logger,
	packageName string,
	versionCode int64,
	removeIcon bool,
) {
	ctx = context.WithoutCancel(ctx)
	if err := s.files.DeleteAPK(ctx, packageName, versionCode); err != nil {
		logger.Error("remove stored apk after catalog failure", zap.Error(err))
	}
	if removeIcon {
		if err := s.files.DeleteIcon(ctx, packageName); err != nil {
			logger.Error("remove stored icon after catalog failure", zap.Error(err))
		}
	}
}

func versionExistsError(meta *apk.Metadata) *Error {
	return NewError(ErrCodeVersionExists,
		"version "+strconv.FormatInt(meta.VersionCode, 10)+" of "+meta.PackageName+" already exists")
}

// mapExtractError converts extraction errors to upload errors. Tool output
// stays in the cause so it never reaches clients.
func mapExtractError(err error) error {
	typed, ok := apk.AsError(err)
	if !ok {
		return wrapError(ErrCodeInternal, "failed to inspect package", err)
	}

	switch typed.Code {
	case apk.ErrCodeParse:
		return wrapError(ErrCodeParse, "failed to parse package metadata", err)
	case apk.ErrCodeAapt2NotFound:
		return wrapError(ErrCodeAapt2NotFound, "package inspection tool is not available", err)
	case apk.ErrCodeAapt2Failed:
		return wrapError(ErrCodeAapt2Failed, "package inspection failed", err)
	case apk.ErrCodeAabNotSupported:
		return wrapError(ErrCodeAabNotSupported, "AAB uploads are not supported on this server", err)
	case apk.ErrCodeInvalidAab:
		return wrapError(ErrCodeInvalidAab, "file is not a valid Android App Bundle", err)
	case apk.ErrCodeConversionFailed:
		return wrapError(ErrCodeConversionFailed, "failed to convert bundle", err)
	default:
		return wrapError(ErrCodeInternal, "failed to inspect package", err)
	}
}
