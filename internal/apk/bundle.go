package apk

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/library/log"
)

// BundleConverter turns an Android App Bundle into a single installable APK.
type BundleConverter interface {
	// Convert writes the universal APK into outDir and returns its path.
	Convert(ctx context.Context, aabPath, outDir string) (string, error)
}

const universalAPKEntry = "universal.apk"

// Bundletool converts bundles with `java -jar bundletool.jar build-apks --mode=universal`.
type Bundletool struct {
	java   string
	jar    string
	logger logSDK.Logger
	runCMD func(ctx context.Context, app string, args ...string) ([]byte, error)
}

// NewBundletool checks that both java and the bundletool jar are present.
// It returns an ErrCodeAabNotSupported error otherwise.
func NewBundletool(javaPath, jarPath string, logger logSDK.Logger) (*Bundletool, error) {
	if logger == nil {
		logger = log.Logger.Named("bundletool")
	}
	if strings.TrimSpace(javaPath) == "" {
		javaPath = "java"
	}

	jarPath = strings.TrimSpace(jarPath)
	if jarPath == "" {
		return nil, NewError(ErrCodeAabNotSupported, "bundletool path is not configured")
	}
	if info, err := os.Stat(jarPath); err != nil || info.IsDir() {
		return nil, NewError(ErrCodeAabNotSupported, "bundletool jar not found: "+jarPath)
	}

	java, err := exec.LookPath(javaPath)
	if err != nil {
		return nil, NewError(ErrCodeAabNotSupported, "java runtime not found: "+javaPath)
	}

	return &Bundletool{
		java:   java,
		jar:    jarPath,
		logger: logger,
		runCMD: gutils.RunCMD,
	}, nil
}

// Convert validates that aabPath is a bundle and extracts its universal APK.
func (b *Bundletool) Convert(ctx context.Context, aabPath, outDir string) (string, error) {
	isBundle, err := isBundleFile(aabPath)
	if err != nil {
		return "", NewError(ErrCodeInvalidAab, "open bundle: "+err.Error())
	}
	if !isBundle {
		return "", NewError(ErrCodeInvalidAab, "BundleConfig.pb not found")
	}

	apksPath := filepath.Join(outDir, "output.apks")
	out, err := b.runCMD(ctx, b.java,
		"-jar", b.jar,
		"build-apks",
		"--bundle="+aabPath,
		"--output="+apksPath,
		"--mode=universal",
	)
	if err != nil {
		b.logger.Error("bundletool build-apks",
			zap.String("bundle", aabPath),
			zap.ByteString("output", out),
			zap.Error(err))
		return "", NewError(ErrCodeConversionFailed, "bundletool build-apks failed")
	}

	apkPath := filepath.Join(outDir, universalAPKEntry)
	if err = extractZipEntry(apksPath, universalAPKEntry, apkPath); err != nil {
		return "", NewError(ErrCodeConversionFailed, err.Error())
	}

	return apkPath, nil
}

// extractZipEntry copies entry from the zip at zipPath into dst.
func extractZipEntry(zipPath, entry, dst string) (err error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", filepath.Base(zipPath))
	}
	defer zr.Close() //nolint:errcheck

	src, err := zr.Open(entry)
	if err != nil {
		return errors.Wrapf(err, "%s not found in %s", entry, filepath.Base(zipPath))
	}
	defer src.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", dst)
		}
	}()

	if _, err = io.Copy(out, src); err != nil {
		return errors.Wrapf(err, "extract %s", entry)
	}
	return nil
}
