package apk

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/library/log"
)

// Metadata is everything the upload pipeline needs from a package.
type Metadata struct {
	PackageName string
	VersionCode int64
	VersionName string
	MinSDK      int
	AppName     string
	// Icon is a 192x192 PNG, nil when the package has no usable icon.
	Icon []byte
}

// MetadataSource extracts metadata from an APK on disk.
type MetadataSource interface {
	Parse(ctx context.Context, apkPath string) (*Metadata, error)
}

// commandRunner runs name with args and returns stdout and stderr separately.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

var commonAapt2Paths = []string{
	"/usr/local/lib/android/sdk/build-tools/34.0.0/aapt2",
	"/usr/local/lib/android/sdk/build-tools/33.0.0/aapt2",
	"/opt/android-sdk/build-tools/34.0.0/aapt2",
	"/opt/android-sdk/build-tools/33.0.0/aapt2",
	"/opt/homebrew/bin/aapt2",
	"/usr/bin/aapt2",
}

// LocateAapt2 resolves the aapt2 binary. Lookup order: configured path,
// well-known install paths, the newest $ANDROID_HOME/build-tools, then PATH.
func LocateAapt2(configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		p, err := exec.LookPath(configured)
		if err != nil {
			return "", NewError(ErrCodeAapt2NotFound, "configured aapt2 not usable: "+configured)
		}
		return p, nil
	}

	for _, p := range commonAapt2Paths {
		if isExecutable(p) {
			return p, nil
		}
	}

	if home := os.Getenv("ANDROID_HOME"); home != "" {
		if p := newestBuildToolsBinary(filepath.Join(home, "build-tools"), "aapt2"); p != "" {
			return p, nil
		}
	}

	if p, err := exec.LookPath("aapt2"); err == nil {
		return p, nil
	}

	return "", NewError(ErrCodeAapt2NotFound, "aapt2 not found")
}

// newestBuildToolsBinary returns name from the highest versioned build-tools dir.
func newestBuildToolsBinary(buildTools, name string) string {
	entries, err := os.ReadDir(buildTools)
	if err != nil {
		return ""
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})

	for _, v := range versions {
		p := filepath.Join(buildTools, v, name)
		if isExecutable(p) {
			return p
		}
	}
	return ""
}

// compareVersions compares dotted numeric versions, falling back to string order
// for non-numeric parts.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, xerr := strconv.Atoi(x)
		yi, yerr := strconv.Atoi(y)
		switch {
		case xerr == nil && yerr == nil:
			if xi != yi {
				if xi > yi {
					return 1
				}
				return -1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// Aapt2 extracts metadata by running `aapt2 dump badging`.
type Aapt2 struct {
	bin    string
	logger logSDK.Logger
	run    commandRunner
}

// NewAapt2 returns a MetadataSource backed by the aapt2 binary at bin.
func NewAapt2(bin string, logger logSDK.Logger) *Aapt2 {
	if logger == nil {
		logger = log.Logger.Named("aapt2")
	}
	return &Aapt2{bin: bin, logger: logger, run: execRunner}
}

// Parse runs the badging tool on apkPath and extracts the icon.
func (a *Aapt2) Parse(ctx context.Context, apkPath string) (*Metadata, error) {
	stdout, stderr, err := a.run(ctx, a.bin, "dump", "badging", apkPath)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, NewError(ErrCodeAapt2NotFound, a.bin)
		}

		a.logger.Error("aapt2 dump badging",
			zap.String("apk", apkPath),
			zap.ByteString("stderr", stderr),
			zap.Error(err))
		return nil, NewError(ErrCodeAapt2Failed, err.Error())
	}

	b, err := ParseBadging(string(stdout))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	meta := &Metadata{
		PackageName: b.PackageName,
		VersionCode: b.VersionCode,
		VersionName: b.VersionName,
		MinSDK:      b.MinSDK,
		AppName:     b.AppName,
	}
	a.applyFallbacks(meta)

	if b.IconPath != "" {
		icon, err := LoadIcon(apkPath, b.IconPath)
		if err != nil {
			a.logger.Warn("extract icon",
				zap.String("package", meta.PackageName),
				zap.String("icon", b.IconPath),
				zap.Error(err))
		} else {
			meta.Icon = icon
		}
	}

	return meta, nil
}

// applyFallbacks fills optional fields the manifest left out.
func (a *Aapt2) applyFallbacks(meta *Metadata) {
	if meta.VersionName == "" {
		a.logger.Warn("missing versionName, using versionCode",
			zap.String("package", meta.PackageName),
			zap.Int64("version_code", meta.VersionCode))
		meta.VersionName = strconv.FormatInt(meta.VersionCode, 10)
	}
	if meta.AppName == "" {
		meta.AppName = FallbackAppName(meta.PackageName)
	}
}
