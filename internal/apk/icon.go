package apk

import (
	"archive/zip"
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	errors "github.com/Laisky/errors/v2"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

const (
	// IconSize is the edge length of normalized icons.
	IconSize = 192

	maxIconEntryBytes = 16 << 20
	// maxIconDimension bounds the decoded bitmap of an icon entry.
	maxIconDimension = 4096
)

// LoadIcon reads entry from the APK zip at apkPath and normalizes it.
func LoadIcon(apkPath, entry string) ([]byte, error) {
	zr, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, errors.Wrap(err, "open apk as zip")
	}
	defer zr.Close() //nolint:errcheck

	f, err := zr.Open(entry)
	if err != nil {
		return nil, errors.Wrapf(err, "open icon entry %q", entry)
	}
	defer f.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(f, maxIconEntryBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read icon entry %q", entry)
	}
	if len(raw) > maxIconEntryBytes {
		return nil, errors.Errorf("icon entry %q too large", entry)
	}

	return NormalizeIcon(raw)
}

// NormalizeIcon decodes PNG, JPEG, GIF or WebP data, scales it to
// IconSize x IconSize and re-encodes it as PNG. The output is deterministic
// for a given input.
func NormalizeIcon(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode icon header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 ||
		cfg.Width > maxIconDimension || cfg.Height > maxIconDimension {
		return nil, errors.Errorf("icon dimensions %dx%d out of bounds", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode icon")
	}

	resized := resize.Resize(IconSize, IconSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err = png.Encode(&buf, resized); err != nil {
		return nil, errors.Wrap(err, "encode icon png")
	}
	return buf.Bytes(), nil
}
