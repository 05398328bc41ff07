package apk

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
)

// Kind is the container kind of an uploaded file.
type Kind int

const (
	KindUnknown Kind = iota
	KindAPK
	KindAAB
)

func (k Kind) String() string {
	switch k {
	case KindAPK:
		return "apk"
	case KindAAB:
		return "aab"
	default:
		return "unknown"
	}
}

const (
	manifestEntry     = "AndroidManifest.xml"
	bundleConfigEntry = "BundleConfig.pb"
)

// DetectKind inspects the zip container. A BundleConfig.pb entry marks a
// bundle, AndroidManifest.xml a package; zips carrying neither fall back to
// the file extension. Non-zip data is always KindUnknown.
func DetectKind(fileName string, data []byte) Kind {
	if len(data) < 4 || !bytes.HasPrefix(data, []byte("PK")) {
		return KindUnknown
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return KindUnknown
	}

	var hasManifest bool
	for _, f := range zr.File {
		switch f.Name {
		case bundleConfigEntry:
			return KindAAB
		case manifestEntry:
			hasManifest = true
		}
	}
	if hasManifest {
		return KindAPK
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".apk":
		return KindAPK
	case ".aab":
		return KindAAB
	}
	return KindUnknown
}

// isBundleFile reports whether the zip at path holds a BundleConfig.pb entry.
func isBundleFile(path string) (bool, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false, err
	}
	defer zr.Close() //nolint:errcheck

	for _, f := range zr.File {
		if f.Name == bundleConfigEntry {
			return true, nil
		}
	}
	return false, nil
}
