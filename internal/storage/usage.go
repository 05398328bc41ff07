package storage

import (
	"io/fs"
	"path/filepath"

	errors "github.com/Laisky/errors/v2"
)

// Usage reports bytes stored per top-level area.
type Usage struct {
	APKs  int64
	Icons int64
}

// Usage walks the binary and icon trees and sums regular file sizes.
func (m *Manager) Usage() (Usage, error) {
	var (
		u   Usage
		err error
	)
	if u.APKs, err = dirSize(filepath.Join(m.root, apksDir)); err != nil {
		return u, errors.Wrap(err, "size apks")
	}
	if u.Icons, err = dirSize(filepath.Join(m.root, iconsDir)); err != nil {
		return u, errors.Wrap(err, "size icons")
	}
	return u, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return total, nil
}
