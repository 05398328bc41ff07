package storage

import (
	"os"
	"path/filepath"
	"sync"

	errors "github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"
)

// Session is a scratch directory owned by a single upload.
// Release must be called on every exit path; it is safe to call more than once.
type Session struct {
	id  string
	dir string

	once       sync.Once
	releaseErr error
}

// NewSession allocates a uniquely named directory under temp/.
func (m *Manager) NewSession() (*Session, error) {
	id := gutils.UUID7Bytes().String()
	dir := filepath.Join(m.root, tempDir, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session dir %q", dir)
	}

	return &Session{id: id, dir: dir}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Dir returns the absolute session directory.
func (s *Session) Dir() string {
	return s.dir
}

// Path returns the absolute path of name inside the session.
func (s *Session) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// WriteFile writes data to name inside the session and returns its path.
func (s *Session) WriteFile(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "write session file %q", name)
	}
	return path, nil
}

// Release recursively removes the session directory.
func (s *Session) Release() error {
	s.once.Do(func() {
		if err := os.RemoveAll(s.dir); err != nil {
			s.releaseErr = errors.Wrapf(err, "remove session dir %q", s.dir)
		}
	})
	return s.releaseErr
}
