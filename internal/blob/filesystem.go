package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem implements Store on a local directory. Writes go through a
// temp file and rename so a crashed write never leaves a torn blob behind.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		dir = "./stashdata"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Filesystem{root: dir}, nil
}

// Driver reports the backend identifier.
func (s *Filesystem) Driver() Driver { return DriverFilesystem }

func (s *Filesystem) fullPath(p string) (string, error) {
	clean, err := sanitizePath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Read returns the file content, or ok=false when it does not exist.
func (s *Filesystem) Read(_ context.Context, p string) ([]byte, bool, error) {
	full, err := s.fullPath(p)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Write stores content atomically via a sibling temp file and rename.
func (s *Filesystem) Write(_ context.Context, p string, data []byte) error {
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

// Delete removes the file; an absent path is not an error.
func (s *Filesystem) Delete(_ context.Context, p string) error {
	full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the root and returns slash-separated blob paths with the prefix.
func (s *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Rename moves a blob, creating intermediate directories for the target.
func (s *Filesystem) Rename(_ context.Context, oldPath, newPath string) error {
	oldFull, err := s.fullPath(oldPath)
	if err != nil {
		return err
	}
	newFull, err := s.fullPath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return err
	}
	return os.Rename(oldFull, newFull)
}

// Root exposes the backing directory for diagnostics.
func (s *Filesystem) Root() string { return s.root }
