// Package storage maps episodes onto the offline storage layout and persists
// their bytes in a durable key-value store rooted at a base directory
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// tempPrefix marks in-flight writes; names carrying it are never listed
const tempPrefix = ".tmp-"

// ErrInvalidPath is returned for names that would escape the store root
var ErrInvalidPath = errors.New("invalid storage path")

// Store is the durable byte store behind the files, meta and poster trees.
// Names are slash separated and relative to the store root.
type Store interface {
	// Write replaces the named file atomically, creating missing parents
	Write(name string, data []byte) error
	// Create writes the named file only if it does not exist yet; an existing
	// file yields an error matching fs.ErrExist and is left untouched
	Create(name string, data []byte) error
	// Read returns the file contents; a missing file yields an error matching fs.ErrNotExist
	Read(name string) ([]byte, error)
	// Exists reports whether the named file or directory exists
	Exists(name string) (bool, error)
	// List returns the sorted entry names of a directory, empty if it is missing
	List(name string) ([]string, error)
	// Remove deletes the named file or directory tree; missing names are ignored
	Remove(name string) error
}

// FSStore is a Store backed by the local filesystem
type FSStore struct {
	BasePath string
}

// NewFSStore creates a filesystem store with the specified base path
func NewFSStore(basePath string) *FSStore {
	return &FSStore{
		BasePath: filepath.Clean(basePath),
	}
}

// Write stages data in a temporary sibling and renames it over the target so
// readers observe either the previous or the new contents, never a mix
func (s *FSStore) Write(name string, data []byte) error {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return err
	}

	tmpPath, err := stage(fullPath, name, data)
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	return nil
}

// Create stages data like Write but hard-links it into place, which fails
// when the target exists. Concurrent creators of one name see exactly one
// success.
func (s *FSStore) Create(name string, data []byte) error {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return err
	}

	tmpPath, err := stage(fullPath, name, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, fullPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create %s: %w", name, fs.ErrExist)
		}
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	return nil
}

// stage writes data to a synced temporary sibling of fullPath and returns its path
func stage(fullPath, name string, data []byte) (string, error) {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(fullPath)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}

	return tmpPath, nil
}

// Read returns the contents of the named file
func (s *FSStore) Read(name string) ([]byte, error) {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return data, nil
}

// Exists reports whether the named entry exists
func (s *FSStore) Exists(name string) (bool, error) {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	return true, nil
}

// List lists the entries within the named directory in lexical order
func (s *FSStore) List(name string) ([]string, error) {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", name, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}

// Remove deletes the named file or directory tree
func (s *FSStore) Remove(name string) error {
	fullPath, err := s.ValidatePath(name)
	if err != nil {
		return err
	}

	if fullPath == s.BasePath {
		return fmt.Errorf("%w: refusing to remove store root", ErrInvalidPath)
	}

	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}

	return nil
}

// ValidatePath ensures the given relative name is safe and returns the full path
func (s *FSStore) ValidatePath(name string) (string, error) {
	// Handle empty path or root
	if name == "" || name == "/" {
		return s.BasePath, nil
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, name)
		}
	}
	cleanRelative := path.Clean("/" + slashed)

	fullPath := filepath.Join(s.BasePath, filepath.FromSlash(cleanRelative))

	// Ensure the result is still within the base path
	if fullPath != s.BasePath && !strings.HasPrefix(fullPath, s.BasePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, name)
	}

	return fullPath, nil
}
