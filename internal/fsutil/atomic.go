// Package fsutil holds small file helpers shared by the persistent stores.
package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteAtomic writes to a temp file in the target directory and renames it over path.
func WriteAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Remove deletes path, treating a missing file as success.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Snapshot holds the bytes of a file, or records that it did not exist.
type Snapshot struct {
	Path   string
	Data   []byte
	Exists bool
}

// Take reads path into a Snapshot.
func Take(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Data: data, Exists: true}, nil
}

// Restore puts the file back the way it was when the snapshot was taken.
func (s Snapshot) Restore() error {
	if !s.Exists {
		return Remove(s.Path)
	}
	return WriteAtomic(s.Path, func(w io.Writer) error {
		_, err := w.Write(s.Data)
		return err
	})
}
