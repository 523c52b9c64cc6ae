package store

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// tmpDir holds uploads being committed. It lives inside the root so the
// final rename never crosses filesystems.
const tmpDir = ".incoming"

// Dir is the server-controlled directory of stored files. Names passed to
// Dir must satisfy ValidName.
type Dir struct {
	root string
}

// OpenDir opens root, creating it if absent.
func OpenDir(root string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(root, tmpDir), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating storage directory %s", root)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) path(name string) string {
	return filepath.Join(d.root, name)
}

// Write stores data under name, replacing any previous content. Readers
// observe either the old bytes or the new ones, never a partial file.
func (d *Dir) Write(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(d.root, tmpDir), "upload-*")
	if err != nil {
		return errors.Wrap(err, "creating upload temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), d.path(name)), "committing %s", name)
}

// Open opens name for reading and returns its current size.
func (d *Dir) Open(name string) (*os.File, int64, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, errors.Wrapf(err, "opening %s", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrapf(err, "stat %s", name)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, ErrNotFound
	}
	return f, info.Size(), nil
}

// Stat reports whether name exists as a regular file and its size.
func (d *Dir) Stat(name string) (int64, bool, error) {
	info, err := os.Stat(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "stat %s", name)
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// Remove deletes name. Removing a missing file returns ErrNotFound.
func (d *Dir) Remove(name string) error {
	err := os.Remove(d.path(name))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return errors.Wrapf(err, "removing %s", name)
}

// Names returns the regular files in the directory, sorted.
func (d *Dir) Names() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrapf(err, "reading storage directory %s", d.root)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
