// Package store keeps the file server's durable state: one metadata record
// per stored file, and the directory holding the files' bytes.
//
// Records are the single source of truth for ownership and visibility. A
// file on disk without a record is an orphan and is treated as absent; a
// record whose file is missing is dangling and is treated as absent too.
// Both inconsistencies are logged, never surfaced as errors to clients.
package store

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid filename")
)

// Record is the metadata kept for one stored file. The JSON field names
// match the snapshot format written by earlier servers.
type Record struct {
	Owner     string `json:"owner"`
	FileSize  int64  `json:"filesize"`
	Timestamp string `json:"timestamp"`
	Checksum  string `json:"checksum,omitempty"`
}

// Records is a durable filename -> Record mapping. Implementations must
// not serve reads from a cache: every call observes the persisted state.
type Records interface {
	Lookup(name string) (Record, bool, error)
	Put(name string, rec Record) error
	Remove(name string) error
	All() (map[string]Record, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// Open returns the Records implementation named by backend, persisted at
// path (a snapshot file for json, a directory for badger).
func Open(backend, path string) (Records, error) {
	switch backend {
	case BackendJSON, "":
		return OpenSnapshot(path)
	case BackendBadger:
		return OpenBadger(path)
	}
	return nil, errors.Errorf("unknown metadata backend %q", backend)
}

// ValidName reports whether name can be used as a stored filename. Names
// must be a single path element and must not start with a dot.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
