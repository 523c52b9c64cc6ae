package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// SnapshotStore persists all records as one JSON document. Every mutation
// loads the whole document, changes it and writes it back; every read
// loads it afresh. Callers serialize access.
type SnapshotStore struct {
	path string
}

// OpenSnapshot opens the snapshot at path, creating an empty one (and its
// parent directory) if it does not exist.
func OpenSnapshot(path string) (*SnapshotStore, error) {
	s := &SnapshotStore{path: path}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "checking metadata %s", path)
		}
		glog.Infof("Metadata file %s does not exist, creating it", path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrapf(err, "creating metadata directory for %s", path)
		}
		if err := s.save(map[string]Record{}); err != nil {
			return nil, err
		}
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the snapshot. A missing or empty file is an empty store.
func (s *SnapshotStore) load() (map[string]Record, error) {
	records := make(map[string]Record)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, errors.Wrapf(err, "reading metadata %s", s.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "parsing metadata %s", s.path)
	}
	return records, nil
}

// save replaces the snapshot atomically.
func (s *SnapshotStore) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding metadata")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".metadata-*")
	if err != nil {
		return errors.Wrap(err, "creating metadata temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing metadata temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing metadata temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing metadata temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), s.path), "replacing metadata %s", s.path)
}

func (s *SnapshotStore) Lookup(name string) (Record, bool, error) {
	records, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[name]
	return rec, ok, nil
}

func (s *SnapshotStore) Put(name string, rec Record) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	records[name] = rec
	return s.save(records)
}

func (s *SnapshotStore) Remove(name string) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return s.save(records)
}

func (s *SnapshotStore) All() (map[string]Record, error) {
	return s.load()
}

func (s *SnapshotStore) Close() error { return nil }
