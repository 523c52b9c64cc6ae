package store

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const badgerPrefix = "file:"

// BadgerStore keeps one key per record in a badger database. Each
// mutation runs in its own transaction.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger metadata at %s", dir)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Lookup(name string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "looking up %s", name)
	}
	return rec, found, nil
}

func (s *BadgerStore) Put(name string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+name), data)
	})
	return errors.Wrapf(err, "storing record for %s", name)
}

func (s *BadgerStore) Remove(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + name))
	})
	return errors.Wrapf(err, "removing record for %s", name)
}

func (s *BadgerStore) All() (map[string]Record, error) {
	records := make(map[string]Record)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(badgerPrefix):])
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return errors.Wrapf(err, "decoding record for %s", name)
			}
			records[name] = rec
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	return records, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging into glog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { glog.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { glog.Warningf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { glog.V(1).Infof("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { glog.V(2).Infof("badger: "+format, args...) }
