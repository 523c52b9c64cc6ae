package store

import (
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// TimestampFormat matches the timestamps of existing metadata snapshots.
const TimestampFormat = "Mon Jan 02 15:04:05 2006"

// Catalog pairs the metadata records with the stored files and keeps the
// two consistent. It is not safe for concurrent use; the server calls it
// from a single goroutine.
type Catalog struct {
	Records Records
	Files   *Dir

	now func() time.Time
}

// Entry is one visible file.
type Entry struct {
	Name string
	Record
}

func NewCatalog(records Records, files *Dir) *Catalog {
	return &Catalog{Records: records, Files: files, now: time.Now}
}

// Checksum returns the content digest stored in records.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Commit stores data as name owned by owner. The file is written before
// the record so a crash in between leaves at worst an orphan.
func (c *Catalog) Commit(name, owner string, data []byte) (Record, error) {
	if !ValidName(name) {
		return Record{}, ErrInvalidName
	}
	if err := c.Files.Write(name, data); err != nil {
		return Record{}, err
	}
	rec := Record{
		Owner:     owner,
		FileSize:  int64(len(data)),
		Timestamp: c.now().Format(TimestampFormat),
		Checksum:  Checksum(data),
	}
	if err := c.Records.Put(name, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Lookup returns the record for name if name is visible: it has a record
// and a file. Inconsistencies are logged and reported as absence.
func (c *Catalog) Lookup(name string) (Record, bool, error) {
	if !ValidName(name) {
		return Record{}, false, nil
	}
	rec, ok, err := c.Records.Lookup(name)
	if err != nil || !ok {
		return Record{}, false, err
	}
	_, exists, err := c.Files.Stat(name)
	if err != nil {
		return Record{}, false, err
	}
	if !exists {
		glog.Warningf("Metadata for '%s' has no file on disk, treating it as absent", name)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Owner returns the owner recorded for name regardless of whether the file
// exists. ok is false when there is no record.
func (c *Catalog) Owner(name string) (string, bool, error) {
	if !ValidName(name) {
		return "", false, nil
	}
	rec, ok, err := c.Records.Lookup(name)
	return rec.Owner, ok, err
}

// Open opens a visible file for download.
func (c *Catalog) Open(name string) (*os.File, int64, error) {
	_, ok, err := c.Lookup(name)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNotFound
	}
	return c.Files.Open(name)
}

// Delete removes the record and then the file for name.
func (c *Catalog) Delete(name string) error {
	if err := c.Records.Remove(name); err != nil {
		return err
	}
	if err := c.Files.Remove(name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Visible lists files that have both a record and bytes on disk, sorted
// by name. Files without a record are logged and skipped.
func (c *Catalog) Visible() ([]Entry, error) {
	names, err := c.Files.Names()
	if err != nil {
		return nil, err
	}
	records, err := c.Records.All()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		rec, ok := records[name]
		if !ok {
			glog.Warningf("Error: Missing metadata for file '%s'", name)
			continue
		}
		entries = append(entries, Entry{Name: name, Record: rec})
	}
	return entries, nil
}

// Reconcile logs every inconsistency between records and files. It
// changes nothing and returns the number of problems found.
func (c *Catalog) Reconcile() (int, error) {
	names, err := c.Files.Names()
	if err != nil {
		return 0, err
	}
	records, err := c.Records.All()
	if err != nil {
		return 0, err
	}
	problems := 0
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		onDisk[name] = true
		rec, ok := records[name]
		if !ok {
			glog.Warningf("Orphan file '%s' has no metadata and will be hidden", name)
			problems++
			continue
		}
		size, _, err := c.Files.Stat(name)
		if err != nil {
			return problems, err
		}
		if size != rec.FileSize {
			glog.Warningf("File '%s' is %d bytes but metadata records %d", name, size, rec.FileSize)
			problems++
		}
	}
	for name := range records {
		if !onDisk[name] {
			glog.Warningf("Metadata for '%s' has no file on disk", name)
			problems++
		}
	}
	return problems, nil
}
