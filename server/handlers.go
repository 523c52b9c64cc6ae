package server

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/store"
)

func (s *Server) handleList(c *Conn) result {
	entries, err := s.catalog.Visible()
	if err != nil {
		glog.Errorf("Listing files for %s: %v", c.remote, err)
		return result{reply: common.ReplyListFailed}
	}
	if len(entries) == 0 {
		return result{reply: common.ReplyNoFiles}
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, common.ListHeader(len(entries)))
	for _, e := range entries {
		lines = append(lines, common.ListEntry(e.Name, e.FileSize, e.Owner, e.Timestamp))
	}
	return result{reply: strings.Join(lines, "\n")}
}

func (s *Server) handleDelete(c *Conn, user, name string) result {
	if !store.ValidName(name) {
		return result{reply: common.InvalidName(name)}
	}

	rec, ok, err := s.catalog.Lookup(name)
	if err != nil {
		glog.Errorf("Looking up %s for delete: %v", name, err)
		return result{reply: common.DeleteFailed(name)}
	}
	if !ok {
		return result{reply: common.NotFound(name)}
	}
	if rec.Owner != user {
		glog.Infof("User %s denied deleting %s owned by %s", user, name, rec.Owner)
		return result{reply: common.ReplyDeleteDenied}
	}

	if err := s.catalog.Delete(name); err != nil {
		glog.Errorf("Deleting %s: %v", name, err)
		return result{reply: common.DeleteFailed(name)}
	}
	glog.Infof("File %s deleted by %s", name, user)
	return result{reply: common.Deleted(name)}
}

func (s *Server) handlePush(c *Conn, user, name string) result {
	if !store.ValidName(name) {
		return result{reply: common.InvalidName(name)}
	}

	owner, exists, err := s.catalog.Owner(name)
	if err != nil {
		glog.Errorf("Looking up owner of %s: %v", name, err)
		return result{reply: common.StoreFailed(name)}
	}
	if exists && owner != user {
		glog.Infof("User %s denied overwriting %s owned by %s", user, name, owner)
		return result{reply: common.ReplyOverwriteDenied}
	}

	glog.Infof("Receiving file %s from %s (%s)", name, user, c.remote)
	return result{
		reply: common.TokenReady,
		next:  &receivingFileSize{filename: name},
	}
}

func (s *Server) handleGet(c *Conn, user, name string) result {
	if !store.ValidName(name) {
		return result{reply: common.InvalidName(name)}
	}

	f, size, err := s.catalog.Open(name)
	if errors.Is(err, store.ErrNotFound) {
		return result{reply: common.NotFound(name)}
	}
	if err != nil {
		glog.Errorf("Opening %s for %s: %v", name, user, err)
		return result{reply: common.ReadFailed(name)}
	}

	glog.Infof("Sending file %s (%s) to %s (%s)", name, humanize.Bytes(uint64(size)), user, c.remote)
	return result{
		reply: common.ReadyGet(name, size),
		next:  &sendingFileSize{filename: name, size: size, file: f},
	}
}
