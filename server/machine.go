package server

import (
	"bytes"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"treedrive/common"
)

// Largest buffer reserved up front for an upload; bigger uploads grow it as
// bytes arrive.
const maxPrealloc = 1 << 20

type lineStatus int

const (
	lineIncomplete lineStatus = iota
	lineReady
	lineDiscarded
)

// takeLine removes the next complete line from c's input.
func (s *Server) takeLine(c *Conn) (string, lineStatus, error) {
	if c.discarding {
		i := bytes.IndexByte(c.in, '\n')
		if i < 0 {
			c.in = c.in[:0]
			return "", lineIncomplete, nil
		}
		c.in = c.in[i+1:]
		c.discarding = false
	}

	line, rest, ok := common.SplitLine(c.in)
	if ok {
		c.in = rest
		return line, lineReady, nil
	}
	if len(c.in) > s.opts.MaxLineLength {
		glog.Warningf("Discarding %d byte line from %s", len(c.in), c.remote)
		c.in = c.in[:0]
		c.discarding = true
		return "", lineDiscarded, s.reply(c, common.ReplyLineTooLong)
	}
	return "", lineIncomplete, nil
}

// advance makes at most one protocol step for c. It reports whether
// anything changed; false means the buffered input holds no complete unit
// for the current state. An error means the connection must be torn down.
func (s *Server) advance(c *Conn) (bool, error) {
	switch st := c.state.(type) {
	case *loggedOut:
		return s.advanceLoggedOut(c)
	case *waiting:
		return s.advanceWaiting(c, st)
	case *receivingFileSize:
		return s.advanceFileSize(c, st)
	case *receivingFile:
		return s.advanceReceiving(c, st)
	case *sendingFileSize:
		return s.advanceHandshake(c, st)
	case *sendingFile:
		return s.advanceSending(c, st)
	}
	return false, errors.Errorf("connection %d in unknown state %v", c.id, c.state)
}

func (s *Server) advanceLoggedOut(c *Conn) (bool, error) {
	line, status, err := s.takeLine(c)
	if status != lineReady {
		return status == lineDiscarded, err
	}

	msg := common.ParseCommand(line)
	if msg.Cmd != common.CmdLogin || msg.Arg == "" {
		return true, s.reply(c, common.LoginRequired())
	}

	s.conns.login(c.id, msg.Arg)
	c.state = &waiting{}
	recordCommand(msg.Cmd)
	glog.Infof("User %s logged in from %s", msg.Arg, c.remote)
	return true, s.reply(c, common.LoggedIn(msg.Arg))
}

func (s *Server) advanceWaiting(c *Conn, st *waiting) (bool, error) {
	line, status, err := s.takeLine(c)
	if status != lineReady {
		return status == lineDiscarded, err
	}

	if st.draining {
		if common.IsAck(line) {
			if line == common.TokenDone {
				st.draining = false
			}
			return true, nil
		}
		st.draining = false
	}

	user, _ := s.conns.user(c.id)
	res := s.dispatch(c, user, common.ParseCommand(line))
	if res.next != nil {
		c.state = res.next
	}
	return true, s.reply(c, res.reply)
}

func (s *Server) advanceFileSize(c *Conn, st *receivingFileSize) (bool, error) {
	line, status, err := s.takeLine(c)
	if status != lineReady {
		return status == lineDiscarded, err
	}

	size, perr := strconv.ParseInt(line, 10, 64)
	if perr != nil || size < 0 {
		c.state = &waiting{}
		return true, s.reply(c, common.ReplyInvalidSize)
	}
	if size > s.opts.MaxUploadSize {
		glog.Infof("Refusing %s upload of %s from %s", humanize.Bytes(uint64(size)), st.filename, c.remote)
		c.state = &waiting{}
		return true, s.reply(c, common.TooLarge(s.opts.MaxUploadSize))
	}

	c.state = &receivingFile{
		filename: st.filename,
		declared: size,
		data:     make([]byte, 0, min(size, maxPrealloc)),
	}
	return true, s.reply(c, common.TokenOK)
}

// advanceReceiving accumulates exactly the declared number of bytes. Any
// input beyond that stays buffered as the next protocol unit.
func (s *Server) advanceReceiving(c *Conn, st *receivingFile) (bool, error) {
	need := st.declared - int64(len(st.data))
	take := min(need, int64(len(c.in)))
	st.data = append(st.data, c.in[:take]...)
	c.in = c.in[take:]

	if int64(len(st.data)) < st.declared {
		return take > 0, nil
	}

	user, _ := s.conns.user(c.id)
	c.state = &waiting{}
	rec, err := s.catalog.Commit(st.filename, user, st.data)
	if err != nil {
		glog.Errorf("Storing %s from %s: %v", st.filename, user, err)
		return true, s.reply(c, common.StoreFailed(st.filename))
	}
	recordUpload(rec.FileSize)
	glog.Infof("File saved: %s (%s) from %s", st.filename, humanize.Bytes(uint64(rec.FileSize)), user)
	return true, s.reply(c, common.Uploaded(st.filename))
}

func (s *Server) advanceHandshake(c *Conn, st *sendingFileSize) (bool, error) {
	line, status, err := s.takeLine(c)
	if status != lineReady {
		return status == lineDiscarded, err
	}

	if line != common.TokenOK {
		st.file.Close()
		c.state = &waiting{}
		return true, s.reply(c, common.ReplyExpectedOK)
	}
	c.state = &sendingFile{filename: st.filename, size: st.size, file: st.file}
	return true, s.reply(c, common.TokenServerOK)
}

// advanceSending queues the next chunk of the file. It never consumes
// input; see skipAcks.
func (s *Server) advanceSending(c *Conn, st *sendingFile) (bool, error) {
	want := min(int64(s.opts.SendChunkSize), st.size-st.sent)
	var chunk []byte
	if want > 0 {
		chunk = make([]byte, want)
		n, err := st.file.ReadAt(chunk, st.sent)
		if err != nil && err != io.EOF {
			return false, errors.Wrapf(err, "reading %s", st.filename)
		}
		chunk = chunk[:n]
	}

	if len(chunk) == 0 {
		st.file.Close()
		c.state = &waiting{draining: true}
		glog.Infof("File sent: %s (%s) to %s", st.filename, humanize.Bytes(uint64(st.sent)), c.remote)
		return true, nil
	}

	if err := c.write(chunk); err != nil {
		return false, errors.Wrapf(err, "sending %s", st.filename)
	}
	st.sent += int64(len(chunk))
	recordDownload(int64(len(chunk)))
	glog.V(2).Infof("Queued %d/%d bytes of %s for %s", st.sent, st.size, st.filename, c.remote)
	return true, nil
}

// skipAcks drops complete acknowledgement lines from the front of c's
// input while a file streams, so a well-behaved downloader never piles up
// buffered input. Anything else stays for WAITING to handle.
func skipAcks(c *Conn) {
	for !c.discarding {
		line, rest, ok := common.SplitLine(c.in)
		if !ok || !common.IsAck(line) {
			return
		}
		c.in = rest
	}
}

// drive advances c until it stalls on missing input, starts streaming a
// file or runs out of outbound queue room. Streaming continues from the
// loop one chunk per cycle; a blocked connection resumes once its writer
// catches up.
func (s *Server) drive(c *Conn) {
	c.blocked = false
	for !c.closed {
		if !c.writable() {
			c.blocked = true
			return
		}
		progressed, err := s.advance(c)
		if err != nil {
			s.teardown(c, err)
			return
		}
		if !progressed {
			return
		}
		if _, sending := c.state.(*sendingFile); sending {
			return
		}
	}
}

func (s *Server) reply(c *Conn, text string) error {
	if err := c.write([]byte(text + "\n")); err != nil {
		return errors.Wrap(err, "writing reply")
	}
	return nil
}
