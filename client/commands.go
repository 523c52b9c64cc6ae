package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/store"
)

const (
	cmdHelp = "HELP"
	cmdExit = "EXIT"
	cmdQuit = "QUIT"
)

// Execute runs one command line. Commands are validated locally before
// anything is sent, so malformed input never reaches the server.
func (s *ClientState) Execute(line string) error {
	msg := common.ParseCommand(line)
	switch msg.Cmd {
	case "":
		return nil
	case cmdExit, cmdQuit:
		s.quit = true
		return nil
	case cmdHelp:
		return s.printHelp()
	}

	if _, ok := common.Commands[msg.Cmd]; !ok {
		return errors.Errorf("Unknown command: %s", msg.Cmd)
	}
	if usage := common.CheckArity(msg); usage != "" {
		return errors.New(strings.TrimPrefix(usage, "Error: "))
	}
	if msg.Cmd != common.CmdLogin && s.UserID == "" {
		return errors.New(strings.TrimPrefix(common.LoginRequired(), "Error: "))
	}

	var err error
	switch msg.Cmd {
	case common.CmdLogin:
		err = s.login(msg.Arg)
	case common.CmdList:
		err = s.list()
	case common.CmdPush:
		err = s.push(msg.Arg)
	case common.CmdGet:
		err = s.get(msg.Arg)
	case common.CmdDelete:
		err = s.delete(msg.Arg)
	}

	var reply *common.ReplyError
	if err != nil && !errors.As(err, &reply) {
		glog.V(1).Infof("%s failed, dropping connection: %v", msg.Cmd, err)
		s.drop()
	}
	return err
}

func (s *ClientState) login(user string) error {
	c, err := s.connection()
	if err != nil {
		return err
	}
	reply, err := c.Login(user)
	if err != nil {
		return err
	}
	if reply != common.ReplyAlreadyLoggedIn {
		s.UserID = user
		if s.OnLogin != nil {
			s.OnLogin(user)
		}
	}
	s.success(reply)
	return nil
}

func (s *ClientState) list() error {
	c, err := s.connection()
	if err != nil {
		return err
	}
	entries, err := c.List()
	if err != nil {
		return err
	}

	s.remoteFiles = s.remoteFiles[:0]
	for _, e := range entries {
		s.remoteFiles = append(s.remoteFiles, e.Name)
	}
	if len(entries) == 0 {
		s.info(common.ReplyNoFiles)
		return nil
	}
	return renderEntries(s.out, entries)
}

func (s *ClientState) push(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("File '%s' does not exist.", path)
		}
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return errors.Errorf("'%s' is not a regular file.", path)
	}

	c, err := s.connection()
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	s.info("Uploading file: " + name + " (" + humanize.Bytes(uint64(st.Size())) + ")")
	reply, err := c.Push(name, st.Size(), f)
	if err != nil {
		return err
	}
	s.success(reply)
	return nil
}

// get downloads into a temporary file first so a failed transfer never
// leaves a truncated file under the real name.
func (s *ClientState) get(name string) error {
	c, err := s.connection()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.DownloadDir, ".treedrive-*")
	if err != nil {
		return errors.Wrap(err, "creating download file")
	}
	defer os.Remove(tmp.Name())

	announced, size, err := c.Get(name, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "writing download")
	}
	if err != nil {
		return err
	}
	if !store.ValidName(announced) {
		return errors.Errorf("server announced an unusable filename %q", announced)
	}

	dest := filepath.Join(s.DownloadDir, announced)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrap(err, "saving download")
	}
	s.success("File " + announced + " downloaded (" + humanize.Bytes(uint64(size)) + ").")
	return nil
}

func (s *ClientState) delete(name string) error {
	c, err := s.connection()
	if err != nil {
		return err
	}
	reply, err := c.Delete(name)
	if err != nil {
		return err
	}
	s.success(reply)
	return nil
}
