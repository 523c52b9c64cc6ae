package main

import (
	"io"
	"time"

	"treedrive/common"
)

// ClientState is one client's view of its file server: where it is, who
// we are logged in as and the connection in use.
type ClientState struct {
	Server      string
	Timeout     time.Duration
	UserID      string
	DownloadDir string

	// OnLogin runs after the server accepts a LOGIN.
	OnLogin func(user string)

	out         io.Writer
	conn        *common.Client
	remoteFiles []string
	quit        bool
}

func NewClientState(server string, timeout time.Duration, out io.Writer) *ClientState {
	return &ClientState{Server: server, Timeout: timeout, DownloadDir: ".", out: out}
}

// connection returns the open connection, dialing and logging in again as
// UserID when there is none.
func (s *ClientState) connection() (*common.Client, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := common.Dial(s.Server, s.Timeout)
	if err != nil {
		return nil, err
	}
	if s.UserID != "" {
		if _, err := c.Login(s.UserID); err != nil {
			c.Close()
			return nil, err
		}
	}
	s.conn = c
	return c, nil
}

// drop forgets a connection that failed mid-exchange.
func (s *ClientState) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *ClientState) Close() {
	s.drop()
}
