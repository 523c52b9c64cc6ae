package server

import (
	"github.com/golang/glog"

	"treedrive/common"
)

// result is what a command asks of its connection: a reply, and a state
// to move to when next is non-nil.
type result struct {
	reply string
	next  state
}

// dispatch handles one command line from a logged-in connection.
func (s *Server) dispatch(c *Conn, user string, msg common.Message) result {
	recordCommand(msg.Cmd)
	glog.V(1).Infof("%s (%s): %s %q", c.remote, user, msg.Cmd, msg.Arg)

	if msg.Cmd == common.CmdLogin {
		return result{reply: common.ReplyAlreadyLoggedIn}
	}
	if usage := common.CheckArity(msg); usage != "" {
		return result{reply: usage}
	}

	switch msg.Cmd {
	case common.CmdList:
		return s.handleList(c)
	case common.CmdDelete:
		return s.handleDelete(c, user, msg.Arg)
	case common.CmdPush:
		return s.handlePush(c, user, msg.Arg)
	case common.CmdGet:
		return s.handleGet(c, user, msg.Arg)
	default:
		return result{reply: common.ReplyUnknownCommand}
	}
}
