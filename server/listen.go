package server

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

// Listen opens the TCP listener for addr. A positive maxConns caps the
// number of simultaneously accepted connections; further clients wait in
// the backlog until one closes.
func Listen(ctx context.Context, addr string, maxConns int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}
