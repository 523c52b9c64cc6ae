//go:build !unix

package server

import "syscall"

func reuseAddr(network, address string, rc syscall.RawConn) error {
	return nil
}
