package common

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// SplitLine takes one newline-terminated line off the front of buf. The
// returned line has surrounding whitespace (including a trailing \r)
// removed. ok is false when buf holds no complete line yet.
func SplitLine(buf []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return "", buf, false
	}
	return strings.TrimSpace(string(buf[:i])), buf[i+1:], true
}

// Send writes line followed by the protocol terminator.
func Send(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

// Recv reads one control line.
func Recv(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, use of a closed connection, broken pipe or reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
