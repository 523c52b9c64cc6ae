package common

import (
	"bufio"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/pkg/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{"LOGIN alice", Message{CmdLogin, "alice"}},
		{"  push  my file.txt \r", Message{CmdPush, "my file.txt"}},
		{"list", Message{CmdList, ""}},
		{"GET\tnotes.txt", Message{"GET\tNOTES.TXT", ""}},
		{"", Message{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.line); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestCheckArity(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"LOGIN alice", ""},
		{"LOGIN", "Error: LOGIN expects 1 argument(s): LOGIN <username>"},
		{"LIST", ""},
		{"LIST now", "Error: LIST expects 0 argument(s): LIST"},
		{"GET", "Error: GET expects 1 argument(s): GET <filename>"},
		{"DELETE a b", ""},
		{"FROB", ""},
	}
	for _, tt := range tests {
		if got := CheckArity(ParseCommand(tt.line)); got != tt.want {
			t.Errorf("CheckArity(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		reply string
		want  error
	}{
		{ReplyDeleteDenied, ErrPermissionDenied},
		{ReplyOverwriteDenied, ErrPermissionDenied},
		{NotFound("a.txt"), ErrNotFound},
		{ReplyInvalidSize, ErrRejected},
		{TooLarge(10), ErrTooLarge},
		{InvalidName("../x"), ErrRejected},
		{Deleted("a.txt"), nil},
		{ReplyNoFiles, nil},
	}
	for _, tt := range tests {
		err := Classify(tt.reply)
		if tt.want == nil {
			if err != nil {
				t.Errorf("Classify(%q) = %v, want nil", tt.reply, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("Classify(%q) = %v, want %v", tt.reply, err, tt.want)
		}
		if err.Error() != tt.reply {
			t.Errorf("Classify(%q).Error() = %q", tt.reply, err.Error())
		}
	}
}

func TestParseEntry(t *testing.T) {
	line := ListEntry("my - file.txt", 42, "bob", "Tue Mar 05 09:04:01 2024")
	e, err := ParseEntry(line)
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "my - file.txt" || e.Size != 42 || e.Owner != "bob" || e.Uploaded != "Tue Mar 05 09:04:01 2024" {
		t.Errorf("ParseEntry = %+v", e)
	}
	if _, err := ParseEntry("a.txt - lots of bytes"); err == nil {
		t.Error("malformed entry parsed")
	}
}

func TestParseReady(t *testing.T) {
	name, size, ok := parseReady(ReadyGet("with space.bin", 1234))
	if !ok || name != "with space.bin" || size != 1234 {
		t.Errorf("parseReady = %q, %d, %v", name, size, ok)
	}
	for _, reply := range []string{"READY", "READY x", "READY x -1", "READY x big", NotFound("x")} {
		if _, _, ok := parseReady(reply); ok {
			t.Errorf("parseReady(%q) accepted", reply)
		}
	}
}

func TestSplitLine(t *testing.T) {
	line, rest, ok := SplitLine([]byte("LIST\r\nGET a"))
	if !ok || line != "LIST" || string(rest) != "GET a" {
		t.Errorf("SplitLine = %q, %q, %v", line, rest, ok)
	}
	if _, rest, ok := SplitLine(rest); ok || string(rest) != "GET a" {
		t.Errorf("incomplete line split: %q, %v", rest, ok)
	}
}

func TestRecv(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("OK \r\npartial"))
	if line, err := Recv(r); err != nil || line != "OK" {
		t.Errorf("Recv = %q, %v", line, err)
	}
	if _, err := Recv(r); err != io.ErrUnexpectedEOF {
		t.Errorf("Recv on partial line = %v", err)
	}
	if _, err := Recv(r); err != io.EOF {
		t.Errorf("Recv at end = %v", err)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	expected := []error{
		io.EOF,
		net.ErrClosed,
		errors.Wrap(syscall.EPIPE, "write"),
		&net.OpError{Op: "read", Err: syscall.ECONNRESET},
	}
	for _, err := range expected {
		if !IsExpectedCloseError(err) {
			t.Errorf("IsExpectedCloseError(%v) = false", err)
		}
	}
	for _, err := range []error{nil, syscall.ENOSPC, errors.New("boom")} {
		if IsExpectedCloseError(err) {
			t.Errorf("IsExpectedCloseError(%v) = true", err)
		}
	}
}
