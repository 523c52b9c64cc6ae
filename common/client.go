package common

import (
	"bufio"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client speaks the file server protocol over one connection. It is not
// safe for concurrent use.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration

	// Welcome is the greeting the server sent on connect.
	Welcome string
}

// Entry is one line of a LIST reply.
type Entry struct {
	Name     string
	Size     int64
	Owner    string
	Uploaded string
	Line     string
}

var entryPattern = regexp.MustCompile(`^(.+) - (\d+) bytes - Uploaded by (.*) on (\w{3} \w{3} \d{2} \d{2}:\d{2}:\d{2} \d{4})$`)

// ParseEntry parses a LIST entry line.
func ParseEntry(line string) (Entry, error) {
	m := entryPattern.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, errors.Errorf("malformed list entry %q", line)
	}
	size, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "list entry size %q", m[2])
	}
	return Entry{Name: m[1], Size: size, Owner: m[3], Uploaded: m[4], Line: line}, nil
}

// Dial connects to the file server at addr and reads the welcome line.
// timeout bounds the dial and every subsequent protocol step; zero means
// no deadline.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	c := NewClient(conn, timeout)
	c.extend()
	welcome, err := Recv(c.r)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "reading welcome")
	}
	c.Welcome = welcome
	return c, nil
}

// NewClient wraps an established connection whose welcome line has
// already been consumed (or will be read by the caller).
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) extend() {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *Client) send(line string) error {
	c.extend()
	return errors.Wrap(Send(c.conn, line), "sending")
}

func (c *Client) recv() (string, error) {
	c.extend()
	line, err := Recv(c.r)
	return line, errors.Wrap(err, "receiving")
}

func (c *Client) roundTrip(line string) (string, error) {
	if err := c.send(line); err != nil {
		return "", err
	}
	return c.recv()
}

// Login asserts the identity user on this connection.
func (c *Client) Login(user string) (string, error) {
	reply, err := c.roundTrip(CmdLogin + " " + user)
	if err != nil {
		return "", err
	}
	if err := Classify(reply); err != nil {
		return reply, err
	}
	if !strings.HasPrefix(reply, "Logged in as ") && reply != ReplyAlreadyLoggedIn {
		return reply, &ReplyError{Kind: ErrRejected, Reply: reply}
	}
	return reply, nil
}

// List returns the visible files on the server.
func (c *Client) List() ([]Entry, error) {
	first, err := c.roundTrip(CmdList)
	if err != nil {
		return nil, err
	}
	if first == ReplyNoFiles {
		return nil, nil
	}
	count, ok := strings.CutSuffix(first, " file(s) on the server:")
	n, convErr := strconv.Atoi(count)
	if !ok || convErr != nil {
		if err := Classify(first); err != nil {
			return nil, err
		}
		return nil, errors.Errorf("unexpected list header %q", first)
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		line, err := c.recv()
		if err != nil {
			return nil, err
		}
		entry, err := ParseEntry(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes name from the server.
func (c *Client) Delete(name string) (string, error) {
	reply, err := c.roundTrip(CmdDelete + " " + name)
	if err != nil {
		return "", err
	}
	return reply, Classify(reply)
}

// Push uploads exactly size bytes read from body under name.
func (c *Client) Push(name string, size int64, body io.Reader) (string, error) {
	reply, err := c.roundTrip(CmdPush + " " + name)
	if err != nil {
		return "", err
	}
	if reply != TokenReady {
		return reply, classifyOrReject(reply)
	}
	reply, err = c.roundTrip(strconv.FormatInt(size, 10))
	if err != nil {
		return "", err
	}
	if reply != TokenOK {
		return reply, classifyOrReject(reply)
	}
	if _, err := io.CopyN(deadlineWriter{c}, body, size); err != nil {
		return "", errors.Wrapf(err, "uploading %s", name)
	}
	reply, err = c.recv()
	if err != nil {
		return "", err
	}
	return reply, Classify(reply)
}

// Get downloads name into w, performing the acknowledgement handshake the
// server expects. It returns the name and size the server announced.
func (c *Client) Get(name string, w io.Writer) (string, int64, error) {
	reply, err := c.roundTrip(CmdGet + " " + name)
	if err != nil {
		return "", 0, err
	}
	announced, size, ok := parseReady(reply)
	if !ok {
		return "", 0, classifyOrReject(reply)
	}
	reply, err = c.roundTrip(TokenOK)
	if err != nil {
		return "", 0, err
	}
	if reply != TokenServerOK {
		return "", 0, classifyOrReject(reply)
	}
	if err := c.send(TokenOK); err != nil {
		return "", 0, err
	}
	buf := make([]byte, 32*1024)
	var received int64
	for received < size {
		want := int64(len(buf))
		if left := size - received; left < want {
			want = left
		}
		c.extend()
		n, err := c.r.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return "", 0, errors.Wrapf(werr, "writing %s", announced)
			}
			received += int64(n)
			if err := c.send(TokenContinue); err != nil {
				return "", 0, err
			}
		}
		if err != nil && received < size {
			return "", 0, errors.Wrapf(err, "downloading %s after %d of %d bytes", announced, received, size)
		}
	}
	if err := c.send(TokenDone); err != nil {
		return "", 0, err
	}
	return announced, size, nil
}

func parseReady(reply string) (string, int64, bool) {
	rest, ok := strings.CutPrefix(reply, TokenReady+" ")
	if !ok {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, ' ')
	if i <= 0 {
		return "", 0, false
	}
	size, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || size < 0 {
		return "", 0, false
	}
	return rest[:i], size, true
}

func classifyOrReject(reply string) error {
	if err := Classify(reply); err != nil {
		return err
	}
	return &ReplyError{Kind: ErrRejected, Reply: reply}
}

type deadlineWriter struct{ c *Client }

func (d deadlineWriter) Write(p []byte) (int, error) {
	d.c.extend()
	return d.c.conn.Write(p)
}
