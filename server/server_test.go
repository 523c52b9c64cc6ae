package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/store"
)

const testTimeout = 10 * time.Second

func startServer(t *testing.T, opts Options) (string, *store.Catalog) {
	t.Helper()
	catalog := newCatalog(t)
	ln, err := Listen(context.Background(), "127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := New(ln, catalog, opts)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return s.Addr().String(), catalog
}

func dialAs(t *testing.T, addr, user string) *common.Client {
	t.Helper()
	c, err := common.Dial(addr, testTimeout)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if c.Welcome != common.Welcome() {
		t.Errorf("welcome = %q", c.Welcome)
	}
	if _, err := c.Login(user); err != nil {
		t.Fatalf("Login(%s): %v", user, err)
	}
	return c
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestSharingScenario(t *testing.T) {
	addr, _ := startServer(t, Options{})
	alice := dialAs(t, addr, "alice")
	bob := dialAs(t, addr, "bob")

	if reply, err := alice.Push("notes.txt", 5, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Push: %v (%q)", err, reply)
	}

	entries, err := bob.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "notes.txt" || entries[0].Size != 5 || entries[0].Owner != "alice" {
		t.Fatalf("entries = %+v", entries)
	}

	if _, err := bob.Delete("notes.txt"); !errors.Is(err, common.ErrPermissionDenied) {
		t.Errorf("bob Delete = %v, want permission denied", err)
	}
	if _, _, err := bob.Get("missing.txt", io.Discard); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Get missing = %v, want not found", err)
	}

	var got bytes.Buffer
	name, size, err := bob.Get("notes.txt", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if name != "notes.txt" || size != 5 || got.String() != "hello" {
		t.Errorf("Get = %q, %d, %q", name, size, got.String())
	}

	if _, err := alice.Delete("notes.txt"); err != nil {
		t.Errorf("alice Delete: %v", err)
	}
	if entries, err := bob.List(); err != nil || len(entries) != 0 {
		t.Errorf("List after delete = %+v, %v", entries, err)
	}
}

func TestLargeRoundTrip(t *testing.T) {
	addr, catalog := startServer(t, Options{ReadChunkSize: 1024, SendChunkSize: 1024})
	c := dialAs(t, addr, "alice")

	data := randomBytes(300*1024+17, 1)
	if _, err := c.Push("blob.bin", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	var got bytes.Buffer
	if _, _, err := c.Get("blob.bin", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("downloaded %d bytes differ from the %d uploaded", got.Len(), len(data))
	}

	// The connection is usable after the download.
	entries, err := c.List()
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %+v, %v", entries, err)
	}
	rec, ok, err := catalog.Lookup("blob.bin")
	if err != nil || !ok || rec.Checksum != store.Checksum(data) {
		t.Errorf("record = %+v, %v, %v", rec, ok, err)
	}
}

func TestConcurrentDownloadsInterleave(t *testing.T) {
	addr, _ := startServer(t, Options{SendChunkSize: 512})
	uploader := dialAs(t, addr, "alice")
	files := map[string][]byte{
		"one.bin": randomBytes(64*1024, 2),
		"two.bin": randomBytes(96*1024, 3),
	}
	for name, data := range files {
		if _, err := uploader.Push(name, int64(len(data)), bytes.NewReader(data)); err != nil {
			t.Fatalf("Push %s: %v", name, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for name, data := range files {
		c := dialAs(t, addr, "bob")
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got bytes.Buffer
			if _, _, err := c.Get(name, &got); err != nil {
				errs <- errors.Wrap(err, name)
				return
			}
			if !bytes.Equal(got.Bytes(), data) {
				errs <- errors.Errorf("%s: content mismatch", name)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// A client stalled in the middle of an upload does not hold up others.
func TestInterleavedConnections(t *testing.T) {
	addr, _ := startServer(t, Options{})

	raw, err := net.DialTimeout("tcp", addr, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	raw.SetDeadline(time.Now().Add(testTimeout))
	r := bufio.NewReader(raw)
	expect := func(want string) {
		t.Helper()
		got, err := common.Recv(r)
		if err != nil || got != want {
			t.Fatalf("recv = %q, %v; want %q", got, err, want)
		}
	}
	expect(common.Welcome())
	io.WriteString(raw, "LOGIN carol\nPUSH slow.txt\n6\nabc")
	expect(common.LoggedIn("carol"))
	expect(common.TokenReady)
	expect(common.TokenOK)

	bob := dialAs(t, addr, "bob")
	if _, err := bob.Push("fast.txt", 2, bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("Push while another upload is pending: %v", err)
	}

	io.WriteString(raw, "def")
	expect(common.Uploaded("slow.txt"))

	entries, err := bob.List()
	if err != nil || len(entries) != 2 {
		t.Fatalf("List = %+v, %v", entries, err)
	}
}

func TestDisconnectMidUploadLeavesNothing(t *testing.T) {
	addr, catalog := startServer(t, Options{})

	raw, err := net.DialTimeout("tcp", addr, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	raw.SetDeadline(time.Now().Add(testTimeout))
	r := bufio.NewReader(raw)
	io.WriteString(raw, "LOGIN carol\nPUSH partial.bin\n100\n")
	for range 4 {
		if _, err := common.Recv(r); err != nil {
			t.Fatal(err)
		}
	}
	io.WriteString(raw, "only ten b")
	raw.Close()

	bob := dialAs(t, addr, "bob")
	if entries, err := bob.List(); err != nil || len(entries) != 0 {
		t.Errorf("List = %+v, %v", entries, err)
	}
	if names, err := catalog.Files.Names(); err != nil || len(names) != 0 {
		t.Errorf("stored files = %v, %v", names, err)
	}
}

// stallDownload uploads a file far larger than the socket buffers and has
// a raw client request it without ever reading the body.
func stallDownload(t *testing.T, addr string) net.Conn {
	t.Helper()
	data := randomBytes(16<<20, 4)
	uploader := dialAs(t, addr, "alice")
	if _, err := uploader.Push("huge.bin", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	raw, err := net.DialTimeout("tcp", addr, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	if _, err := io.WriteString(raw, "LOGIN mallory\nGET huge.bin\nOK\n"); err != nil {
		t.Fatal(err)
	}
	// Give the server time to fill the socket buffers.
	time.Sleep(300 * time.Millisecond)
	return raw
}

func TestStalledDownloaderDoesNotBlockOthers(t *testing.T) {
	addr, _ := startServer(t, Options{SendChunkSize: 64 * 1024, WriteTimeout: 5 * time.Second})
	stallDownload(t, addr)

	start := time.Now()
	bob := dialAs(t, addr, "bob")
	entries, err := bob.List()
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %+v, %v", entries, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("LOGIN and LIST took %v behind a stalled download", elapsed)
	}
}

func TestStalledDownloaderIsDisconnected(t *testing.T) {
	addr, _ := startServer(t, Options{SendChunkSize: 64 * 1024, WriteTimeout: 200 * time.Millisecond})
	raw := stallDownload(t, addr)
	time.Sleep(time.Second)

	raw.SetReadDeadline(time.Now().Add(testTimeout))
	n, err := io.Copy(io.Discard, raw)
	if err != nil && !common.IsExpectedCloseError(err) {
		t.Fatalf("reading the stalled connection: %v", err)
	}
	if n >= 16<<20 {
		t.Errorf("stalled client received the whole file (%d bytes)", n)
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	s := New(ln, newCatalog(t), Options{PollTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()

	c, err := common.Dial(ln.Addr().String(), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := c.List(); err == nil {
		t.Error("connection still served after shutdown")
	}
}

func TestServeFailsWhenListenerDies(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	s := New(ln, newCatalog(t), Options{})
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()

	ln.Close()
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Serve returned nil after its listener failed")
		}
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return after the listener closed")
	}
}

func TestListenLimitsConnections(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", 1)
	if err != nil {
		t.Fatal(err)
	}
	s := New(ln, newCatalog(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	first := dialAs(t, ln.Addr().String(), "alice")
	// The second client connects at TCP level but is not served until the
	// first leaves.
	conn, err := net.DialTimeout("tcp", ln.Addr().String(), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("second connection was greeted while the limit was reached")
	}

	first.Close()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	welcome, err := common.Recv(bufio.NewReader(conn))
	if err != nil || welcome != common.Welcome() {
		t.Errorf("welcome = %q, %v", welcome, err)
	}
}
