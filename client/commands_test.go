package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/server"
	"treedrive/store"
)

func init() {
	color.NoColor = true
}

func startFileServer(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	records, err := store.OpenSnapshot(filepath.Join(root, "file_metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	files, err := store.OpenDir(filepath.Join(root, "ServerFiles"))
	if err != nil {
		t.Fatal(err)
	}
	ln, err := server.Listen(context.Background(), "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv := server.New(ln, store.NewCatalog(records, files), server.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Addr().String()
}

func newState(t *testing.T, addr string) (*ClientState, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s := NewClientState(addr, 5*time.Second, &out)
	s.DownloadDir = t.TempDir()
	t.Cleanup(s.Close)
	return s, &out
}

func TestExecuteValidatesLocally(t *testing.T) {
	// Nothing listens here; validation failures must not dial.
	s, _ := newState(t, "127.0.0.1:1")
	tests := []struct {
		line string
		want string
	}{
		{"LIST", "You must login first with: LOGIN <username>"},
		{"FETCH x", "Unknown command: FETCH"},
		{"PUSH", "PUSH expects 1 argument(s): PUSH <filename>"},
		{"list everything", "LIST expects 0 argument(s): LIST"},
	}
	for _, tt := range tests {
		err := s.Execute(tt.line)
		if err == nil || err.Error() != tt.want {
			t.Errorf("Execute(%q) = %v, want %q", tt.line, err, tt.want)
		}
	}
	if err := s.Execute("   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
	if err := s.Execute("exit"); err != nil || !s.quit {
		t.Errorf("exit: %v, quit=%v", err, s.quit)
	}
}

func TestSession(t *testing.T) {
	addr := startFileServer(t)
	s, out := newState(t, addr)

	local := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(local, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	var loggedIn string
	s.OnLogin = func(user string) { loggedIn = user }
	for _, line := range []string{"LOGIN alice", "PUSH " + local, "LIST"} {
		if err := s.Execute(line); err != nil {
			t.Fatalf("Execute(%q): %v", line, err)
		}
	}
	if loggedIn != "alice" || s.UserID != "alice" {
		t.Errorf("login not recorded: callback %q, state %q", loggedIn, s.UserID)
	}
	text := out.String()
	for _, want := range []string{common.LoggedIn("alice"), common.Uploaded("notes.txt"), "NOTES.TXT", "alice", "1 file(s) on the server"} {
		if !strings.Contains(strings.ToUpper(text), strings.ToUpper(want)) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if len(s.remoteFiles) != 1 || s.remoteFiles[0] != "notes.txt" {
		t.Errorf("remoteFiles = %v", s.remoteFiles)
	}

	if err := s.Execute("GET notes.txt"); err != nil {
		t.Fatalf("GET: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.DownloadDir, "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("downloaded %q, %v", data, err)
	}

	if err := s.Execute("GET missing.txt"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GET missing = %v", err)
	}
	if s.conn == nil {
		t.Error("a refused command dropped the connection")
	}
	leftovers, _ := os.ReadDir(s.DownloadDir)
	if len(leftovers) != 1 {
		t.Errorf("download dir holds %d entries, want only notes.txt", len(leftovers))
	}

	if err := s.Execute("DELETE notes.txt"); err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if !strings.Contains(out.String(), common.Deleted("notes.txt")) {
		t.Errorf("output missing delete confirmation:\n%s", out.String())
	}
}

func TestPermissionDenied(t *testing.T) {
	addr := startFileServer(t)
	alice, _ := newState(t, addr)
	bob, _ := newState(t, addr)

	local := filepath.Join(t.TempDir(), "mine.txt")
	if err := os.WriteFile(local, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := alice.Execute("LOGIN alice"); err != nil {
		t.Fatal(err)
	}
	if err := alice.Execute("PUSH " + local); err != nil {
		t.Fatal(err)
	}
	if err := bob.Execute("LOGIN bob"); err != nil {
		t.Fatal(err)
	}
	if err := bob.Execute("DELETE mine.txt"); !errors.Is(err, common.ErrPermissionDenied) {
		t.Errorf("DELETE by bob = %v", err)
	}
	if err := bob.Execute("PUSH " + filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("PUSH of a missing local file succeeded")
	}
}

func TestOneShotRemembersLogin(t *testing.T) {
	addr := startFileServer(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	s, _ := newState(t, addr)
	if code := oneShot(s, sessionPath, []string{"login", "alice"}); code != 0 {
		t.Fatalf("login exit code %d", code)
	}
	session, err := LoadSession(sessionPath)
	if err != nil || session.Username != "alice" {
		t.Fatalf("session = %+v, %v", session, err)
	}

	s, out := newState(t, addr)
	if code := oneShot(s, sessionPath, []string{"list"}); code != 0 {
		t.Fatalf("list exit code %d: %s", code, out.String())
	}
	if s.UserID != "alice" {
		t.Errorf("UserID = %q", s.UserID)
	}

	s, _ = newState(t, addr)
	if code := oneShot(s, sessionPath, []string{"logout"}); code != 0 {
		t.Fatalf("logout exit code %d", code)
	}
	s, _ = newState(t, addr)
	if code := oneShot(s, sessionPath, []string{"list"}); code == 0 {
		t.Error("list succeeded after logout")
	}
}

func TestSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	if session, err := LoadSession(path); err != nil || session.Username != "" {
		t.Fatalf("missing session = %+v, %v", session, err)
	}
	if err := SaveSession(path, SessionData{Username: "carol"}); err != nil {
		t.Fatal(err)
	}
	if session, _ := LoadSession(path); session.Username != "carol" {
		t.Errorf("Username = %q", session.Username)
	}
	if err := ClearSession(path); err != nil {
		t.Fatal(err)
	}
	if err := ClearSession(path); err != nil {
		t.Errorf("second ClearSession: %v", err)
	}
}

func TestComplete(t *testing.T) {
	s := NewClientState("", 0, &bytes.Buffer{})
	s.remoteFiles = []string{"notes.txt", "photo.png"}

	complete := func(text string) []string {
		buf := prompt.NewBuffer()
		buf.InsertText(text, false, true)
		var got []string
		for _, sg := range s.Complete(*buf.Document()) {
			got = append(got, sg.Text)
		}
		return got
	}

	if got := complete("de"); len(got) != 1 || got[0] != common.CmdDelete {
		t.Errorf("complete(de) = %v", got)
	}
	if got := complete("GET no"); len(got) != 1 || got[0] != "notes.txt" {
		t.Errorf("complete(GET no) = %v", got)
	}
	if got := complete("LIST "); len(got) != 0 {
		t.Errorf("complete(LIST ) = %v", got)
	}
}
