package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/store"
)

const maxUsernameLength = 256

type userKey struct{}

// gateway translates HTTP requests into file server protocol exchanges.
// Each request gets its own connection, logged in as the cookie's user.
type gateway struct {
	fileServer string
	timeout    time.Duration
	cookieName string
}

func (g *gateway) routes(compress bool) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/login", g.login).Methods(http.MethodPost)
	r.HandleFunc("/api/login", g.whoami).Methods(http.MethodGet)
	r.HandleFunc("/api/login", g.logout).Methods(http.MethodDelete)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(g.requireUser)
	api.HandleFunc("/list", g.list).Methods(http.MethodGet)
	api.HandleFunc("/get", g.get).Methods(http.MethodGet)
	api.HandleFunc("/push", g.push).Methods(http.MethodPost)
	api.HandleFunc("/delete", g.delete).Methods(http.MethodDelete)

	if !compress {
		return r
	}
	return gzhttp.GzipHandler(r)
}

func (g *gateway) cookieUser(r *http.Request) (string, bool) {
	ck, err := r.Cookie(g.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(ck.Value) == "" {
		return "", false
	}
	return ck.Value, true
}

// cookieSafe reports whether user survives a round trip through a cookie
// value unchanged. net/http quotes values with spaces or commas and drops
// the bytes checked here.
func cookieSafe(user string) bool {
	for i := 0; i < len(user); i++ {
		b := user[i]
		if b < 0x20 || b >= 0x7f || b == '"' || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}

func (g *gateway) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := g.cookieUser(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey{}).(string)
	return user
}

func (g *gateway) dial(user string) (*common.Client, error) {
	c, err := common.Dial(g.fileServer, g.timeout)
	if err != nil {
		return nil, err
	}
	if _, err := c.Login(user); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// fail writes the HTTP status matching err.
func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	var reply *common.ReplyError
	switch {
	case errors.Is(err, common.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, common.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, common.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.As(err, &reply):
		http.Error(w, reply.Reply, http.StatusBadRequest)
	default:
		glog.Errorf("%s %s for %s: %v", r.Method, r.URL.Path, userFrom(r), err)
		http.Error(w, "File server error", http.StatusBadGateway)
	}
}

func fileParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("file")
	if name == "" {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return "", false
	}
	if !store.ValidName(name) {
		http.Error(w, common.InvalidName(name), http.StatusBadRequest)
		return "", false
	}
	return name, true
}

func (g *gateway) login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUsernameLength+1))
	if err != nil {
		http.Error(w, "Could not read request body", http.StatusBadRequest)
		return
	}
	user := strings.TrimSpace(string(body))
	if user == "" || len(user) > maxUsernameLength {
		http.Error(w, "A username is required", http.StatusBadRequest)
		return
	}
	if !cookieSafe(user) {
		http.Error(w, "Usernames are limited to printable ASCII without quotes, semicolons or backslashes", http.StatusBadRequest)
		return
	}

	c, err := g.dial(user)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	c.Close()

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    user,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	glog.Infof("Gateway login for %s from %s", user, r.RemoteAddr)
	fmt.Fprintf(w, "Logged in as %s\n", user)
}

func (g *gateway) whoami(w http.ResponseWriter, r *http.Request) {
	user, ok := g.cookieUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	fmt.Fprintln(w, user)
}

func (g *gateway) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	fmt.Fprintln(w, "Logged out")
}

func (g *gateway) list(w http.ResponseWriter, r *http.Request) {
	c, err := g.dial(userFrom(r))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	defer c.Close()

	entries, err := c.List()
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(entries) == 0 {
		fmt.Fprintln(w, common.ReplyNoFiles)
		return
	}
	fmt.Fprintln(w, common.ListHeader(len(entries)))
	for _, e := range entries {
		fmt.Fprintln(w, e.Line)
	}
}

func (g *gateway) get(w http.ResponseWriter, r *http.Request) {
	name, ok := fileParam(w, r)
	if !ok {
		return
	}
	c, err := g.dial(userFrom(r))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	defer c.Close()

	var body bytes.Buffer
	announced, size, err := c.Get(name, &body)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body.Bytes()))
	h := w.Header()
	h.Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": announced}))
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	w.Write(body.Bytes())
}

func (g *gateway) push(w http.ResponseWriter, r *http.Request) {
	name, ok := fileParam(w, r)
	if !ok {
		return
	}
	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusLengthRequired)
		return
	}
	c, err := g.dial(userFrom(r))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	defer c.Close()

	reply, err := c.Push(name, r.ContentLength, r.Body)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	fmt.Fprintln(w, reply)
}

func (g *gateway) delete(w http.ResponseWriter, r *http.Request) {
	name, ok := fileParam(w, r)
	if !ok {
		return
	}
	c, err := g.dial(userFrom(r))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	defer c.Close()

	reply, err := c.Delete(name)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	fmt.Fprintln(w, reply)
}
