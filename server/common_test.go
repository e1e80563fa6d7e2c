package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const (
	testUser = "test"
	testPass = "secret"
)

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

// quietLogger discards everything.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMemFs returns a memory filesystem with /srv as the served root and
// the given files below it.
func newMemFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	fatalIfErr(t, fsys.MkdirAll("/srv", 0755), "MkdirAll")
	for name, content := range files {
		full := path.Join("/srv", name)
		fatalIfErr(t, fsys.MkdirAll(path.Dir(full), 0755), "MkdirAll %s", name)
		fatalIfErr(t, afero.WriteFile(fsys, full, []byte(content), 0644), "WriteFile %s", name)
	}
	return fsys
}

// newMemDriver serves /srv of fsys to testUser/testPass.
func newMemDriver(t *testing.T, fsys afero.Fs, options ...FSDriverOption) *FSDriver {
	t.Helper()
	options = append([]FSDriverOption{WithCredentials(testUser, testPass)}, options...)
	driver, err := NewFSDriverFs(fsys, "/srv", options...)
	fatalIfErr(t, err, "NewFSDriverFs")
	return driver
}

// startServer serves driver on a loopback port until the test ends and
// returns the address.
func startServer(t *testing.T, driver Driver, options ...Option) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")
	addr := ln.Addr().String()

	options = append([]Option{WithDriver(driver), WithLogger(quietLogger())}, options...)
	server, err := NewServer(addr, options...)
	fatalIfErr(t, err, "NewServer")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Logf("Shutdown failed: %v", err)
		}
		if err := <-serveErr; err != ErrServerClosed {
			t.Logf("Serve returned %v", err)
		}
	})
	return server, addr
}

// rawClient speaks the control protocol directly, for exchanges a client
// library hides (ABOR mid-transfer, MODE Z, odd arguments).
type rawClient struct {
	t    *testing.T
	conn *textproto.Conn
	addr string
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	fatalIfErr(t, err, "Dial")
	_ = nc.SetDeadline(time.Now().Add(30 * time.Second))

	c := &rawClient{t: t, conn: textproto.NewConn(nc), addr: addr}
	t.Cleanup(func() { c.conn.Close() })
	c.read(220)
	return c
}

// cmd sends a command and returns the reply.
func (c *rawClient) cmd(format string, args ...any) (int, string) {
	c.t.Helper()
	_, err := c.conn.Cmd(format, args...)
	fatalIfErr(c.t, err, "send %q", fmt.Sprintf(format, args...))
	code, msg, err := c.conn.ReadResponse(0)
	fatalIfErr(c.t, err, "reply to %q", fmt.Sprintf(format, args...))
	return code, msg
}

// expect sends a command and fails the test unless the reply has code.
func (c *rawClient) expect(code int, format string, args ...any) string {
	c.t.Helper()
	got, msg := c.cmd(format, args...)
	if got != code {
		c.t.Fatalf("%s: got %d %q, want %d", fmt.Sprintf(format, args...), got, msg, code)
	}
	return msg
}

// read reads the next reply and checks its code.
func (c *rawClient) read(code int) string {
	c.t.Helper()
	got, msg, err := c.conn.ReadResponse(0)
	fatalIfErr(c.t, err, "read reply")
	if got != code {
		c.t.Fatalf("got %d %q, want %d", got, msg, code)
	}
	return msg
}

func (c *rawClient) login() {
	c.t.Helper()
	c.expect(331, "USER %s", testUser)
	c.expect(230, "PASS %s", testPass)
}

// passive sends EPSV and connects to the announced port.
func (c *rawClient) passive() net.Conn {
	c.t.Helper()
	msg := c.expect(229, "EPSV")

	start := strings.Index(msg, "(|||")
	end := strings.LastIndex(msg, "|)")
	if start < 0 || end < start {
		c.t.Fatalf("malformed EPSV reply %q", msg)
	}
	port, err := strconv.Atoi(msg[start+4 : end])
	fatalIfErr(c.t, err, "EPSV port in %q", msg)

	host, _, _ := net.SplitHostPort(c.addr)
	dc, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 2*time.Second)
	fatalIfErr(c.t, err, "dial data port")
	_ = dc.SetDeadline(time.Now().Add(30 * time.Second))
	c.t.Cleanup(func() { dc.Close() })
	return dc
}

// readAllConn reads a data connection until the server closes it.
func readAllConn(t *testing.T, conn net.Conn) string {
	t.Helper()
	data, err := io.ReadAll(conn)
	fatalIfErr(t, err, "read data connection")
	return string(data)
}

// safeBuffer collects log output written from session goroutines.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
