package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
)

// dialRejected connects and expects a 421 greeting.
func dialRejected(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	fatalIfErr(t, err, "Dial")
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(nc).ReadString('\n')
	fatalIfErr(t, err, "read greeting")
	if !strings.HasPrefix(line, "421 ") {
		t.Fatalf("greeting = %q, want 421", line)
	}
	return nc
}

func TestMaxConnections(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)), WithMaxConnections(1, 0))

	// First connection should succeed
	c1, err := ftp.Dial(addr, ftp.DialWithTimeout(2*time.Second))
	fatalIfErr(t, err, "Client 1 failed to connect")
	fatalIfErr(t, c1.Login(testUser, testPass), "Client 1 login")

	// The second is greeted with 421 and closed.
	if c2, err := ftp.Dial(addr, ftp.DialWithTimeout(2*time.Second)); err == nil {
		c2.Quit()
		t.Fatal("Client 2 connected past the limit")
	} else if !strings.Contains(err.Error(), "421") {
		t.Errorf("Client 2 error = %v, want 421", err)
	}

	// The slot is released when the first session ends.
	fatalIfErr(t, c1.Quit(), "Client 1 quit")
	waitFor(t, func() bool {
		c3, err := ftp.Dial(addr, ftp.DialWithTimeout(2*time.Second))
		if err != nil {
			return false
		}
		c3.Quit()
		return true
	}, "a free slot after QUIT")
}

func TestMaxConnectionsPerIP(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)), WithMaxConnections(0, 2))

	first := dialRaw(t, addr)
	second := dialRaw(t, addr)
	first.login()
	second.login()

	nc := dialRejected(t, addr)
	nc.Close()

	second.expect(221, "QUIT")
	waitFor(t, func() bool {
		nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			return false
		}
		defer nc.Close()
		_ = nc.SetDeadline(time.Now().Add(2 * time.Second))
		line, _ := bufio.NewReader(nc).ReadString('\n')
		return strings.HasPrefix(line, "220 ")
	}, "a free per-IP slot after QUIT")

	first.expect(200, "NOOP")
}

func TestMaxConnections_Validation(t *testing.T) {
	t.Parallel()
	driver := newMemDriver(t, newMemFs(t, nil))
	for _, limits := range [][2]int{{-1, 0}, {0, -1}} {
		if _, err := NewServer(":0", WithDriver(driver), WithMaxConnections(limits[0], limits[1])); err == nil {
			t.Errorf("WithMaxConnections(%d, %d) accepted", limits[0], limits[1])
		}
	}
}

func TestIdleTimeout(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)), WithMaxIdleTime(200*time.Millisecond))

	c := dialRaw(t, addr)
	c.login()

	// The server gives up on a silent client with 421.
	c.read(421)
}
