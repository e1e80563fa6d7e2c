package server

import (
	"strings"
	"testing"
)

// TestRFC1123Compliance checks the minimum implementation RFC 1123
// requires of a server, plus the status commands.
func TestRFC1123Compliance(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, map[string]string{"f.txt": "x"})))

	c := dialRaw(t, addr)

	// Status commands work before login.
	msg := c.expect(211, "STAT")
	if !strings.Contains(msg, "Not logged in") {
		t.Errorf("STAT before login = %q", msg)
	}
	if msg := c.expect(215, "SYST"); !strings.Contains(msg, "UNIX") {
		t.Errorf("SYST = %q", msg)
	}
	c.expect(202, "ACCT whatever")

	c.login()

	tests := []struct {
		cmd  string
		code int
	}{
		{"MODE S", 200},
		{"MODE s", 200},
		{"MODE B", 504},
		{"MODE C", 504},
		{"MODE X", 504},
		{"STRU F", 200},
		{"STRU R", 504},
		{"STRU P", 504},
		{"TYPE A N", 200},
		{"TYPE I", 200},
		{"TYPE L 8", 200},
		{"TYPE L 7", 504},
		{"ALLO 1024", 202},
		{"ACCT billing", 202},
		{"NOOP", 200},
		{"CDUP", 250},
		{"XPWD", 257},
		{"XMKD newdir", 257},
		{"XCWD newdir", 250},
		{"XCUP", 250},
		{"XRMD newdir", 250},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			c.expect(tt.code, "%s", tt.cmd)
		})
	}
}

func TestSTAT(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)), WithDeflateLevel(4))

	c := dialRaw(t, addr)
	c.login()
	c.expect(200, "TYPE A")
	c.expect(200, "MODE Z")
	c.expect(350, "REST 42")
	c.expect(229, "EPSV")

	msg := c.expect(211, "STAT")
	for _, want := range []string{
		"Logged in as " + testUser,
		"TYPE: ASCII",
		"transfer MODE: Z (level 4)",
		"Passive mode: 127.0.0.1:",
		"Restart offset: 42",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("STAT lacks %q:\n%s", want, msg)
		}
	}

	c.expect(502, "STAT /")
}

func TestHELP(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)), WithDisableCommands("SITE"))

	c := dialRaw(t, addr)

	msg := c.expect(214, "HELP")
	for _, verb := range []string{"USER", "RETR", "MLSD", "EPSV"} {
		if !strings.Contains(msg, verb) {
			t.Errorf("HELP lacks %s", verb)
		}
	}
	c.expect(214, "HELP retr")
	c.expect(502, "HELP SITE")
	c.expect(502, "HELP FROB")
}

func TestMLSTAndMLSDDirectory(t *testing.T) {
	t.Parallel()
	fsys := newMemFs(t, map[string]string{"pub/a.txt": "a"})
	_, addr := startServer(t, newMemDriver(t, fsys))

	c := dialRaw(t, addr)
	c.login()

	// RFC 3659 7.2: MLST without argument describes the working directory.
	c.expect(250, "CWD pub")
	msg := c.expect(250, "MLST")
	if !strings.Contains(msg, "type=dir;") || !strings.Contains(msg, " /pub") {
		t.Errorf("MLST = %q", msg)
	}

	dc := c.passive()
	c.expect(150, "MLSD")
	listing := readAllConn(t, dc)
	c.read(226)
	if !strings.Contains(listing, "type=file;size=1;") || !strings.HasSuffix(listing, " a.txt\r\n") {
		t.Errorf("MLSD = %q", listing)
	}
}
