package server

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantVerb string
		wantArg  string
	}{
		{"USER anonymous", "USER", "anonymous"},
		{"user anonymous\r\n", "USER", "anonymous"},
		{"NOOP", "NOOP", ""},
		{"noop\r", "NOOP", ""},
		{"STOR my file.txt", "STOR", "my file.txt"},
		{"STOR trailing ", "STOR", "trailing "},
		{"RETR  leading", "RETR", " leading"},
		{"", "", ""},
		{"MkD dir\n", "MKD", "dir"},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.line), func(t *testing.T) {
			verb, arg := parseCommand(tt.line)
			if verb != tt.wantVerb || arg != tt.wantArg {
				t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.line, verb, arg, tt.wantVerb, tt.wantArg)
			}
		})
	}
}

func TestCommandTable(t *testing.T) {
	public := map[string]bool{
		"USER": true, "PASS": true, "ACCT": true, "HOST": true, "QUIT": true, "NOOP": true,
		"ABOR": true, "FEAT": true, "OPTS": true, "SYST": true, "STAT": true, "HELP": true,
	}
	for verb, spec := range commands {
		if spec.handle == nil {
			t.Errorf("%s has no handler", verb)
		}
		if spec.auth == public[verb] {
			t.Errorf("%s: auth = %v", verb, spec.auth)
		}
	}

	// Every verb offered by HELP is dispatched, and vice versa.
	listed := map[string]bool{}
	for _, line := range helpLines {
		for _, verb := range strings.Fields(line) {
			listed[verb] = true
			if _, ok := commands[verb]; !ok {
				t.Errorf("HELP lists %s, which is not dispatched", verb)
			}
		}
	}
	for verb := range commands {
		if !listed[verb] {
			t.Errorf("%s is missing from HELP", verb)
		}
	}

	for _, verb := range []string{"AUTH", "PROT", "PBSZ"} {
		if _, ok := commands[verb]; ok {
			t.Errorf("%s should not be offered", verb)
		}
	}
}

func TestCommandGroups(t *testing.T) {
	groups := map[string][]string{
		"LegacyCommands":     LegacyCommands,
		"ActiveModeCommands": ActiveModeCommands,
		"WriteCommands":      WriteCommands,
		"SiteCommands":       SiteCommands,
	}
	for name, group := range groups {
		if len(group) == 0 {
			t.Errorf("%s is empty", name)
		}
		for _, verb := range group {
			if _, ok := commands[verb]; !ok {
				t.Errorf("%s contains unknown verb %s", name, verb)
			}
		}
	}
}

// TestDispatch checks the gating that happens before any handler runs.
func TestDispatch(t *testing.T) {
	t.Parallel()
	fsys := newMemFs(t, map[string]string{"file.txt": "x"})
	_, addr := startServer(t, newMemDriver(t, fsys), WithDisableCommands("DELE", "xcwd"))

	c := dialRaw(t, addr)

	// Before login
	c.expect(530, "PWD")
	c.expect(530, "RETR file.txt")
	c.expect(502, "BOGUS")
	c.expect(502, "AUTH TLS")
	c.expect(503, "PASS early")
	c.expect(200, "NOOP")
	c.expect(215, "SYST")

	// Failed login goes back to USER.
	c.expect(331, "USER %s", testUser)
	c.expect(530, "PASS wrong")
	c.expect(503, "PASS %s", testPass)

	c.login()
	msg := c.expect(257, "PWD")
	if msg != `"/" is the current directory.` {
		t.Errorf("PWD = %q", msg)
	}

	// Disabled commands, case-insensitively
	c.expect(502, "DELE file.txt")
	c.expect(502, "XCWD /")

	// RNTO must follow RNFR directly.
	c.expect(503, "RNTO other.txt")
	c.expect(350, "RNFR file.txt")
	c.expect(200, "NOOP")
	c.expect(503, "RNTO other.txt")

	// USER while logged in logs out.
	c.expect(331, "USER someone")
	c.expect(530, "PWD")
	c.login()
	c.expect(257, "PWD")

	c.expect(221, "QUIT")
}

func TestCommandTooLong(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)))

	c := dialRaw(t, addr)
	c.expect(500, "NOOP %s", strings.Repeat("x", MaxCommandLength+10))

	// The session survives and reads the next line normally.
	c.expect(200, "NOOP")
}
