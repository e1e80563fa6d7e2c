package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestSecurity_SymlinkTraversal(t *testing.T) {
	t.Parallel()
	// root is served, outside must stay unreachable.
	tmpDir := t.TempDir()
	rootDir := filepath.Join(tmpDir, "root")
	outsideDir := filepath.Join(tmpDir, "outside")

	fatalIfErr(t, os.Mkdir(rootDir, 0755), "Failed to create root dir")
	fatalIfErr(t, os.Mkdir(outsideDir, 0755), "Failed to create outside dir")

	targetFile := filepath.Join(outsideDir, "target.txt")
	fatalIfErr(t, os.WriteFile(targetFile, []byte("secret"), 0644), "Failed to write target file")
	fatalIfErr(t, os.Symlink(outsideDir, filepath.Join(rootDir, "badlink")), "Failed to create symlink")

	driver, err := NewFSDriver(rootDir, WithCredentials(testUser, testPass))
	fatalIfErr(t, err, "Failed to create FS driver")
	_, addr := startServer(t, driver)

	c := dialRaw(t, addr)
	c.login()

	c.expect(550, "SITE CHMOD 600 badlink/target.txt")
	c.expect(550, "MFMT 20200101120000 badlink/target.txt")
	c.expect(550, "CWD badlink")
	c.expect(550, "SIZE badlink/target.txt")
	c.expect(550, "HASH badlink/target.txt")
	c.expect(550, "MKD badlink/newdir")

	c.passive()
	c.expect(550, "RETR badlink/target.txt")
	c.expect(550, "STOR badlink/planted.txt")
	c.expect(550, "LIST badlink")

	c.expect(550, "RNFR badlink/target.txt")

	info, err := os.Stat(targetFile)
	fatalIfErr(t, err, "Stat target")
	if info.Mode().Perm() != 0644 {
		t.Error("SECURITY FAIL: Chmod modified file outside root via symlink")
	}
	if info.ModTime().Year() == 2020 {
		t.Error("SECURITY FAIL: MFMT modified file outside root via symlink")
	}
	for _, name := range []string{"newdir", "planted.txt"} {
		if _, err := os.Stat(filepath.Join(outsideDir, name)); err == nil {
			t.Errorf("SECURITY FAIL: %s created outside root via symlink", name)
		}
	}
}

func TestSecurity_DotDot(t *testing.T) {
	t.Parallel()
	fsys := newMemFs(t, map[string]string{"inside.txt": "in"})
	fatalIfErr(t, afero.WriteFile(fsys, "/secret.txt", []byte("top secret"), 0644), "WriteFile")
	_, addr := startServer(t, newMemDriver(t, fsys))

	c := dialRaw(t, addr)
	c.login()

	c.expect(250, "CWD ../../..")
	if msg := c.expect(257, "PWD"); msg != `"/" is the current directory.` {
		t.Errorf("PWD after CWD ../../.. = %q", msg)
	}

	// "../secret.txt" is clamped to "/secret.txt" inside the root.
	c.expect(550, "SIZE ../secret.txt")
	c.expect(550, "SIZE /../../secret.txt")
	if got := c.expect(213, "SIZE ../inside.txt"); got != "2" {
		t.Errorf("SIZE ../inside.txt = %q", got)
	}
}

func TestSecurity_ErrorSanitization(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	realRoot, _ := filepath.EvalSymlinks(rootDir)
	fatalIfErr(t, os.WriteFile(filepath.Join(realRoot, "exist.txt"), []byte("test"), 0644), "Failed to write exist.txt")

	driver, err := NewFSDriver(realRoot, WithCredentials(testUser, testPass))
	fatalIfErr(t, err, "Failed to create FS driver")
	_, addr := startServer(t, driver)

	c := dialRaw(t, addr)
	c.login()

	check := func(code int, cmd string) {
		t.Helper()
		if msg := c.expect(code, "%s", cmd); strings.Contains(msg, realRoot) {
			t.Errorf("SECURITY FAIL: %s leaked the root path: %q", cmd, msg)
		}
	}

	c.expect(350, "RNFR exist.txt")
	check(550, "RNTO nonexistent/new.txt")
	check(550, "MFMT 20200101120000 nonexistent.txt")
	check(550, "DELE nonexistent.txt")
	check(550, "RMD exist.txt")
	check(550, "CWD exist.txt")
	check(550, "MKD exist.txt")
}

func TestSecurity_ReadOnlyAnonymous(t *testing.T) {
	t.Parallel()
	fsys := newMemFs(t, map[string]string{"pub.txt": "public"})
	driver, err := NewFSDriverFs(fsys, "/srv")
	fatalIfErr(t, err, "NewFSDriverFs")
	_, addr := startServer(t, driver)

	c := dialRaw(t, addr)
	c.expect(331, "USER anonymous")
	c.expect(230, "PASS guest@example.com")

	if got := c.expect(213, "SIZE pub.txt"); got != "6" {
		t.Errorf("SIZE = %q", got)
	}
	c.expect(550, "MKD upload")
	c.expect(550, "DELE pub.txt")
	c.expect(550, "MFMT 20200101120000 pub.txt")
	c.expect(550, "SITE CHMOD 600 pub.txt")

	c.passive()
	c.expect(550, "STOR new.txt")
	c.expect(550, "APPE pub.txt")

	if ok, _ := afero.Exists(fsys, "/srv/new.txt"); ok {
		t.Error("anonymous upload created a file")
	}

	// Named users are refused without credentials configured.
	c2 := dialRaw(t, addr)
	c2.expect(331, "USER root")
	c2.expect(530, "PASS toor")
}

func TestSecurity_DataPortBounce(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, newMemDriver(t, newMemFs(t, nil)))

	c := dialRaw(t, addr)
	c.login()

	// A client may not direct data connections at a third host.
	c.expect(500, "PORT 192,0,2,10,0,25")
	c.expect(500, "EPRT |1|192.0.2.10|25|")
	c.expect(500, "EPRT |2|2001:db8::1|25|")
	c.expect(425, "RETR anything")
}
