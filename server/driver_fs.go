package server

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/fsutil"
)

var (
	errAnonymousDisabled = errors.New("anonymous login disabled")
	errAnonymousOnly     = errors.New("only anonymous login allowed")
	errBadCredentials    = errors.New("invalid credentials")
	errUnsupportedHash   = errors.New("unsupported algorithm")
	errNotDirectory      = errors.New("not a directory")
	errDirNotEmpty       = errors.New("directory not empty")
)

// Authenticator validates credentials for an FSDriver.
//
// It returns the directory of the driver's filesystem that becomes the
// user's root, and whether the user is restricted to read-only operations. Return an error
// wrapping os.ErrPermission for invalid credentials.
type Authenticator func(user, pass, host string, remoteIP net.IP) (root string, readOnly bool, err error)

// FSDriver implements Driver on top of an afero.Fs.
//
// Security model:
//   - Each session sees an afero.BasePathFs rooted at its root, so no path
//     can name anything outside it
//   - Virtual paths are cleaned against the working directory first, so
//     ".." stops at "/"
//   - For drivers on the OS filesystem, symlinks are resolved and must stay
//     inside the root
//   - Read-only mode is enforced at the operation level
//
// Default behavior (no options):
//   - Allows anonymous login ("ftp" or "anonymous" users only)
//   - Anonymous users have read-only access
type FSDriver struct {
	fsys     afero.Fs
	rootPath string

	// realRoot is the symlink-free root on the OS filesystem, or "" when
	// fsys is not backed by the OS.
	realRoot string

	authenticator    Authenticator
	disableAnonymous bool
	enableAnonWrite  bool

	settings *Settings
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// NewFSDriver creates a driver serving rootPath on the OS filesystem.
// Returns an error if rootPath does not exist or is not a directory.
//
//	driver, err := server.NewFSDriver("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	realRoot, err := filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	realRoot, err = filepath.Abs(realRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	d := &FSDriver{
		fsys:     afero.NewOsFs(),
		rootPath: realRoot,
		realRoot: realRoot,
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// NewFSDriverFs creates a driver serving rootPath inside fsys.
// It is mostly useful with afero.NewMemMapFs in tests.
func NewFSDriverFs(fsys afero.Fs, rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := fsys.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	d := &FSDriver{
		fsys:     fsys,
		rootPath: filepath.Clean(rootPath),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// WithAuthenticator sets a custom authentication function. It takes full
// control of authentication, anonymous access included.
//
//	server.WithAuthenticator(func(user, pass, host string, ip net.IP) (string, bool, error) {
//	    if user == "admin" && pass == "secret" {
//	        return "/srv/ftp", false, nil
//	    }
//	    return "", false, os.ErrPermission
//	})
func WithAuthenticator(fn Authenticator) FSDriverOption {
	return func(d *FSDriver) {
		d.authenticator = fn
	}
}

// WithCredentials accepts a single account with read-write access to the
// whole root. An empty user accepts any user name and an empty pass accepts
// any password, so WithCredentials("", "") lets everyone in.
//
// This is how a config.Config's user and pass are applied.
func WithCredentials(user, pass string) FSDriverOption {
	return func(d *FSDriver) {
		d.authenticator = func(u, p, _ string, _ net.IP) (string, bool, error) {
			if user != "" && subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 {
				return "", false, fmt.Errorf("%w: %w", errBadCredentials, os.ErrPermission)
			}
			if pass != "" && subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
				return "", false, fmt.Errorf("%w: %w", errBadCredentials, os.ErrPermission)
			}
			return d.rootPath, false, nil
		}
	}
}

// WithDisableAnonymous disables the default anonymous login.
// It has no effect when an authenticator is set.
func WithDisableAnonymous(disable bool) FSDriverOption {
	return func(d *FSDriver) {
		d.disableAnonymous = disable
	}
}

// WithAnonWrite enables write access for anonymous users.
// Default is false (read-only).
func WithAnonWrite(enable bool) FSDriverOption {
	return func(d *FSDriver) {
		d.enableAnonWrite = enable
	}
}

// WithSettings sets the passive mode settings handed to every session.
func WithSettings(settings *Settings) FSDriverOption {
	return func(d *FSDriver) {
		d.settings = settings
	}
}

// Authenticate returns a new context for the user.
func (d *FSDriver) Authenticate(user, pass, host string, remoteIP net.IP) (ClientContext, error) {
	root := d.rootPath
	readOnly := false

	if d.authenticator != nil {
		var err error
		root, readOnly, err = d.authenticator(user, pass, host, remoteIP)
		if err != nil {
			return nil, err
		}
	} else {
		if d.disableAnonymous {
			return nil, fmt.Errorf("%w: %w", errAnonymousDisabled, os.ErrPermission)
		}
		if user != "ftp" && user != "anonymous" {
			return nil, fmt.Errorf("%w: %w", errAnonymousOnly, os.ErrPermission)
		}
		readOnly = !d.enableAnonWrite
	}

	root = filepath.Clean(root)
	info, err := d.fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("user root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("user root: %w", errNotDirectory)
	}

	c := &fsContext{
		fsys:     afero.NewBasePathFs(d.fsys, root),
		cwd:      "/",
		readOnly: readOnly,
		settings: d.settings,
	}
	if d.realRoot != "" {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return nil, fmt.Errorf("user root: %w", err)
		}
		c.realRoot = realRoot
	}
	return c, nil
}

// fsContext implements ClientContext over a BasePathFs.
type fsContext struct {
	fsys     afero.Fs
	realRoot string
	cwd      string
	readOnly bool
	settings *Settings
}

// Close is a no-op: afero holds no per-session resources.
func (c *fsContext) Close() error {
	return nil
}

// resolve maps a client path onto a clean absolute virtual path.
func (c *fsContext) resolve(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.cwd, p)
	}
	return path.Clean("/" + p)
}

// confine resolves p and, on the OS filesystem, checks that following
// symlinks does not leave the root. A missing final component is checked
// through its parent so that creating new entries works.
func (c *fsContext) confine(p string) (string, error) {
	v := c.resolve(p)
	if c.realRoot == "" {
		return v, nil
	}

	full := filepath.Join(c.realRoot, filepath.FromSlash(v))
	resolved, err := filepath.EvalSymlinks(full)
	if errors.Is(err, os.ErrNotExist) {
		resolved, err = filepath.EvalSymlinks(filepath.Dir(full))
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", os.ErrNotExist
		}
		return "", os.ErrPermission
	}
	if resolved != c.realRoot && !strings.HasPrefix(resolved, c.realRoot+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return v, nil
}

// ChangeDir verifies the destination is a directory and moves there.
func (c *fsContext) ChangeDir(p string) error {
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	info, err := c.fsys.Stat(v)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotDirectory
	}
	c.cwd = v
	return nil
}

// GetWd returns the current working directory.
func (c *fsContext) GetWd() (string, error) {
	return c.cwd, nil
}

func (c *fsContext) MakeDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	return c.fsys.Mkdir(v, 0755)
}

func (c *fsContext) RemoveDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	if v == "/" {
		return os.ErrPermission
	}
	info, err := c.fsys.Stat(v)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotDirectory
	}
	// Remove on some afero backends drops non-empty directories too.
	empty, err := afero.IsEmpty(c.fsys, v)
	if err != nil {
		return err
	}
	if !empty {
		return errDirNotEmpty
	}
	return c.fsys.Remove(v)
}

func (c *fsContext) DeleteFile(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	info, err := c.fsys.Stat(v)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.ErrPermission
	}
	return c.fsys.Remove(v)
}

func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	src, err := c.confine(fromPath)
	if err != nil {
		return err
	}
	dst, err := c.confine(toPath)
	if err != nil {
		return err
	}
	if src == "/" || dst == "/" {
		return os.ErrPermission
	}
	return c.fsys.Rename(src, dst)
}

func (c *fsContext) OpenDir(p string) (*fsutil.Dir, error) {
	v, err := c.confine(p)
	if err != nil {
		return nil, err
	}
	return fsutil.OpenDir(c.fsys, v)
}

// OpenFile opens a file for transfer. Directories are refused.
func (c *fsContext) OpenFile(p string, flag int) (afero.File, error) {
	if c.readOnly && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	v, err := c.confine(p)
	if err != nil {
		return nil, err
	}

	f, err := c.fsys.OpenFile(v, flag, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		return nil, os.ErrPermission
	}
	return f, nil
}

func (c *fsContext) GetFileInfo(p string) (os.FileInfo, error) {
	v, err := c.confine(p)
	if err != nil {
		return nil, err
	}
	return c.fsys.Stat(v)
}

// GetHash hashes the file with SHA-256, SHA-512, SHA-1, MD5 or CRC32.
func (c *fsContext) GetHash(p string, algo string) (string, error) {
	var h hash.Hash
	switch strings.ToUpper(algo) {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", errUnsupportedHash
	}

	f, err := c.OpenFile(p, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fsContext) SetTime(p string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	return c.fsys.Chtimes(v, t, t)
}

// Chmod accepts permission bits only.
func (c *fsContext) Chmod(p string, mode os.FileMode) error {
	if c.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	v, err := c.confine(p)
	if err != nil {
		return err
	}
	return c.fsys.Chmod(v, mode)
}

func (c *fsContext) GetSettings() *Settings {
	if c.settings == nil {
		return &Settings{}
	}
	return c.settings
}
