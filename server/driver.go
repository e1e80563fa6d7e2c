package server

import (
	"net"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/fsutil"
)

// Driver authenticates users and hands out a session-specific ClientContext
// for file operations.
//
// Implementations should:
//   - Validate user credentials (user, pass)
//   - Use the host parameter for virtual hosting (optional)
//   - Return a ClientContext that confines the user to their root
//   - Return an error wrapping os.ErrPermission for invalid credentials
//
// FSDriver is the implementation backed by an afero.Fs.
type Driver interface {
	// Authenticate validates the user and password.
	// The host parameter contains the value from the HOST command (RFC 7151)
	// and may be empty. remoteIP is the address of the control connection.
	Authenticate(user, pass, host string, remoteIP net.IP) (ClientContext, error)
}

// ClientContext handles file system operations for one client session.
//
// All paths are virtual: absolute paths start at the user's root, relative
// paths are resolved against the working directory, and ".." never leaves
// the root.
//
// Error handling:
//   - Return os.ErrNotExist when files/directories don't exist
//   - Return os.ErrPermission for permission denied errors
//   - Return os.ErrExist when files/directories already exist
//
// The server translates these to FTP reply codes. A context is used by one
// session at a time, but transfers run on their own goroutine, so OpenFile
// and OpenDir must not depend on state changed by later commands.
type ClientContext interface {
	// ChangeDir changes the current working directory.
	ChangeDir(path string) error

	// GetWd returns the current working directory.
	GetWd() (string, error)

	// MakeDir creates a new directory.
	MakeDir(path string) error

	// RemoveDir removes an empty directory.
	RemoveDir(path string) error

	// DeleteFile removes a file.
	DeleteFile(path string) error

	// Rename moves or renames a file or directory.
	Rename(fromPath, toPath string) error

	// OpenDir opens a directory for sequential enumeration.
	OpenDir(path string) (*fsutil.Dir, error)

	// OpenFile opens a file for transfer. The flag parameter uses the
	// os.O_* constants.
	OpenFile(path string, flag int) (afero.File, error)

	// GetFileInfo returns file or directory metadata.
	GetFileInfo(path string) (os.FileInfo, error)

	// GetHash calculates the hash of a file using the specified algorithm:
	// "SHA-256", "SHA-512", "SHA-1", "MD5" or "CRC32".
	GetHash(path string, algo string) (string, error)

	// SetTime sets the modification time of a file (MFMT).
	SetTime(path string, t time.Time) error

	// Chmod changes the mode of a file (SITE CHMOD).
	Chmod(path string, mode os.FileMode) error

	// Close releases any resources held by the context.
	// Called when the client disconnects or logs in again.
	Close() error

	// GetSettings returns the passive mode settings. May return nil.
	GetSettings() *Settings
}

// Settings defines passive mode configuration.
type Settings struct {
	// PublicHost is the hostname or IP address advertised in PASV replies.
	// A hostname is resolved once and the first IPv4 address is used.
	// If empty, the control connection's local address is used.
	PublicHost string

	// PasvMinPort is the minimum port number for passive data connections.
	// If 0, the OS assigns a port.
	PasvMinPort int

	// PasvMaxPort is the maximum port number for passive data connections.
	// Must be >= PasvMinPort if both are set.
	PasvMaxPort int
}
