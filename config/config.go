// Package config implements the server configuration store.
//
// A Config holds the login credentials, the control port, the default
// MODE Z compression level and platform toggles. It is loaded from a
// line-oriented key=value file:
//
//	user=alice
//	pass=secret
//	port=5000
//	deflateLevel=6
//
// Loading never fails: a missing file yields the defaults, and unparseable
// lines or out-of-range values are logged and skipped, so the server can
// always start.
//
// Platform differences are expressed as Capabilities rather than build
// tags. The process builds one Config at startup and passes it to the
// server, which only reads it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the default control connection port.
	DefaultPort uint16 = 5000

	// DefaultDeflateLevel is the default MODE Z compression level.
	DefaultDeflateLevel = 6

	// MinDeflateLevel and MaxDeflateLevel bound zlib compression levels.
	MinDeflateLevel = 0
	MaxDeflateLevel = 9

	// minUnprivilegedPort is the lowest port that may be configured
	// without the EphemeralPort capability.
	minUnprivilegedPort = 1024
)

var (
	// ErrInvalidNumber is returned for values that are empty, contain
	// non-digit characters or overflow the target integer width.
	ErrInvalidNumber = errors.New("config: invalid number")

	// ErrInvalidDeflateLevel is returned for compression levels outside
	// [MinDeflateLevel, MaxDeflateLevel].
	ErrInvalidDeflateLevel = errors.New("config: invalid deflate level")

	// ErrUnsupported is returned when setting a toggle the platform
	// does not have.
	ErrUnsupported = errors.New("config: not supported on this platform")
)

// Capabilities describes what the platform permits.
type Capabilities struct {
	// EphemeralPort permits port 0 (any free port).
	EphemeralPort bool

	// MTimeToggle exposes the "mtime" key, which controls whether
	// modification times are read for listings and MDTM. Useful on
	// platforms where stat is slow.
	MTimeToggle bool
}

// DefaultCapabilities are the capabilities of a regular host.
var DefaultCapabilities = Capabilities{EphemeralPort: true}

// Config is the server configuration store.
type Config struct {
	caps   Capabilities
	logger *slog.Logger

	user         string
	pass         string
	port         uint16
	deflateLevel int
	getMTime     bool
}

// Option is a functional option for New and Load.
type Option func(*Config)

// WithCapabilities sets the platform capabilities.
// If not specified, DefaultCapabilities are used.
func WithCapabilities(caps Capabilities) Option {
	return func(c *Config) {
		c.caps = caps
	}
}

// WithLogger sets the logger used to report skipped lines.
// If not specified, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// New returns a Config holding the defaults.
func New(options ...Option) *Config {
	c := &Config{
		caps:         DefaultCapabilities,
		logger:       slog.Default(),
		port:         DefaultPort,
		deflateLevel: DefaultDeflateLevel,
		getMTime:     true,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Capabilities returns the platform capabilities the Config was built with.
func (c *Config) Capabilities() Capabilities {
	return c.caps
}

// User returns the configured user name, or "" if any user is accepted.
func (c *Config) User() string {
	return c.user
}

// Pass returns the configured password, or "" if any password is accepted.
func (c *Config) Pass() string {
	return c.pass
}

// Port returns the control connection port.
func (c *Config) Port() uint16 {
	return c.port
}

// DeflateLevel returns the MODE Z compression level.
func (c *Config) DeflateLevel() int {
	return c.deflateLevel
}

// GetMTime reports whether modification times are served.
// It is always true without the MTimeToggle capability.
func (c *Config) GetMTime() bool {
	if !c.caps.MTimeToggle {
		return true
	}
	return c.getMTime
}

// SetUser sets the user name. Anything from the first NUL on is dropped.
func (c *Config) SetUser(user string) {
	c.user = truncateNUL(user)
}

// SetPass sets the password. Anything from the first NUL on is dropped.
func (c *Config) SetPass(pass string) {
	c.pass = truncateNUL(pass)
}

// SetPort sets the control port. Ports below 1024 are refused with an
// error wrapping fs.ErrPermission; port 0 is accepted only with the
// EphemeralPort capability.
func (c *Config) SetPort(port uint16) error {
	if port < minUnprivilegedPort && !(port == 0 && c.caps.EphemeralPort) {
		return fmt.Errorf("config: port %d: %w", port, fs.ErrPermission)
	}
	c.port = port
	return nil
}

// SetPortString parses port strictly and sets it.
func (c *Config) SetPortString(port string) error {
	v, err := parseUint(port, 16)
	if err != nil {
		return err
	}
	return c.SetPort(uint16(v))
}

// SetDeflateLevel sets the MODE Z compression level.
func (c *Config) SetDeflateLevel(level int) error {
	if level < MinDeflateLevel || level > MaxDeflateLevel {
		return fmt.Errorf("%w: %d", ErrInvalidDeflateLevel, level)
	}
	c.deflateLevel = level
	return nil
}

// SetDeflateLevelString parses level strictly and sets it.
func (c *Config) SetDeflateLevelString(level string) error {
	v, err := parseUint(level, strconv.IntSize-1)
	if err != nil {
		return err
	}
	return c.SetDeflateLevel(int(v))
}

// SetGetMTime sets the mtime toggle. It fails with ErrUnsupported
// without the MTimeToggle capability.
func (c *Config) SetGetMTime(enable bool) error {
	if !c.caps.MTimeToggle {
		return ErrUnsupported
	}
	c.getMTime = enable
	return nil
}

// parseUint accepts decimal digits only: no sign, no spaces, no
// underscores, and no value wider than bits.
func parseUint(s string, bits int) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
	}

	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: overflow", ErrInvalidNumber, s)
	}
	return v, nil
}

func truncateNUL(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}
