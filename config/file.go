package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/fsutil"
)

// Load reads the configuration file at path from fsys.
//
// It never fails. A missing or unreadable file yields the defaults; lines
// without '=' or with an empty key or value are logged and skipped; invalid
// numbers and out-of-range values leave the default in place.
func Load(fsys afero.Fs, path string, options ...Option) *Config {
	c := New(options...)

	f := fsutil.NewFile()
	if err := f.Open(fsys, path, os.O_RDONLY, 0); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("config_unreadable", "path", path, "error", err)
		}
		return c
	}
	defer f.Close()

	port := c.port
	deflateLevel := c.deflateLevel
	portSet, levelSet := false, false

	for lineNo := 1; ; lineNo++ {
		line, err := f.ReadLine()
		if err != nil {
			if err != io.EOF {
				c.logger.Warn("config_read_error", "path", path, "line", lineNo, "error", err)
			}
			break
		}
		if strings.Trim(line, " \t") == "" {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		key = strings.Trim(key, " \t")
		val = strings.Trim(val, " \t")
		if !ok || key == "" || val == "" {
			c.logger.Warn("config_line_ignored", "path", path, "line", lineNo, "text", line)
			continue
		}

		switch key {
		case "user":
			c.SetUser(val)
		case "pass":
			c.SetPass(val)
		case "port":
			if v, err := parseUint(val, 16); err == nil {
				port = uint16(v)
				portSet = true
			} else {
				c.logger.Warn("config_value_ignored", "key", key, "error", err)
			}
		case "deflateLevel":
			if v, err := parseUint(val, 31); err == nil {
				deflateLevel = int(v)
				levelSet = true
			} else {
				c.logger.Warn("config_value_ignored", "key", key, "error", err)
			}
		case "mtime":
			if !c.caps.MTimeToggle {
				c.logger.Debug("config_key_unsupported", "key", key)
				continue
			}
			switch val {
			case "0":
				c.getMTime = false
			case "1":
				c.getMTime = true
			default:
				c.logger.Warn("config_value_ignored", "key", key, "value", val)
			}
		default:
			c.logger.Debug("config_key_unknown", "key", key)
		}
	}

	if portSet {
		if err := c.SetPort(port); err != nil {
			c.logger.Warn("config_value_ignored", "key", "port", "error", err)
		}
	}
	if levelSet {
		if err := c.SetDeflateLevel(deflateLevel); err != nil {
			c.logger.Warn("config_value_ignored", "key", "deflateLevel", "error", err)
		}
	}

	return c
}

// Save writes the configuration to path on fsys, creating missing parent
// directories with mode 0755. Empty credentials are not written.
func (c *Config) Save(fsys afero.Fs, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	var b strings.Builder
	if c.user != "" {
		fmt.Fprintf(&b, "user=%s\n", c.user)
	}
	if c.pass != "" {
		fmt.Fprintf(&b, "pass=%s\n", c.pass)
	}
	fmt.Fprintf(&b, "port=%d\n", c.port)
	fmt.Fprintf(&b, "deflateLevel=%d\n", c.deflateLevel)
	if c.caps.MTimeToggle {
		mtime := 0
		if c.getMTime {
			mtime = 1
		}
		fmt.Fprintf(&b, "mtime=%d\n", mtime)
	}

	f := fsutil.NewFile()
	if err := f.Open(fsys, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var result *multierror.Error
	if err := f.WriteAll([]byte(b.String())); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: save %s: %w", path, err)
	}
	return nil
}
