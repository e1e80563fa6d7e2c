package server

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend driver for authentication and file operations.
// This option is required and can only be set once.
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithConfig applies the settings of a loaded configuration: the MODE Z
// level ceiling and whether modification times are served. The listen
// address and credentials are applied by the caller (NewServer's addr and
// WithCredentials on the driver).
//
//	cfg := config.Load(afero.NewOsFs(), "/etc/ftpd.cfg")
//	driver, _ := server.NewFSDriver("/srv/ftp",
//	    server.WithCredentials(cfg.User(), cfg.Pass()))
//	s, _ := server.NewServer(fmt.Sprintf(":%d", cfg.Port()),
//	    server.WithDriver(driver),
//	    server.WithConfig(cfg),
//	)
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) error {
		s.deflateLevel = cfg.DeflateLevel()
		s.modTimes = cfg.GetMTime()
		return nil
	}
}

// WithDeflateLevel sets the MODE Z compression level. Sessions start at
// this level and may lower it with OPTS MODE Z LEVEL, but never raise it.
func WithDeflateLevel(level int) Option {
	return func(s *Server) error {
		if level < config.MinDeflateLevel || level > config.MaxDeflateLevel {
			return fmt.Errorf("%w: %d", config.ErrInvalidDeflateLevel, level)
		}
		s.deflateLevel = level
		return nil
	}
}

// WithModTimes controls whether modification times are served. When
// disabled, MDTM answers 550, FEAT omits MDTM and listings show the epoch.
func WithModTimes(enable bool) Option {
	return func(s *Server) error {
		s.modTimes = enable
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a control connection can be idle
// before being closed. If not specified, defaults to 5 minutes.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithReadTimeout sets the deadline for single reads on control and data
// connections.
func WithReadTimeout(duration time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = duration
		return nil
	}
}

// WithWriteTimeout sets the deadline for single writes on control and
// data connections.
func WithWriteTimeout(duration time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections,
// in total and per client IP. Zero means no limit.
//
// Rejected clients receive "421 Too many users" (or "421 Too many
// connections from your IP address").
func WithMaxConnections(max, perIP int) Option {
	return func(s *Server) error {
		if max < 0 || perIP < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
		s.maxConnections = max
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithWelcomeMessage sets the banner sent on connection.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithServerName sets the system type returned by SYST.
func WithServerName(name string) Option {
	return func(s *Server) error {
		s.serverName = name
		return nil
	}
}

// WithDisableCommands makes the server answer 502 to the given verbs,
// as if they were not implemented. See the predefined command groups.
//
//	s, _ := server.NewServer(":5000",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
func WithDisableCommands(cmds ...string) Option {
	return func(s *Server) error {
		for _, cmd := range cmds {
			s.disabledCommands[strings.ToUpper(cmd)] = true
		}
		return nil
	}
}

// WithDisableMLSD disables the MLSD command and drops it from FEAT.
func WithDisableMLSD(disable bool) Option {
	return func(s *Server) error {
		s.disableMLSD = disable
		return nil
	}
}

// WithEnableDirMessage makes CWD show the contents of a .message file in
// the new directory.
func WithEnableDirMessage(enable bool) Option {
	return func(s *Server) error {
		s.enableDirMessage = enable
		return nil
	}
}

// WithTransferLog writes one xferlog line per transfer to w.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithMetricsCollector sets the collector notified of commands, transfers,
// connections and authentications.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = mc
		return nil
	}
}

// WithBandwidthLimit throttles RETR, STOR, APPE and STOU, in bytes per
// second: total across all sessions and perSession for each one. Zero
// means no limit. Listings are not throttled.
func WithBandwidthLimit(total, perSession int64) Option {
	return func(s *Server) error {
		if total < 0 || perSession < 0 {
			return fmt.Errorf("bandwidth limits must not be negative")
		}
		s.bandwidth = ratelimit.New(total)
		s.sessionBandwidth = perSession
		return nil
	}
}
