package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It accepts control connections and runs one session per connection,
// each in its own goroutine. Sessions share nothing but the read-only
// server settings.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Stop with Shutdown(); Serve then returns ErrServerClosed
//
// Example:
//
//	driver, _ := server.NewFSDriver("/srv/ftp")
//	s, err := server.NewServer(":5000", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":5000").
	addr string

	// driver is the backend driver for authentication and file operations.
	driver Driver

	logger *slog.Logger

	// disableMLSD disables the MLSD command.
	disableMLSD bool

	// disabledCommands holds the verbs answered with 502.
	disabledCommands map[string]bool

	// welcomeMessage is the banner sent to clients on connection.
	welcomeMessage string

	// serverName is the system type returned by the SYST command.
	serverName string

	// maxIdleTime closes control connections idle for longer. Transfers in
	// progress keep the session alive.
	maxIdleTime time.Duration

	// readTimeout and writeTimeout bound single reads and writes. Zero
	// disables them.
	readTimeout  time.Duration
	writeTimeout time.Duration

	// maxConnections limits simultaneous sessions; 0 is unlimited.
	maxConnections int

	// maxConnectionsPerIP limits simultaneous sessions per client IP;
	// 0 is unlimited.
	maxConnectionsPerIP int

	// deflateLevel is the MODE Z level sessions start with and the
	// ceiling OPTS MODE Z LEVEL may not exceed.
	deflateLevel int

	// modTimes controls whether modification times are served (MDTM,
	// listings).
	modTimes bool

	// enableDirMessage sends the contents of .message on CWD.
	enableDirMessage bool

	// transferLog receives xferlog lines; nil disables it.
	transferLog   io.Writer
	transferLogMu sync.Mutex

	metricsCollector MetricsCollector

	// bandwidth is shared by every file transfer; sessionBandwidth is the
	// rate each session's own limiter starts with. Zero or nil is unlimited.
	bandwidth        *ratelimit.Limiter
	sessionBandwidth int64

	// nextPassivePort rotates the start of the passive port range.
	nextPassivePort atomic.Int32

	activeConns atomic.Int32
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling
	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
	sessions   sync.WaitGroup
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//   - Deflate level: config.DefaultDeflateLevel
//   - Modification times: served
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:             addr,
		logger:           slog.Default(),
		welcomeMessage:   "FTP Server Ready",
		serverName:       "UNIX Type: L8",
		maxIdleTime:      5 * time.Minute,
		deflateLevel:     config.DefaultDeflateLevel,
		modTimes:         true,
		disabledCommands: make(map[string]bool),
		conns:            make(map[net.Conn]struct{}),
		connsByIP:        make(map[string]int32),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	return s, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("server_listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve accepts incoming connections on l until Shutdown is called or
// the listener fails. It closes l before returning.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(2*tempDelay, time.Second)
				}
				s.logger.Warn("accept_error", "error", err, "retry_in", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		if !s.trackConnection(conn, true) {
			conn.Close()
			continue
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.trackConnection(conn, false)
			s.handleSession(conn)
		}()
	}
}

// Shutdown closes the listener and every control and data connection,
// then waits for the sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for conn := range conns {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}

	return result.ErrorOrNil()
}

// trackConnection records conn for Shutdown. It returns false once
// shutdown has started.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.inShutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

// trackingConn removes a data connection from the server's set on Close.
type trackingConn struct {
	net.Conn
	server *Server
	once   sync.Once
	err    error
}

func (c *trackingConn) Close() error {
	c.once.Do(func() {
		c.server.trackConnection(c.Conn, false)
		c.err = c.Conn.Close()
	})
	return c.err
}

// remoteHost returns the IP part of a connection's remote address.
func remoteHost(conn net.Conn) string {
	remoteAddr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

// admit applies the connection limits and reserves a slot for ip.
// It returns the rejection reason, or "" when the connection is admitted.
func (s *Server) admit(ip string) string {
	if s.maxConnections > 0 {
		if s.activeConns.Add(1) > int32(s.maxConnections) {
			s.activeConns.Add(-1)
			return "global_limit_reached"
		}
	} else {
		s.activeConns.Add(1)
	}

	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		defer s.connsByIPMu.Unlock()
		if s.connsByIP[ip] >= int32(s.maxConnectionsPerIP) {
			s.activeConns.Add(-1)
			return "per_ip_limit_reached"
		}
		s.connsByIP[ip]++
	}
	return ""
}

// release returns the slot reserved by admit.
func (s *Server) release(ip string) {
	s.activeConns.Add(-1)

	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
}

// handleSession enforces the connection limits and runs a session.
func (s *Server) handleSession(conn net.Conn) {
	ip := remoteHost(conn)

	if reason := s.admit(ip); reason != "" {
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", reason,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, reason)
		}
		msg := "421 Too many users, sorry.\r\n"
		if reason == "per_ip_limit_reached" {
			msg = "421 Too many connections from your IP address.\r\n"
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, _ = io.WriteString(conn, msg)
		conn.Close()
		return
	}
	defer s.release(ip)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	newSession(s, conn).serve()
}
