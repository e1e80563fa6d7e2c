package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

var errCommandTooLong = errors.New("command too long")

// authState is the position of a session in the login sequence.
type authState int

const (
	awaitingUser authState = iota
	awaitingPass
	authenticated
)

// transferType is the representation type set by TYPE.
type transferType int

const (
	typeBinary transferType = iota
	typeASCII
)

// transferMode is the transmission mode set by MODE.
type transferMode int

const (
	modeStream transferMode = iota
	modeDeflate
)

// session represents an FTP client session.
//
// Everything but the fields guarded by mu belongs to the goroutine running
// serve.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	sessionID string
	remoteIP  string

	state         authState
	user          string
	host          string
	fs            ClientContext
	renameFrom    string
	restartOffset int64
	selectedHash  string
	transferType  transferType
	transferMode  transferMode
	deflateLevel  int

	// Pending data endpoint: a passive listener or an active address.
	pasvList   net.Listener
	activeAddr string
	epsvAll    bool

	// bandwidth throttles this session's file transfers; nil is unlimited.
	bandwidth *ratelimit.Limiter

	// Cached resolution of Settings.PublicHost
	lastPublicHost string
	resolvedIP     net.IP

	// Reader synchronization
	cmdReqChan chan struct{}
	partial    []byte
	overflow   bool // discarding the rest of a too long line
	closing    bool

	// mu guards writer, lastCode and the transfer in flight.
	mu       sync.Mutex
	lastCode int
	busy     bool
	job      *transferJob
	dataConn net.Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSession(server *Server, conn net.Conn) *session {
	sessionID := uuid.NewString()
	remoteIP := remoteHost(conn)

	return &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(newTelnetReader(conn)),
		writer:       bufio.NewWriter(conn),
		logger:       server.logger.With("session_id", sessionID, "remote_ip", remoteIP),
		sessionID:    sessionID,
		remoteIP:     remoteIP,
		selectedHash: "SHA-256",
		deflateLevel: server.deflateLevel,
		bandwidth:    ratelimit.New(server.sessionBandwidth),
		cmdReqChan:   make(chan struct{}),
	}
}

type command struct {
	line string
	err  error
}

// serve runs the session.
//
// Concurrency model:
//
//  1. Reader goroutine: reads command lines from the control connection
//     and hands them to serve over cmdChan, then waits on cmdReqChan
//     before reading the next one.
//
//  2. Main loop (serve): dispatches each line. It is the only goroutine
//     that touches session state outside mu.
//
//  3. Transfers: RETR, STOR, LIST and friends open their file or directory,
//     then hand a transferJob to its own goroutine and return. The main
//     loop keeps reading commands, so ABOR, STAT, QUIT and NOOP are served
//     while data moves.
//
//  4. ABOR closes the data connection and cancels the job's context,
//     which interrupts its blocking I/O, then waits for the job to send
//     its final reply.
func (s *session) serve() {
	defer s.close()

	s.sendWelcome()
	s.logger.Info("session_started")

	done := make(chan struct{})
	defer close(done)

	cmdChan := s.startCommandReader(done)

	for cmd := range cmdChan {
		switch {
		case cmd.err == nil:
			s.handleCommand(cmd.line)
			if s.closing {
				return
			}
		case errors.Is(cmd.err, errCommandTooLong):
			s.reply(500, "Command line too long.")
		case isTimeout(cmd.err):
			s.reply(421, "Timeout, closing control connection.")
			return
		default:
			if cmd.err != io.EOF && !errors.Is(cmd.err, net.ErrClosed) {
				s.logger.Warn("read_error", "user", s.user, "error", cmd.err)
			}
			return
		}

		select {
		case s.cmdReqChan <- struct{}{}:
		case <-done:
		}
	}
}

func (s *session) sendWelcome() {
	msg := strings.TrimPrefix(s.server.welcomeMessage, "220")
	s.reply(220, strings.TrimLeft(msg, " -"))
}

func (s *session) startCommandReader(done chan struct{}) chan command {
	cmdChan := make(chan command)
	go func() {
		defer close(cmdChan)
		for {
			s.setReadDeadline()
			line, err := s.readCommand()

			// A running transfer keeps an otherwise idle session alive.
			if err != nil && isTimeout(err) && s.isBusy() {
				continue
			}

			select {
			case cmdChan <- command{line, err}:
			case <-done:
				return
			}

			if err != nil && !errors.Is(err, errCommandTooLong) {
				return
			}

			select {
			case <-s.cmdReqChan:
			case <-done:
				return
			}
		}
	}()
	return cmdChan
}

func (s *session) setReadDeadline() {
	timeout := s.server.maxIdleTime
	if s.server.readTimeout > 0 && (timeout == 0 || s.server.readTimeout < timeout) {
		timeout = s.server.readTimeout
	}
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
}

// readCommand reads one line, without its terminator. Bytes read before a
// timeout are kept for the next call. A line longer than MaxCommandLength
// is consumed up to its end and reported as errCommandTooLong.
func (s *session) readCommand() (string, error) {
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			line := string(s.partial)
			s.partial = s.partial[:0]
			if s.overflow {
				s.overflow = false
				return "", errCommandTooLong
			}
			return line, nil
		}
		if s.overflow {
			continue
		}
		if len(s.partial) >= MaxCommandLength {
			s.overflow = true
			continue
		}
		s.partial = append(s.partial, b)
	}
}

// parseCommand splits a command line into an upper-cased verb and its
// argument. The argument keeps inner and trailing spaces; only the line
// terminator is removed.
func parseCommand(line string) (verb, arg string) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

// handleCommand parses and dispatches a command.
func (s *session) handleCommand(line string) {
	verb, arg := parseCommand(line)
	if verb == "" {
		return
	}

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.logger.Debug("command_received", "user", s.user, "cmd", verb, "arg", logArg)

	if s.isBusy() && !busyCommands[verb] {
		s.reply(503, "Transfer in progress, please ABOR or wait.")
		return
	}

	// RNTO must immediately follow RNFR.
	if verb != "RNFR" && verb != "RNTO" {
		s.renameFrom = ""
	}

	spec, ok := commands[verb]
	if !ok || s.server.disabledCommands[verb] {
		s.reply(502, "Command not implemented.")
		return
	}
	if spec.auth && s.state != authenticated {
		s.reply(530, "Not logged in.")
		return
	}

	s.mu.Lock()
	s.lastCode = 0
	s.mu.Unlock()

	start := time.Now()
	spec.handle(s, arg)

	if s.server.metricsCollector != nil {
		s.mu.Lock()
		code := s.lastCode
		s.mu.Unlock()
		s.server.metricsCollector.RecordCommand(verb, code < 400, time.Since(start))
	}
}

// isBusy reports whether a transfer is running.
func (s *session) isBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// close aborts any transfer and releases the session's resources.
func (s *session) close() {
	s.abortTransfer()

	var result *multierror.Error
	if s.pasvList != nil {
		if err := s.pasvList.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		s.pasvList = nil
	}
	if s.fs != nil {
		if err := s.fs.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.fs = nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		s.logger.Debug("session_close_error", "user", s.user, "error", err)
	}
	s.logger.Info("session_closed", "user", s.user)
}

// reply sends a single-line reply from the command loop.
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	s.write("%d %s\r\n", code, message)
}

// replyLines sends a multi-line reply: "ddd-header", one indented line
// per body entry, then "ddd footer".
func (s *session) replyLines(code int, header string, body []string, footer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	var b strings.Builder
	fmt.Fprintf(&b, "%d-%s\r\n", code, header)
	for _, line := range body {
		fmt.Fprintf(&b, " %s\r\n", line)
	}
	fmt.Fprintf(&b, "%d %s\r\n", code, footer)
	s.write("%s", b.String())
}

// send writes a reply from a transfer goroutine. Unlike reply it leaves
// lastCode alone, which belongs to the command being dispatched.
func (s *session) send(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write("%d %s\r\n", code, message)
}

// write must be called with mu held.
func (s *session) write(format string, args ...any) {
	if s.server.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	fmt.Fprintf(s.writer, format, args...)
	if err := s.writer.Flush(); err != nil {
		s.logger.Debug("reply_write_error", "error", err)
	}
}

// quotePath renders a path for a 257 reply, doubling embedded quotes.
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
