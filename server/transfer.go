package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/gonzalop/ftpd/fsutil"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

const (
	// chunkSize is the unit data is moved in.
	chunkSize = 64 * 1024

	// dataConnTimeout bounds the wait for a data connection.
	dataConnTimeout = 10 * time.Second
)

var (
	errNoDataConn = errors.New("cannot open data connection")
	errDataConn   = errors.New("data connection failure")
	errLocalIO    = errors.New("local file failure")
)

// direction is what a transfer job moves.
type direction int

const (
	download direction = iota
	upload
	listing
)

// dataEndpoint is where a job gets its data connection from: a passive
// listener to accept on, or an active address to dial.
type dataEndpoint struct {
	listener net.Listener
	addr     string
}

// transferJob is one data transfer. Its source or destination is opened by
// the command handler; the job owns and closes it.
type transferJob struct {
	verb    string
	path    string
	user    string
	host    string
	dir     direction
	format  listFormat
	offset  int64
	ascii   bool
	deflate bool
	level   int
	unique  bool // STOU: the 150 reply names the file

	file    *fsutil.File
	listing *fsutil.Dir
	entry   os.FileInfo // LIST of a single file

	ep    dataEndpoint
	start time.Time
	bytes atomic.Int64
}

// newJob captures the session's transfer parameters.
func (s *session) newJob(verb, name string, dir direction) *transferJob {
	return &transferJob{
		verb:    verb,
		path:    name,
		user:    s.user,
		host:    s.host,
		dir:     dir,
		offset:  s.restartOffset,
		ascii:   s.transferType == typeASCII && dir != listing,
		deflate: s.transferMode == modeDeflate,
		level:   s.deflateLevel,
	}
}

// openingMessage is the text of the 150 reply.
func (j *transferJob) openingMessage() string {
	if j.unique {
		return "FILE: " + path.Base(j.path)
	}
	kind := "BINARY"
	if j.ascii || j.dir == listing {
		kind = "ASCII"
	}
	msg := fmt.Sprintf("Opening %s mode data connection", kind)
	if j.path != "" {
		msg += " for " + j.path
	}
	if j.offset > 0 && j.dir != listing {
		msg += fmt.Sprintf(", restarting at %d", j.offset)
	}
	if j.deflate {
		msg += fmt.Sprintf(", MODE Z level %d", j.level)
	}
	return msg + "."
}

// closeSource closes the job's file or directory handle.
func (j *transferJob) closeSource() error {
	var err error
	if j.file != nil {
		err = j.file.Close()
		j.file = nil
	}
	if j.listing != nil {
		if cerr := j.listing.Close(); err == nil {
			err = cerr
		}
		j.listing = nil
	}
	return err
}

// hasEndpoint reports whether PASV, EPSV, PORT or EPRT prepared a data
// connection.
func (s *session) hasEndpoint() bool {
	return s.pasvList != nil || s.activeAddr != ""
}

// takeEndpoint hands the pending data endpoint over to a job.
func (s *session) takeEndpoint() dataEndpoint {
	ep := dataEndpoint{listener: s.pasvList, addr: s.activeAddr}
	s.pasvList = nil
	s.activeAddr = ""
	return ep
}

// startTransfer replies 150 and runs job on its own goroutine. The restart
// offset is consumed.
func (s *session) startTransfer(job *transferJob) {
	job.ep = s.takeEndpoint()
	job.start = time.Now()
	s.restartOffset = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.busy = true
	s.job = job
	s.cancel = cancel
	s.done = done
	s.lastCode = 150
	s.write("150 %s\r\n", job.openingMessage())
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := s.transfer(ctx, job)
		s.finishTransfer(ctx, job, err)
	}()
}

// transfer connects and moves the data.
func (s *session) transfer(ctx context.Context, job *transferJob) error {
	conn, err := s.openDataConn(ctx, job.ep)
	if err != nil {
		job.closeSource()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", errNoDataConn, err)
	}

	s.mu.Lock()
	s.dataConn = conn
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		conn.Close()
		job.closeSource()
		return err
	}

	dc := &timeoutConn{Conn: conn, read: s.server.readTimeout, write: s.server.writeTimeout}
	switch job.dir {
	case download:
		err = job.sendFile(ctx, ratelimit.NewWriter(ctx, dc, s.server.bandwidth, s.bandwidth))
	case upload:
		err = job.receiveFile(ctx, ratelimit.NewReader(ctx, dc, s.server.bandwidth, s.bandwidth))
	default:
		err = job.sendListing(ctx, dc, s.server.modTimes)
	}

	if cerr := conn.Close(); err == nil && cerr != nil && job.dir != upload {
		err = fmt.Errorf("%w: %w", errDataConn, cerr)
	}
	if cerr := job.closeSource(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", errLocalIO, cerr)
	}
	return err
}

// openDataConn accepts on the passive listener or dials the active
// address, giving up after dataConnTimeout or when ctx is cancelled.
func (s *session) openDataConn(ctx context.Context, ep dataEndpoint) (net.Conn, error) {
	var conn net.Conn

	switch {
	case ep.listener != nil:
		defer ep.listener.Close()
		stop := context.AfterFunc(ctx, func() { ep.listener.Close() })
		defer stop()

		if tl, ok := ep.listener.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(dataConnTimeout))
		}
		s.logger.Debug("waiting_for_passive_connection", "addr", ep.listener.Addr().String())
		c, err := ep.listener.Accept()
		if err != nil {
			return nil, err
		}
		conn = c

	case ep.addr != "":
		s.logger.Debug("dialing_active_connection", "addr", ep.addr)
		d := net.Dialer{Timeout: dataConnTimeout}
		c, err := d.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			return nil, err
		}
		conn = c

	default:
		return nil, errors.New("no data connection setup")
	}

	if !s.server.trackConnection(conn, true) {
		conn.Close()
		return nil, ErrServerClosed
	}
	return &trackingConn{Conn: conn, server: s.server}, nil
}

// sendFile streams the file to w: file, then LF to CRLF for TYPE A, then
// deflate for MODE Z.
func (j *transferJob) sendFile(ctx context.Context, w io.Writer) error {
	var src io.Reader = j.file
	if j.ascii {
		src = newASCIIEncoder(src)
	}

	dst := w
	var zw *zlib.Writer
	if j.deflate {
		var err error
		zw, err = zlib.NewWriterLevel(w, j.level)
		if err != nil {
			return fmt.Errorf("%w: %w", errLocalIO, err)
		}
		dst = zw
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := writeAll(dst, buf[:n]); err != nil {
				return fmt.Errorf("%w: %w", errDataConn, err)
			}
			j.bytes.Add(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: %w", errLocalIO, rerr)
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("%w: %w", errDataConn, err)
		}
	}
	return nil
}

// receiveFile stores what arrives on r: inflate for MODE Z, then CRLF to
// LF for TYPE A, then the file. An aborted upload leaves what was written.
func (j *transferJob) receiveFile(ctx context.Context, r io.Reader) error {
	src := r
	if j.deflate {
		zr, err := zlib.NewReader(r)
		if err == io.EOF {
			return j.flush()
		}
		if err != nil {
			return fmt.Errorf("%w: %w", errDataConn, err)
		}
		defer zr.Close()
		src = zr
	}
	if j.ascii {
		src = newASCIIDecoder(src)
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			j.flush()
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := j.file.WriteAll(buf[:n]); err != nil {
				return fmt.Errorf("%w: %w", errLocalIO, err)
			}
			j.bytes.Add(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			j.flush()
			return fmt.Errorf("%w: %w", errDataConn, rerr)
		}
	}
	return j.flush()
}

func (j *transferJob) flush() error {
	if err := j.file.Flush(); err != nil {
		return fmt.Errorf("%w: %w", errLocalIO, err)
	}
	return nil
}

// sendListing writes the directory entries (or the single entry of a
// LIST on a file) to w, deflated for MODE Z.
func (j *transferJob) sendListing(ctx context.Context, w io.Writer, modTimes bool) error {
	dst := w
	var zw *zlib.Writer
	if j.deflate {
		var err error
		zw, err = zlib.NewWriterLevel(w, j.level)
		if err != nil {
			return fmt.Errorf("%w: %w", errLocalIO, err)
		}
		dst = zw
	}
	bw := bufio.NewWriterSize(dst, chunkSize)

	now := time.Now()
	emit := func(info os.FileInfo) error {
		line := formatEntry(j.format, info, now, modTimes)
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("%w: %w", errDataConn, err)
		}
		j.bytes.Add(int64(len(line)))
		return nil
	}

	if j.entry != nil {
		if err := emit(j.entry); err != nil {
			return err
		}
	} else {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := j.listing.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: %w", errLocalIO, err)
			}
			if err := emit(info); err != nil {
				return err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", errDataConn, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("%w: %w", errDataConn, err)
		}
	}
	return nil
}

// finishTransfer sends the final reply and clears the busy state. Both
// happen under mu, so no command sees the session idle before the reply
// went out.
func (s *session) finishTransfer(ctx context.Context, job *transferJob, err error) {
	duration := time.Since(job.start)
	n := job.bytes.Load()
	aborted := err != nil && ctx.Err() != nil

	var code int
	var msg string
	switch {
	case err == nil:
		code, msg = 226, job.summary(n)
	case aborted:
		code, msg = 426, "Connection closed; transfer aborted."
	case errors.Is(err, errNoDataConn):
		code, msg = 425, "Can't open data connection."
	case errors.Is(err, errLocalIO):
		code, msg = 451, "Requested action aborted: local error in processing."
	default:
		code, msg = 426, "Connection closed; transfer aborted."
	}

	s.mu.Lock()
	cancel := s.cancel
	s.busy = false
	s.job = nil
	s.dataConn = nil
	s.cancel = nil
	s.write("%d %s\r\n", code, msg)
	s.mu.Unlock()
	cancel()

	switch {
	case err == nil:
		throughputMBps := float64(0)
		if duration.Seconds() > 0 {
			throughputMBps = float64(n) / duration.Seconds() / 1024 / 1024
		}
		s.logger.Info("transfer_complete",
			"user", job.user,
			"host", job.host,
			"operation", job.verb,
			"path", job.path,
			"bytes", n,
			"deflate", job.deflate,
			"duration_ms", duration.Milliseconds(),
			"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordTransfer(job.verb, n, duration)
		}
	case aborted:
		s.logger.Info("transfer_aborted",
			"user", job.user,
			"operation", job.verb,
			"path", job.path,
			"bytes", n,
		)
	default:
		s.logger.Warn("transfer_failed",
			"user", job.user,
			"operation", job.verb,
			"path", job.path,
			"bytes", n,
			"error", err,
		)
	}

	if job.dir != listing && !errors.Is(err, errNoDataConn) {
		s.logTransfer(job, n, duration, err == nil)
	}
}

// summary is the text of the 226 reply.
func (j *transferJob) summary(n int64) string {
	if j.dir == listing {
		return fmt.Sprintf("Directory send OK (%s).", fsutil.PrintSize(uint64(n)))
	}
	return fmt.Sprintf("Transfer complete, %s in %s.", fsutil.PrintSize(uint64(n)), time.Since(j.start).Round(time.Millisecond))
}

// abortTransfer interrupts the running transfer and waits until it has
// sent its final reply. It reports whether a transfer was running.
func (s *session) abortTransfer() bool {
	s.mu.Lock()
	if !s.busy {
		s.mu.Unlock()
		return false
	}
	job := s.job
	done := s.done
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Info("transfer_abort_requested", "user", job.user, "operation", job.verb, "path", job.path)
	<-done
	return true
}

// writeAll writes p completely; a short write without an error is
// reported as io.ErrShortWrite.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// timeoutConn applies per-operation deadlines to a data connection.
type timeoutConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.read))
	}
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	}
	return c.Conn.Write(p)
}
