package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gonzalop/ftpd/fsutil"
)

func (s *session) handleTYPE(arg string) {
	// Only ASCII (A) and Image (I) are supported; EBCDIC is refused.
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "A", "A N":
		s.transferType = typeASCII
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = typeBinary
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

// setActive records the address a transfer will dial. The address must be
// the client's own, which prevents FTP bounce attacks.
func (s *session) setActive(verb string, ip net.IP, port int) {
	if !ip.Equal(net.ParseIP(s.remoteIP)) {
		s.logger.Warn("active_mode_rejected", "user", s.user, "cmd", verb, "requested_ip", ip.String())
		s.reply(500, fmt.Sprintf("Illegal %s command.", verb))
		return
	}

	s.closePassive()
	s.activeAddr = net.JoinHostPort(ip.String(), strconv.Itoa(port))
	s.reply(200, verb+" command successful.")
}

func (s *session) handlePORT(arg string) {
	if s.epsvAll {
		s.reply(503, "PORT not allowed after EPSV ALL.")
		return
	}

	// Format: h1,h2,h3,h4,p1,p2
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}

	ip := net.ParseIP(strings.Join(parts[:4], "."))
	if ip == nil || ip.To4() == nil {
		s.reply(501, "Invalid IP address.")
		return
	}

	s.setActive("PORT", ip, p1*256+p2)
}

func (s *session) handleEPRT(arg string) {
	if s.epsvAll {
		s.reply(503, "EPRT not allowed after EPSV ALL.")
		return
	}
	if len(arg) < 4 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	// <d><proto><d><ip><d><port><d> splits into ["", proto, ip, port, ""].
	parts := strings.Split(arg, arg[:1])
	if len(parts) != 5 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	proto, ipStr, portStr := parts[1], parts[2], parts[3]

	if proto != "1" && proto != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		s.reply(501, "Invalid network address.")
		return
	}
	if proto == "1" && ip.To4() == nil {
		s.reply(522, "Network protocol not supported, use (2).")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		s.reply(501, "Invalid port number.")
		return
	}

	s.setActive("EPRT", ip, port)
}

// listenPassive opens a listener on the control connection's local IP,
// inside the configured port range when there is one.
func (s *session) listenPassive() (net.Listener, error) {
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())

	settings := s.fs.GetSettings()
	if settings != nil && settings.PasvMinPort > 0 && settings.PasvMaxPort >= settings.PasvMinPort {
		minPort := settings.PasvMinPort
		maxPort := settings.PasvMaxPort
		rangeLen := int32(maxPort - minPort + 1)

		// Round-robin start so concurrent sessions spread over the range.
		startOffset := s.server.nextPassivePort.Add(1)

		for i := int32(0); i < rangeLen; i++ {
			offset := (startOffset + i) % rangeLen
			if offset < 0 {
				offset += rangeLen
			}
			port := int(int32(minPort) + offset)

			ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
	}
	return net.Listen("tcp", net.JoinHostPort(host, "0"))
}

// openPassive replaces any pending endpoint with a fresh listener and
// returns its port.
func (s *session) openPassive() (int, bool) {
	s.closePassive()
	s.activeAddr = ""

	ln, err := s.listenPassive()
	if err != nil {
		s.logger.Warn("passive_listen_failed", "user", s.user, "error", err)
		s.reply(425, "Can't open passive connection.")
		return 0, false
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port, true
}

// closePassive closes a passive listener no transfer has claimed. It
// reports whether there was one.
func (s *session) closePassive() bool {
	if s.pasvList == nil {
		return false
	}
	s.pasvList.Close()
	s.pasvList = nil
	return true
}

// passiveIP is the IPv4 address advertised in a 227 reply.
func (s *session) passiveIP() net.IP {
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())

	settings := s.fs.GetSettings()
	if settings != nil && settings.PublicHost != "" {
		host = settings.PublicHost
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if host == s.lastPublicHost && s.resolvedIP != nil {
			return s.resolvedIP
		}
		addrs, err := net.LookupIP(host)
		if err != nil {
			s.logger.Warn("public_host_lookup_failed", "host", host, "error", err)
		}
		for _, addr := range addrs {
			if v4 := addr.To4(); v4 != nil {
				s.lastPublicHost = host
				s.resolvedIP = v4
				return v4
			}
		}
		return nil
	}
	return ip.To4()
}

func (s *session) handlePASV(_ string) {
	if s.epsvAll {
		s.reply(503, "PASV not allowed after EPSV ALL.")
		return
	}

	port, ok := s.openPassive()
	if !ok {
		return
	}

	ip := s.passiveIP()
	if ip == nil {
		// An IPv6 control connection has no PASV form.
		ip = net.IPv4zero.To4()
	}

	arg := fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256)
	s.reply(227, "Entering Passive Mode ("+arg+").")
}

func (s *session) handleEPSV(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "ALL":
		s.epsvAll = true
		s.reply(200, "EPSV ALL command successful.")
		return
	case "", "1", "2":
	default:
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}

	port, ok := s.openPassive()
	if !ok {
		return
	}
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// absPath is the virtual path of p as shown in logs and replies.
func (s *session) absPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	cwd, err := s.fs.GetWd()
	if err != nil {
		cwd = "/"
	}
	return path.Join(cwd, p)
}

// requireEndpoint answers 425 when no data endpoint was prepared. The
// restart offset is dropped along with the command.
func (s *session) requireEndpoint() bool {
	if !s.hasEndpoint() {
		s.restartOffset = 0
		s.reply(425, "Use PORT or PASV first.")
		return false
	}
	return true
}

// openTransferFile opens p for a transfer and positions it at the restart
// offset. On failure it replies and clears the offset.
func (s *session) openTransferFile(p string, flag int, seek bool) (*fsutil.File, bool) {
	af, err := s.fs.OpenFile(p, flag)
	if err != nil {
		s.restartOffset = 0
		s.replyError(err)
		return nil, false
	}

	f := fsutil.NewFile()
	if err := f.SetBufferSize(chunkSize); err != nil {
		af.Close()
		s.restartOffset = 0
		s.replyError(err)
		return nil, false
	}
	f.Attach(af)

	if seek && s.restartOffset > 0 {
		if _, err := f.Seek(s.restartOffset, io.SeekStart); err != nil {
			f.Close()
			s.restartOffset = 0
			s.reply(550, "Could not seek to restart offset.")
			return nil, false
		}
	}
	return f, true
}

func (s *session) handleRETR(p string) {
	if p == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if !s.requireEndpoint() {
		return
	}

	f, ok := s.openTransferFile(p, os.O_RDONLY, true)
	if !ok {
		return
	}

	job := s.newJob("RETR", s.absPath(p), download)
	job.file = f
	s.logger.Info("download_started", "user", s.user, "path", job.path, "offset", job.offset)
	s.startTransfer(job)
}

func (s *session) handleSTOR(p string) {
	if p == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	s.store("STOR", p)
}

func (s *session) handleAPPE(p string) {
	if p == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	s.store("APPE", p)
}

func (s *session) handleSTOU(_ string) {
	s.store("STOU", "ftp-"+uuid.NewString())
}

// store starts an upload. STOR with a restart offset overwrites from that
// offset on; APPE appends.
func (s *session) store(verb, p string) {
	if !s.requireEndpoint() {
		return
	}

	var flag int
	seek := false
	switch {
	case verb == "APPE":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		s.restartOffset = 0
	case verb == "STOU":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		s.restartOffset = 0
	case s.restartOffset > 0:
		flag = os.O_WRONLY | os.O_CREATE
		seek = true
	default:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, ok := s.openTransferFile(p, flag, seek)
	if !ok {
		return
	}

	job := s.newJob(verb, s.absPath(p), upload)
	job.file = f
	job.unique = verb == "STOU"
	s.logger.Info("upload_started", "user", s.user, "cmd", verb, "path", job.path, "offset", job.offset)
	s.startTransfer(job)
}

// listingPath drops leading ls-style options such as "-la" that many
// clients send with LIST and NLST.
func listingPath(arg string) string {
	arg = strings.TrimSpace(arg)
	for strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = strings.TrimSpace(rest)
	}
	return arg
}

func (s *session) handleLIST(arg string) {
	s.list("LIST", listingPath(arg), listLong)
}

func (s *session) handleNLST(arg string) {
	s.list("NLST", listingPath(arg), listNames)
}

func (s *session) handleMLSD(arg string) {
	if s.server.disableMLSD {
		s.reply(502, "Command not implemented.")
		return
	}
	s.list("MLSD", strings.TrimSpace(arg), listFacts)
}

// list starts a directory listing. LIST and NLST of a file list that file
// alone; MLSD of a file is an error.
func (s *session) list(verb, p string, format listFormat) {
	if !s.requireEndpoint() {
		return
	}
	if p == "" {
		p = "."
	}

	info, err := s.fs.GetFileInfo(p)
	if err != nil {
		s.restartOffset = 0
		s.replyError(err)
		return
	}

	job := s.newJob(verb, s.absPath(p), listing)
	job.format = format

	if info.IsDir() {
		d, err := s.fs.OpenDir(p)
		if err != nil {
			s.restartOffset = 0
			s.replyError(err)
			return
		}
		job.listing = d
	} else {
		if format == listFacts {
			s.restartOffset = 0
			s.reply(501, "Not a directory.")
			return
		}
		job.entry = info
	}

	s.logger.Debug("listing_started", "user", s.user, "cmd", verb, "path", job.path)
	s.startTransfer(job)
}

// handleABOR interrupts a transfer, whose own 426 reply comes first. An
// idle ABOR also discards a pending passive listener.
func (s *session) handleABOR(_ string) {
	if s.abortTransfer() {
		s.reply(226, "ABOR command successful; transfer aborted.")
		return
	}
	if s.closePassive() {
		s.reply(225, "ABOR command successful; data connection closed.")
		return
	}
	s.reply(226, "ABOR command successful.")
}
