package server

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gonzalop/ftpd/fsutil"
)

// handleMODE handles the MODE command. Stream is the RFC 1123 default;
// Z is deflate compression of the data connection.
func (s *session) handleMODE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		s.transferMode = modeStream
		s.reply(200, "Mode set to Stream.")
	case "Z":
		s.transferMode = modeDeflate
		s.reply(200, "Mode set to Z.")
	case "B":
		s.reply(504, "Block mode not implemented.")
	case "C":
		s.reply(504, "Compressed mode not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

// handleSTRU handles the STRU command.
// RFC 1123 requires File structure support.
func (s *session) handleSTRU(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		s.reply(200, "Structure set to File.")
	case "R":
		s.reply(504, "Record structure not implemented.")
	case "P":
		s.reply(504, "Page structure not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

// handleALLO: no storage needs to be reserved ahead of STOR.
func (s *session) handleALLO(_ string) {
	s.reply(202, "No storage allocation necessary.")
}

func (s *session) handleSYST(_ string) {
	s.reply(215, s.server.serverName)
}

// handleSTAT reports the session status, or the progress of the running
// transfer.
func (s *session) handleSTAT(arg string) {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()

	if job != nil {
		n := job.bytes.Load()
		s.replyLines(213, "Status:", []string{
			fmt.Sprintf("%s %s in progress", job.verb, job.path),
			fmt.Sprintf("%s transferred", fsutil.PrintSize(uint64(n))),
		}, "End of status")
		return
	}

	if arg != "" {
		s.reply(502, "STAT with path not implemented. Use LIST instead.")
		return
	}

	var lines []string
	if s.state == authenticated {
		lines = append(lines, "Logged in as "+s.user)
	} else {
		lines = append(lines, "Not logged in")
	}

	typ := "BINARY"
	if s.transferType == typeASCII {
		typ = "ASCII"
	}
	mode := "Stream"
	if s.transferMode == modeDeflate {
		mode = fmt.Sprintf("Z (level %d)", s.deflateLevel)
	}
	lines = append(lines, fmt.Sprintf("TYPE: %s; STRUcture: File; transfer MODE: %s", typ, mode))

	switch {
	case s.pasvList != nil:
		lines = append(lines, "Passive mode: "+s.pasvList.Addr().String())
	case s.activeAddr != "":
		lines = append(lines, "Active mode: "+s.activeAddr)
	}
	if s.restartOffset > 0 {
		lines = append(lines, fmt.Sprintf("Restart offset: %d", s.restartOffset))
	}

	s.replyLines(211, "Status:", lines, "End of status")
}

func (s *session) handleHELP(arg string) {
	if arg != "" {
		verb := strings.ToUpper(strings.TrimSpace(arg))
		for _, line := range helpLines {
			if slices.Contains(strings.Fields(line), verb) && !s.server.disabledCommands[verb] {
				s.reply(214, fmt.Sprintf("%s is supported.", verb))
				return
			}
		}
		s.reply(502, fmt.Sprintf("Unknown command %s.", verb))
		return
	}
	s.replyLines(214, "The following commands are recognized:", helpLines, "Help OK.")
}

// handleSITE handles the SITE command.
func (s *session) handleSITE(arg string) {
	parts := strings.Fields(arg)
	if len(parts) == 0 {
		s.reply(501, "SITE command requires parameters.")
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "HELP":
		s.reply(214, "Available SITE commands: HELP, CHMOD")
	case "CHMOD":
		// SITE CHMOD <mode> <file>
		if len(parts) < 3 {
			s.reply(501, "Syntax error in parameters or arguments.")
			return
		}

		mode, err := strconv.ParseUint(parts[1], 8, 32)
		if err != nil {
			s.reply(501, "Invalid mode.")
			return
		}
		if mode > 0777 {
			s.reply(501, "Invalid mode: special bits not allowed.")
			return
		}

		p := strings.Join(parts[2:], " ")
		if err := s.fs.Chmod(p, os.FileMode(mode)); err != nil {
			s.replyError(err)
			return
		}
		s.logger.Info("mode_changed", "user", s.user, "path", s.absPath(p), "mode", fmt.Sprintf("%04o", mode))
		s.reply(200, "SITE CHMOD command successful.")
	default:
		s.reply(502, "SITE command not implemented.")
	}
}
