package server

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// timeFormat is the RFC 3659 time-val, always UTC.
const timeFormat = "20060102150405"

// hashAlgorithms are the HASH algorithms, the first one being the default.
var hashAlgorithms = []string{"SHA-256", "SHA-512", "SHA-1", "MD5", "CRC32"}

// handleSIZE reports the stored size. In TYPE A the transferred size may
// differ; the stored size is reported all the same.
func (s *session) handleSIZE(p string) {
	info, err := s.fs.GetFileInfo(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Not a regular file.")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

func (s *session) handleMDTM(p string) {
	if !s.server.modTimes {
		s.reply(550, "Modification times are not available.")
		return
	}

	info, err := s.fs.GetFileInfo(p)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, info.ModTime().UTC().Format(timeFormat))
}

func (s *session) handleMLST(arg string) {
	p := strings.TrimSpace(arg)
	if p == "" {
		p = "."
	}

	info, err := s.fs.GetFileInfo(p)
	if err != nil {
		s.replyError(err)
		return
	}

	entry := formatFacts(info, s.server.modTimes) + " " + s.absPath(p)
	s.replyLines(250, "Listing "+s.absPath(p), []string{entry}, "End")
}

func (s *session) handleHASH(p string) {
	if p == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	sum, err := s.fs.GetHash(p, s.selectedHash)
	if err != nil {
		if err == errUnsupportedHash {
			s.reply(504, "Hash algorithm not supported.")
			return
		}
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("%s %s %s", s.selectedHash, sum, p))
}

func (s *session) handleMFMT(arg string) {
	timeStr, p, ok := strings.Cut(arg, " ")
	if !ok || p == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	t, err := time.Parse(timeFormat, timeStr)
	if err != nil {
		s.reply(501, "Invalid time format.")
		return
	}

	if err := s.fs.SetTime(p, t); err != nil {
		s.replyError(err)
		return
	}
	s.logger.Info("mtime_changed", "user", s.user, "path", s.absPath(p), "mtime", t)
	s.reply(213, fmt.Sprintf("Modify=%s; %s", timeStr, p))
}

// features is the body of the FEAT reply.
func (s *session) features() []string {
	features := []string{"SIZE"}
	if s.server.modTimes {
		features = append(features, "MDTM")
	}
	features = append(features,
		"REST STREAM",
		"PASV",
		"EPSV",
		"EPRT",
		"UTF8",
		"TVFS",
		factNames(s.server.modTimes),
	)
	if !s.server.disableMLSD {
		features = append(features, "MLSD")
	}
	features = append(features,
		"MODE Z",
		"HOST",
		"HASH "+strings.Join(hashAlgorithms, ";"),
		"MFMT",
	)
	// Disabled verbs are not advertised.
	return slices.DeleteFunc(features, func(f string) bool {
		verb, _, _ := strings.Cut(f, " ")
		return s.server.disabledCommands[verb]
	})
}

func (s *session) handleFEAT(_ string) {
	s.replyLines(211, "Features:", s.features(), "End")
}

func (s *session) handleOPTS(arg string) {
	fields := strings.Fields(strings.ToUpper(arg))
	if len(fields) == 0 {
		s.reply(501, "Option not understood.")
		return
	}

	switch fields[0] {
	case "UTF8":
		if len(fields) == 2 && fields[1] == "ON" {
			s.reply(200, "Always in UTF8 mode.")
			return
		}
	case "MODE":
		if len(fields) >= 2 && fields[1] == "Z" {
			s.optsModeZ(fields[2:])
			return
		}
	case "HASH":
		if len(fields) == 1 {
			s.reply(200, s.selectedHash)
			return
		}
		for _, algo := range hashAlgorithms {
			if fields[1] == algo {
				s.selectedHash = algo
				s.reply(200, algo)
				return
			}
		}
		s.reply(501, "Hash algorithm not supported.")
		return
	}
	s.reply(501, "Option not understood.")
}

// optsModeZ handles "OPTS MODE Z [LEVEL n | LEVEL=n]". The level may not
// exceed the server's configured level.
func (s *session) optsModeZ(args []string) {
	var value string
	switch {
	case len(args) == 0:
		s.reply(200, fmt.Sprintf("MODE Z LEVEL is %d.", s.deflateLevel))
		return
	case len(args) == 1 && strings.HasPrefix(args[0], "LEVEL="):
		value = strings.TrimPrefix(args[0], "LEVEL=")
	case len(args) == 2 && args[0] == "LEVEL":
		value = args[1]
	default:
		s.reply(501, "Option not understood.")
		return
	}

	level, err := strconv.Atoi(value)
	if err != nil || level < 0 || level > s.server.deflateLevel {
		s.reply(501, fmt.Sprintf("MODE Z LEVEL must be between 0 and %d.", s.server.deflateLevel))
		return
	}
	s.deflateLevel = level
	s.reply(200, fmt.Sprintf("MODE Z LEVEL set to %d.", level))
}
