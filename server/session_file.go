package server

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// replyError answers a failed file operation.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, fs.ErrPermission):
		s.reply(550, "Permission denied.")
	case errors.Is(err, fs.ErrExist):
		s.reply(550, "File already exists.")
	case errors.Is(err, errNotDirectory):
		s.reply(550, "Not a directory.")
	case errors.Is(err, errDirNotEmpty):
		s.reply(550, "Directory not empty.")
	default:
		s.reply(550, "Requested action not taken.")
	}
}

func (s *session) handlePWD(_ string) {
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, quotePath(cwd)+" is the current directory.")
}

func (s *session) handleCWD(path string) {
	if path == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}

	if s.server.enableDirMessage {
		if msg := s.readDirMessage(); len(msg) > 0 {
			s.replyLines(250, "Message:", msg, "Directory successfully changed.")
			return
		}
	}
	s.reply(250, "Directory successfully changed.")
}

// readDirMessage returns the lines of .message in the working directory,
// reading at most 2 KiB.
func (s *session) readDirMessage() []string {
	f, err := s.fs.OpenFile(".message", os.O_RDONLY)
	if err != nil {
		return nil
	}
	defer f.Close()

	b, _ := io.ReadAll(io.LimitReader(f, 2048))
	msg := strings.TrimRight(string(b), "\r\n")
	if msg == "" {
		return nil
	}
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

func (s *session) handleMKD(path string) {
	if path == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: directory created
	s.logger.Info("directory_created", "user", s.user, "host", s.host, "path", path)
	s.reply(257, quotePath(path)+" created.")
}

func (s *session) handleRMD(path string) {
	if path == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: directory removed
	s.logger.Info("directory_removed", "user", s.user, "host", s.host, "path", path)
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(path string) {
	if path == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: file deleted
	s.logger.Info("file_deleted", "user", s.user, "host", s.host, "path", path)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""

	if err := s.fs.Rename(from, path); err != nil {
		s.replyError(err)
		return
	}
	s.logger.Info("file_renamed", "user", s.user, "host", s.host, "from", from, "to", path)
	s.reply(250, "Requested file action successful, file renamed.")
}
