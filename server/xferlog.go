package server

import (
	"fmt"
	"time"
)

// logTransfer writes one line in the wu-ftpd xferlog format:
//
//	current-time transfer-time remote-host file-size filename transfer-type
//	special-action-flag direction access-mode username service-name
//	authentication-method authenticated-user-id completion-status
func (s *session) logTransfer(job *transferJob, bytes int64, duration time.Duration, complete bool) {
	if s.server.transferLog == nil {
		return
	}

	transferTime := int64(duration.Seconds())
	if transferTime == 0 {
		transferTime = 1
	}

	// a (ascii), b (binary)
	tType := "b"
	if job.ascii {
		tType = "a"
	}

	// _ (none), C (compressed)
	actionFlag := "_"
	if job.deflate {
		actionFlag = "C"
	}

	// o (outgoing), i (incoming)
	dir := "o"
	if job.dir == upload {
		dir = "i"
	}

	// a (anonymous), r (real user)
	accessMode := "r"
	if job.user == "anonymous" || job.user == "ftp" {
		accessMode = "a"
	}

	// c (complete), i (incomplete)
	status := "c"
	if !complete {
		status = "i"
	}

	// Mon Dec 25 15:04:05 2025 1 127.0.0.1 1024 /file.txt b _ o a anonymous ftp 0 * c
	line := fmt.Sprintf("%s %d %s %d %s %s %s %s %s %s ftp 0 * %s\n",
		time.Now().Format("Mon Jan _2 15:04:05 2006"),
		transferTime,
		s.remoteIP,
		bytes,
		job.path,
		tType,
		actionFlag,
		dir,
		accessMode,
		job.user,
		status,
	)

	s.server.transferLogMu.Lock()
	defer s.server.transferLogMu.Unlock()
	if _, err := s.server.transferLog.Write([]byte(line)); err != nil {
		s.logger.Debug("transfer_log_error", "error", err)
	}
}
