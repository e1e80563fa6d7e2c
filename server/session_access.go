package server

import "net"

// handleUSER starts a new login. A logged-in user is logged out first.
func (s *session) handleUSER(user string) {
	if s.state == authenticated {
		s.logout()
	}
	s.user = user
	s.state = awaitingPass
	s.reply(331, "User name okay, need password.")
}

func (s *session) handlePASS(pass string) {
	if s.state != awaitingPass {
		s.reply(503, "Login with USER first.")
		return
	}

	ctx, err := s.server.driver.Authenticate(s.user, pass, s.host, net.ParseIP(s.remoteIP))
	if err != nil {
		// Security audit: failed authentication
		s.logger.Warn("authentication_failed",
			"user", s.user,
			"reason", err.Error(),
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.state = awaitingUser
		s.reply(530, "Login incorrect.")
		return
	}

	s.fs = ctx
	s.state = authenticated
	s.logger.Info("authentication_success", "user", s.user, "host", s.host)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.reply(230, "User logged in, proceed.")
}

// logout drops the file context and every per-login setting.
func (s *session) logout() {
	if s.fs != nil {
		if err := s.fs.Close(); err != nil {
			s.logger.Debug("context_close_error", "user", s.user, "error", err)
		}
		s.fs = nil
	}
	s.state = awaitingUser
	s.renameFrom = ""
	s.restartOffset = 0
}

// handleACCT is required by RFC 1123 but accounts are not used.
func (s *session) handleACCT(_ string) {
	s.reply(202, "Command not implemented, superfluous at this site.")
}

func (s *session) handleHOST(arg string) {
	if s.state == authenticated {
		s.reply(503, "Cannot change host after login.")
		return
	}
	if arg == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	s.host = arg
	s.reply(220, "Host accepted.")
}

// handleQUIT aborts a running transfer, then closes the session.
func (s *session) handleQUIT(_ string) {
	if s.isBusy() {
		s.abortTransfer()
	}
	s.reply(221, "Service closing control connection.")
	s.closing = true
}

func (s *session) handleNOOP(_ string) {
	s.reply(200, "OK.")
}
