// Package server implements an FTP server (RFC 959, RFC 3659) with MODE Z
// deflate transfers.
//
// # Getting Started
//
// The FSDriver serves a local directory:
//
//	driver, err := server.NewFSDriver("/srv/ftp",
//	    server.WithCredentials("alice", "secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s, err := server.NewServer(":2121", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// Any afero.Fs works as a backend, which is how the tests run against
// memory:
//
//	driver, _ := server.NewFSDriverFs(afero.NewMemMapFs(), "/")
//
// # Configuration File
//
// The config package reads the key=value file (user, pass, port,
// deflateLevel, mtime). WithConfig applies it:
//
//	cfg := config.Load(afero.NewOsFs(), "/etc/ftpd.conf")
//	s, _ := server.NewServer(fmt.Sprintf(":%d", cfg.Port()),
//	    server.WithDriver(driver),
//	    server.WithConfig(cfg),
//	)
//
// # Transfers
//
// Every RETR, STOR, APPE, STOU, LIST, NLST and MLSD runs on its own
// goroutine once its file or directory is open. The control connection
// keeps being read meanwhile, so ABOR, STAT, QUIT and NOOP are answered
// during a transfer; anything else gets 503.
//
// MODE Z compresses the data connection with zlib. OPTS MODE Z LEVEL n
// picks a level between 0 and the server's configured level.
//
// # Authentication Patterns
//
// Anonymous-only access is the FSDriver default:
//
//	driver, _ := server.NewFSDriver("/srv/ftp")
//	// "anonymous" and "ftp" get read-only access
//
// Per-user roots:
//
//	driver, _ := server.NewFSDriver("/srv/ftp",
//	    server.WithAuthenticator(func(user, pass, host string, ip net.IP) (string, bool, error) {
//	        if !isValidUser(user, pass) {
//	            return "", false, os.ErrPermission
//	        }
//	        return "/" + user, user == "guest", nil
//	    }),
//	)
//
// # Passive Mode Configuration
//
// Behind NAT, advertise the public address and pin the port range:
//
//	driver, _ := server.NewFSDriver("/srv/ftp",
//	    server.WithSettings(&server.Settings{
//	        PublicHost:  "ftp.example.com",
//	        PasvMinPort: 30000,
//	        PasvMaxPort: 30100,
//	    }),
//	)
//
// # Server Configuration
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 5),
//	    server.WithMaxIdleTime(10*time.Minute),
//	    server.WithTransferLog(xferlog),
//	    server.WithLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil))),
//	)
//
// Shutdown closes the listener and every connection, then waits for the
// sessions to finish:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	s.Shutdown(ctx)
package server
