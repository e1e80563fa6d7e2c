// Command ftpd serves a directory over FTP.
//
// Settings come from a key=value file (user, pass, port, deflateLevel,
// mtime); flags override the listen address and add limits.
//
//	ftpd -config ftpd.conf -root /srv/ftp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/server"
)

func main() {
	configPath := flag.String("config", "ftpd.conf", "configuration file")
	root := flag.String("root", ".", "directory to serve")
	addr := flag.String("addr", "", "listen address (default: all interfaces on the configured port)")
	debug := flag.Bool("debug", false, "log every command")
	writeConfig := flag.Bool("write-config", false, "write the effective configuration back to -config and exit")
	pasvPorts := flag.String("pasv-ports", "", "passive port range, e.g. 50000-50100")
	publicHost := flag.String("public-host", "", "address advertised in PASV replies")
	bandwidth := flag.Int64("bandwidth", 0, "total transfer limit in bytes per second (0: unlimited)")
	sessionBandwidth := flag.Int64("session-bandwidth", 0, "per-session transfer limit in bytes per second (0: unlimited)")
	maxConns := flag.Int("max-conns", 0, "maximum concurrent sessions (0: unlimited)")
	maxConnsPerIP := flag.Int("max-conns-per-ip", 0, "maximum concurrent sessions per client address (0: unlimited)")
	xferlog := flag.String("xferlog", "", "append an xferlog line per transfer to this file")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, options{
		configPath:       *configPath,
		root:             *root,
		addr:             *addr,
		writeConfig:      *writeConfig,
		pasvPorts:        *pasvPorts,
		publicHost:       *publicHost,
		bandwidth:        *bandwidth,
		sessionBandwidth: *sessionBandwidth,
		maxConns:         *maxConns,
		maxConnsPerIP:    *maxConnsPerIP,
		xferlog:          *xferlog,
	}); err != nil {
		logger.Error("ftpd_failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath       string
	root             string
	addr             string
	writeConfig      bool
	pasvPorts        string
	publicHost       string
	bandwidth        int64
	sessionBandwidth int64
	maxConns         int
	maxConnsPerIP    int
	xferlog          string
}

func run(logger *slog.Logger, opts options) error {
	osFs := afero.NewOsFs()
	cfg := config.Load(osFs, opts.configPath, config.WithLogger(logger))
	if opts.writeConfig {
		if err := cfg.Save(osFs, opts.configPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		logger.Info("config_written", "path", opts.configPath)
		return nil
	}

	settings := &server.Settings{PublicHost: opts.publicHost}
	if opts.pasvPorts != "" {
		lo, hi, err := parsePortRange(opts.pasvPorts)
		if err != nil {
			return err
		}
		settings.PasvMinPort, settings.PasvMaxPort = lo, hi
	}

	driver, err := server.NewFSDriver(opts.root,
		server.WithCredentials(cfg.User(), cfg.Pass()),
		server.WithSettings(settings),
	)
	if err != nil {
		return err
	}

	addr := opts.addr
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(int(cfg.Port())))
	}

	serverOpts := []server.Option{
		server.WithDriver(driver),
		server.WithConfig(cfg),
		server.WithLogger(logger),
		server.WithMaxConnections(opts.maxConns, opts.maxConnsPerIP),
		server.WithBandwidthLimit(opts.bandwidth, opts.sessionBandwidth),
	}
	if opts.xferlog != "" {
		f, err := os.OpenFile(opts.xferlog, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("open xferlog: %w", err)
		}
		defer f.Close()
		serverOpts = append(serverOpts, server.WithTransferLog(f))
	}

	srv, err := server.NewServer(addr, serverOpts...)
	if err != nil {
		return err
	}

	banner(addr, opts.root, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func parsePortRange(s string) (int, int, error) {
	from, to, ok := strings.Cut(s, "-")
	lo, err1 := strconv.Atoi(from)
	hi, err2 := strconv.Atoi(to)
	if !ok || err1 != nil || err2 != nil || lo < 1 || hi > 65535 || lo > hi {
		return 0, 0, fmt.Errorf("invalid passive port range %q", s)
	}
	return lo, hi, nil
}

func banner(addr, root string, cfg *config.Config) {
	bold := color.New(color.FgGreen, color.Bold)
	bold.Fprintf(os.Stderr, "ftpd listening on %s\n", addr)
	fmt.Fprintf(os.Stderr, "  root:    %s\n", root)
	if cfg.User() == "" {
		color.New(color.FgYellow).Fprintln(os.Stderr, "  login:   any user name accepted")
	} else {
		fmt.Fprintf(os.Stderr, "  login:   %s\n", cfg.User())
	}
	fmt.Fprintf(os.Stderr, "  deflate: level %d\n", cfg.DeflateLevel())
}
