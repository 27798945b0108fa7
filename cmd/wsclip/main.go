// Command wsclip runs the clipboard relay server: a WebSocket endpoint
// that pairs two authenticated clients per channel and forwards their
// frames verbatim.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bxacosta/wsclip/internal/config"
	"github.com/bxacosta/wsclip/internal/server"
	"github.com/bxacosta/wsclip/internal/watchdog"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, env vars override)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wsclip %s (%s) built %s\n", version, commit, buildDate)
		fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	srv := server.New(cfg, log, version)
	if err := srv.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	log.Info("wsclip relay started",
		"addr", srv.Addr(),
		"version", version,
		"max_channels", cfg.MaxChannels,
		"max_message_size", cfg.MaxMessageSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notify systemd and start the heartbeat loop.
	watchdog.Ready()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchdog.Run(gctx, watchdog.Config{
			Interval: 30 * time.Second,
			Logger:   log,
		}, healthChecks(srv, cfg))
		return nil
	})
	g.Go(func() error {
		statusLoop(gctx, srv, log)
		return nil
	})

	<-ctx.Done()
	watchdog.Stopping()
	log.Info("signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not complete cleanly", "error", err)
		g.Wait()
		os.Exit(1)
	}
	g.Wait()
}

// newLogger builds the process logger from config: level plus text or
// JSON output on stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// healthChecks probes the relay's externally visible surface: the HTTP
// endpoint must answer and the channel registry must stay below its
// ceiling.
func healthChecks(srv *server.Server, cfg *config.Config) []watchdog.HealthCheck {
	client := &http.Client{Timeout: 5 * time.Second}
	return []watchdog.HealthCheck{
		{
			Name: "http-endpoint",
			Check: func() error {
				resp, err := client.Get("http://" + srv.Addr() + "/health")
				if err != nil {
					return err
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
				}
				return nil
			},
		},
		{
			Name: "channel-capacity",
			Check: func() error {
				stats := srv.Registry().GetStats()
				if stats.ActiveChannels >= cfg.MaxChannels {
					return fmt.Errorf("at channel ceiling: %d/%d", stats.ActiveChannels, cfg.MaxChannels)
				}
				return nil
			},
		},
	}
}

// statusLoop logs a periodic one-line summary of relay activity.
func statusLoop(ctx context.Context, srv *server.Server, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := srv.Registry().GetStats()
			log.Info("relay status",
				"channels", stats.ActiveChannels,
				"peers", stats.ActivePeers,
				"messages_relayed", stats.Counters.MessagesRelayed,
				"bytes_transferred", stats.Counters.BytesTransferred)
		}
	}
}
