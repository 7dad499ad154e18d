package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/instantiate/internal/api"
	"github.com/yairfalse/instantiate/internal/assistant"
	"github.com/yairfalse/instantiate/internal/daemon"
	"github.com/yairfalse/instantiate/internal/journal"
	"github.com/yairfalse/instantiate/internal/manager"
	"github.com/yairfalse/instantiate/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr   string
	serveNoWarm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background cache warmer",
	Long: `Run the Instantiate HTTP API.

The server exposes the multi-cloud deploy, resource, status and stats
routes under /api/multi-cloud, credential management under
/api/credentials, the chat assistant when GROQ_API_KEY or OPENAI_API_KEY
is set, and /healthz, /readyz and /metrics.

A background warmer refreshes stale provider listings on the configured
warm interval so requests are served from cache.`,
	Example: `  instantiate serve                     # Listen on :3001
  instantiate serve --addr :8080        # Custom address
  instantiate serve -c prod.toml        # Explicit config file`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides [server] addr")
	serveCmd.Flags().BoolVar(&serveNoWarm, "no-warm", false, "disable the background cache warmer")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	metrics, err := manager.NewMetrics(tp.Meter())
	if err != nil {
		return fmt.Errorf("create manager metrics: %w", err)
	}

	a, err := newApp(ctx, cfg, manager.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer a.Close()

	pruneJournal(a.journal, cfg.Journal.RetentionDays)

	var warmer *daemon.Daemon
	if !serveNoWarm {
		dm, err := daemon.NewDaemonMetrics()
		if err != nil {
			return fmt.Errorf("create daemon metrics: %w", err)
		}
		warmer, err = daemon.NewDaemon(a.manager, daemon.Config{Interval: cfg.Cache.Warm, Metrics: dm})
		if err != nil {
			return err
		}
	}

	server := &api.Server{
		Manager:     a.manager,
		Credentials: a.store,
		Metrics:     tp.MetricsHandler(),
	}
	if chat := newAssistant(); chat != nil {
		server.Assistant = chat
	}
	if warmer != nil {
		server.Warmer = warmer
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	{
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		g.Add(func() error {
			log.Info().
				Str("addr", ln.Addr().String()).
				Strs("providers", a.manager.Providers()).
				Msg("instantiate listening")
			return srv.Serve(ln)
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	if warmer != nil {
		warmCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return warmer.Start(warmCtx)
		}, func(error) {
			cancel()
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		log.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	case errors.Is(err, http.ErrServerClosed):
		return nil
	default:
		return err
	}
}

// newAssistant returns nil when no API key is configured.
func newAssistant() *assistant.Assistant {
	chat, err := assistant.New(assistant.ConfigFromEnv(cfg.Assistant.Provider, cfg.Assistant.Model, os.Getenv))
	if errors.Is(err, assistant.ErrDisabled) {
		log.Info().Msg("assistant disabled, no API key configured")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("assistant disabled")
		return nil
	}
	log.Info().Str("model", chat.Model()).Msg("assistant enabled")
	return chat
}

func pruneJournal(j *journal.Journal, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	removed, err := j.Prune(time.Now().AddDate(0, 0, -retentionDays))
	if err != nil {
		log.Warn().Err(err).Msg("failed to prune journal")
		return
	}
	if removed > 0 {
		log.Info().Int("files", removed).Msg("pruned old journal files")
	}
}
