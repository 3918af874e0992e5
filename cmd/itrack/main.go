package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/ingest"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/metrics"
	"codeberg.org/mutker/itrack/internal/pid"
	"codeberg.org/mutker/itrack/internal/replay"
	"codeberg.org/mutker/itrack/internal/transport"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

const drainTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "itrack",
	Short: "Interaction telemetry collector and collection endpoint",
	Long: `itrack records pointer, click and keyboard telemetry from survey pages,
uploads it in batches and turns uploaded batches into per-question metrics.

Usage:
  itrack serve                  # Run the collection endpoint
  itrack replay session.json    # Play a scripted session through a collector`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay <script.json>",
	Short: "Replay a scripted session and upload its telemetry",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, replayCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cmd.Flags())
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return nil, nil, err
	}
	if path := loader.ConfigFileUsed(); path != "" {
		logger.Debug().Str("path", path).Msg("Config loaded")
	}

	return loader, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	if err := pid.Write(cfg.Server.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.Server.PIDFile); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	loader.Watch(ctx, func(updated *config.Config) {
		lvl, err := logger.ParseLevel(updated.LogLevel)
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring log level from reloaded config")
			return
		}
		logger.SetLogLevel(lvl)
		logger.Info().Str("log_level", updated.LogLevel).Msg("Config reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Reloaded config is invalid")
	})

	store, err := metrics.NewService(metrics.FromConfig(cfg.Storage), logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close metrics store")
		}
	}()

	srv := ingest.New(cfg.Server, store, logger.Default())
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Exiting...")
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	_, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	script, err := replay.LoadFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sender := transport.New(cfg.Transport, logger.Default())
	res, runErr := replay.Run(ctx, script, replay.Options{
		Tracker: cfg.Tracker,
		Sender:  sender,
		Logger:  logger.Default(),
	})

	if closer, ok := sender.(transport.Closer); ok {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer drainCancel()
		if err := closer.Close(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("Uploads still pending at exit")
		}
	}

	if runErr != nil {
		if errors.HasCode(runErr, errors.ErrTimeout) {
			logger.Info().Msg("Replay interrupted")
		}
		return runErr
	}

	logger.Info().
		Str("script", args[0]).
		Int("steps", res.Steps).
		Int("uploads", res.Uploads).
		Dur("duration", res.Duration).
		Msg("Replay complete")

	return nil
}
