package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/replica/internal/client"
	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Dialer allows overriding the store transport (for testing).
	// If nil, defaults to a websocket dialer.
	Dialer transport.Dialer

	// Viper allows injecting a config instance (for testing).
	// If nil, a fresh one is created.
	Viper *viper.Viper
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync client",
		Long: `Start the replica sync client.

The client replays its persistent log, connects to the store, announces
every message id it already holds, then receives, logs and answers messages
until interrupted. Lost connections are retried with a linear backoff of
1 to 10 seconds.

Every flag can also be set through the environment: --log-file becomes
REPLICA_LOG_FILE, --port becomes REPLICA_PORT and so on. Flags win over the
environment.

Exit codes:
  0 - Stopped by interrupt
  1 - Startup replay failed
  2 - Command error (invalid configuration, pipeline or log)

Examples:
  replica run
  replica run --host store.internal --port 9000 --log-file /var/lib/replica/log
  replica run --log-backend sqlite --log-file replica.db --pipeline pipeline.cue
  replica run --metrics-listen :9102 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(opts, cmd)
		},
	}

	config.RegisterRunFlags(cmd.Flags())

	return cmd
}

func runClient(opts *RunOptions, cmd *cobra.Command) error {
	v := opts.Viper
	if v == nil {
		v = viper.New()
	}
	if err := config.Bind(v, cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bind flags", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose || cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	pipeline := engine.DefaultPipeline()
	if cfg.PipelinePath != "" {
		logger.Info("loading pipeline", "path", cfg.PipelinePath)
		if pipeline, err = config.LoadPipeline(cfg.PipelinePath); err != nil {
			return WrapExitError(ExitCommandError, "invalid pipeline", err)
		}
	}

	logger.Info("opening log", "path", cfg.LogFile, "backend", cfg.Backend)
	log, err := store.Open(cfg.Backend, cfg.LogFile, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open log", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			logger.Error("error closing log", "error", closeErr)
		}
	}()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.WebSocketDialer{}
	}
	m := metrics.New()
	c, err := client.New(client.Config{
		Target:   cfg.Target(),
		Dialer:   dialer,
		Log:      log,
		Pipeline: pipeline,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create client", err)
	}
	defer c.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if _, err := c.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "startup replay failed", err)
	}

	logger.Info("client starting", "target", cfg.Target(), "self", pipeline.Self(), "upstream", pipeline.Upstream())
	fmt.Fprintf(cmd.OutOrStdout(), "Replica started. Syncing with %s\n", cfg.Target())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsListen != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsListen, logger) })
	}
	g.Go(func() error { return c.Run(gctx) })
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "metrics server failed", err)
	}

	logger.Info("client stopped gracefully")
	return nil
}
