package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/store"
)

// openLog resolves --log-file and --log-backend (or their REPLICA_*
// environment variables) and opens the log they name. Diagnostics such as a
// repaired torn tail go to stderr.
func openLog(opts *RootOptions, cmd *cobra.Command) (store.Log, config.Config, error) {
	v := viper.New()
	if err := config.Bind(v, cmd.Flags()); err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "failed to bind flags", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	log, err := store.Open(cfg.Backend, cfg.LogFile, logger)
	if err != nil {
		return nil, cfg, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	return log, cfg, nil
}
