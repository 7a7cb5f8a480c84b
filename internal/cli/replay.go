package cli

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/engine"
)

// ReplayResult holds the replay result.
type ReplayResult struct {
	LogFile       string             `json:"log_file"`
	Backend       string             `json:"backend"`
	Stats         engine.ReplayStats `json:"stats"`
	PendingIDs    []string           `json:"pending_ids"`
	Deterministic bool               `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the log offline and verify the fold",
		Long: `Replay the persistent log without connecting to the store.

This command folds every record in order, twice, into fresh state and checks
that both passes agree. It reports record counts and the ids still pending.
A torn final record left by a crash is skipped; corruption anywhere else is
an error.

Exit codes:
  0 - Both passes agree
  1 - The passes disagree
  2 - Command error (log not readable, invalid backend, etc.)

Examples:
  replica replay
  replica replay --log-file /var/lib/replica/log --verbose
  replica replay --log-backend sqlite --log-file replica.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}

	config.RegisterLogFlags(cmd.Flags())

	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, cfg, err := openLog(opts, cmd)
	if err != nil {
		return err
	}
	defer log.Close()

	first, stats, err := engine.ReplayState(ctx, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	second, _, err := engine.ReplayState(ctx, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}

	snap := first.Snapshot()
	result := ReplayResult{
		LogFile:       cfg.LogFile,
		Backend:       string(cfg.Backend),
		Stats:         stats,
		PendingIDs:    make([]string, 0, len(snap.PendingIDs)),
		Deterministic: reflect.DeepEqual(first, second),
	}
	for _, id := range snap.PendingIDs {
		result.PendingIDs = append(result.PendingIDs, id.String())
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeDeterminism,
			Message: "replay passes disagree",
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay passes disagree")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()
	s := result.Stats

	fmt.Fprintf(w, "Replay Summary: %s (%s)\n", result.LogFile, result.Backend)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Records: %d (%d requested, %d processed, %d error)\n", s.Records, s.Requested, s.Processed, s.Errors)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped: %d already-seen record(s)\n", s.Skipped)
	}
	fmt.Fprintf(w, "  Seen: %d\n", s.Seen)
	fmt.Fprintf(w, "  Pending: %d\n", s.Pending)
	if verbose {
		for _, id := range result.PendingIDs {
			fmt.Fprintf(w, "    %s\n", id)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay passes disagree")
	return NewExitError(ExitFailure, "replay passes disagree")
}
