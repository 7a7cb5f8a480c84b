package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	ID   string // optional - filter to one message id
	Kind string // optional - filter to one payload kind
}

// TraceEvent is one logged record in the trace timeline.
type TraceEvent struct {
	Seq       int        `json:"seq"`
	ID        string     `json:"id"`
	Flow      string     `json:"flow"`
	Reason    string     `json:"reason,omitempty"`
	Kind      string     `json:"kind"`
	Origin    []string   `json:"origin"`
	Timestamp string     `json:"timestamp"`
	Payload   ir.Payload `json:"payload,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRecords int `json:"total_records"`
	Shown        int `json:"shown"`
	Requested    int `json:"requested"`
	Processed    int `json:"processed"`
	Errors       int `json:"errors"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List logged messages in order",
		Long: `List the records of the persistent log in append order.

Each record shows its position, message id, flow, payload kind and origin
chain. Filtering by id shows the full history of one message: the request,
any error statuses and its terminal result.

Examples:
  replica trace
  replica trace --id 0190f3a4-5c1e-7b2a-9d4f-2e6b8a1c3d5e
  replica trace --kind entity_created --verbose
  replica trace --log-backend sqlite --log-file replica.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	config.RegisterLogFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.ID, "id", "", "show only records with this message id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "show only records with this payload kind")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var filterID uuid.UUID
	if opts.ID != "" {
		id, err := uuid.Parse(opts.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --id", err)
		}
		filterID = id
	}
	if opts.Kind != "" {
		if _, err := ir.ParsePayloadKind(opts.Kind); err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
	}

	log, _, err := openLog(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer log.Close()

	result := TraceResult{Timeline: []TraceEvent{}}
	seq := 0
	err = log.Replay(ctx, func(m ir.Message) error {
		seq++
		if filterID != uuid.Nil && m.ID() != filterID {
			return nil
		}
		if opts.Kind != "" && string(m.Kind()) != opts.Kind {
			return nil
		}
		result.Timeline = append(result.Timeline, traceEvent(seq, m))
		switch m.Flow().Type {
		case ir.FlowRequested:
			result.Stats.Requested++
		case ir.FlowProcessed:
			result.Stats.Processed++
		case ir.FlowError:
			result.Stats.Errors++
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log", err)
	}
	result.Stats.TotalRecords = seq
	result.Stats.Shown = len(result.Timeline)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func traceEvent(seq int, m ir.Message) TraceEvent {
	origin := make([]string, len(m.Metadata.OriginChain))
	for i, s := range m.Metadata.OriginChain {
		origin[i] = string(s)
	}
	return TraceEvent{
		Seq:       seq,
		ID:        m.ID().String(),
		Flow:      string(m.Flow().Type),
		Reason:    m.Flow().Reason,
		Kind:      string(m.Kind()),
		Origin:    origin,
		Timestamp: m.Metadata.Timestamp.UTC().Format(time.RFC3339),
		Payload:   m.Payload,
	}
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No records found (%d in log).\n", result.Stats.TotalRecords)
		return nil
	}

	fmt.Fprintf(w, "Timeline: %d of %d record(s)\n", result.Stats.Shown, result.Stats.TotalRecords)
	fmt.Fprintln(w)
	for _, ev := range result.Timeline {
		flow := ev.Flow
		if ev.Reason != "" {
			flow = fmt.Sprintf("%s(%s)", ev.Flow, ev.Reason)
		}
		fmt.Fprintf(w, "[%d] %s %-9s %-24s %s\n", ev.Seq, ev.ID, flow, ev.Kind, strings.Join(ev.Origin, " → "))
		if verbose {
			fmt.Fprintf(w, "      at %s: %+v\n", ev.Timestamp, ev.Payload)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Requested: %d  Processed: %d  Error: %d\n", result.Stats.Requested, result.Stats.Processed, result.Stats.Errors)
	return nil
}
