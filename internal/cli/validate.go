package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Path     string           `json:"path"`
	Self     string           `json:"self,omitempty"`
	Upstream string           `json:"upstream,omitempty"`
	Ignore   []string         `json:"ignore"`
	Error    *ValidationError `json:"error,omitempty"`
}

// ValidationError locates a problem in a pipeline file.
type ValidationError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline-file>",
		Short: "Validate a pipeline file",
		Long: `Validate a deployment pipeline file without starting the client.

The file may be YAML (.yaml, .yml) or CUE (.cue). It names this client's
service, the upstream service whose requests it answers, and the payload
kinds it ignores. Unknown fields, services and kinds are rejected.

Exit codes:
  0 - The file is valid
  1 - The file is invalid
  2 - Command error (file not found)

Examples:
  replica validate pipeline.yaml
  replica validate pipeline.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("pipeline file not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: pipeline file not found: %s", ErrCodeNotFound, path))
	}

	formatter.VerboseLog("Loading pipeline %s", path)
	pipeline, err := config.LoadPipeline(path)
	if err != nil {
		return outputValidationError(formatter, path, err)
	}
	return outputValidateSuccess(formatter, path, pipeline)
}

// ignoredKinds lists the kinds p ignores in declaration order.
func ignoredKinds(p *engine.Pipeline) []string {
	out := []string{}
	for _, k := range ir.AllPayloadKinds() {
		if p.Ignores(k) {
			out = append(out, string(k))
		}
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string, p *engine.Pipeline) error {
	result := ValidationResult{
		Valid:    true,
		Path:     path,
		Self:     string(p.Self()),
		Upstream: string(p.Upstream()),
		Ignore:   ignoredKinds(p),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Pipeline valid: %s\n", path)
	fmt.Fprintf(w, "  Self: %s\n", result.Self)
	fmt.Fprintf(w, "  Upstream: %s\n", result.Upstream)
	if len(result.Ignore) == 0 {
		fmt.Fprintln(w, "  Ignore: (none)")
	} else {
		fmt.Fprintf(w, "  Ignore: %v\n", result.Ignore)
	}
	return nil
}

// outputValidationError outputs a pipeline error.
func outputValidationError(formatter *OutputFormatter, path string, err error) error {
	verr := &ValidationError{Message: err.Error()}
	var pe *config.PipelineError
	if errors.As(err, &pe) {
		verr.Message = pe.Message
		if pe.Pos.IsValid() {
			verr.Line = pe.Pos.Line()
			verr.Column = pe.Pos.Column()
		}
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Path: path, Ignore: []string{}, Error: verr},
			Error: &CLIError{
				Code:    ErrCodePipeline,
				Message: verr.Message,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return WrapExitError(ExitFailure, "pipeline invalid", err)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	if verr.Line > 0 {
		fmt.Fprintf(formatter.Writer, "line %d\n", verr.Line)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodePipeline, verr.Message)

	// Validation failures = exit code 1 (test/validation failure)
	return WrapExitError(ExitFailure, "pipeline invalid", err)
}
