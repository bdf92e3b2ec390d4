package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/triangulate"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	InputDir string
	Prefix   string
	KeyField string
}

// VerifyResult holds the determinism check result.
type VerifyResult struct {
	InputDir      string `json:"inputDir"`
	Records       int    `json:"records"`
	ForwardHash   string `json:"forwardHash"`
	ReverseHash   string `json:"reverseHash"`
	Deterministic bool   `json:"deterministic"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify consolidation is independent of file read order",
		Long: `Consolidate the input twice, the second time reading files in reverse
order, and compare the hashes of the two canonical outputs.

Exit codes:
  0 - Both passes produced identical bytes
  1 - Invalid usage or unreadable input
  2 - The outputs differ

Examples:
  triangulate verify
  triangulate verify --input-dir .riviere/work --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "input-dir", "", "directory holding observation logs (default work dir)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "observation log file prefix")
	cmd.Flags().StringVar(&opts.KeyField, "key-field", "", "identity field of each observation")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.setup(cmd, "verify")
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)

	inputDir := stringFlag(cmd, "input-dir", opts.InputDir, cfg.Path(cfg.WorkDir))
	in := ingest.Options{
		Prefix:      stringFlag(cmd, "prefix", opts.Prefix, cfg.Consolidate.Prefix),
		DefaultKind: ingest.KindObservation,
		KeyField:    stringFlag(cmd, "key-field", opts.KeyField, cfg.Consolidate.KeyField),
		Concurrency: cfg.Consolidate.Concurrency,
	}

	result := VerifyResult{InputDir: inputDir}
	for i, reverse := range []bool{false, true} {
		in.Reverse = reverse
		_, res, err := consolidate(ctx, cfg, in, inputDir, logger)
		if err != nil {
			return inputError(out, err)
		}
		data, err := triangulate.EncodeJSONL(res.Records)
		if err != nil {
			return WrapExitError(ExitCommandError, "encode consolidated log", err)
		}
		if i == 0 {
			result.ForwardHash = ir.OutputHash(data)
			result.Records = len(res.Records)
		} else {
			result.ReverseHash = ir.OutputHash(data)
		}
	}
	result.Deterministic = result.ForwardHash == result.ReverseHash

	if out.Format == "json" {
		if result.Deterministic {
			return out.Success(result)
		}
		if err := out.Result(result, CodeNondeterminism, "consolidation depends on read order"); err != nil {
			return err
		}
		return reportedExit(ExitNeedsAttention, "consolidation depends on read order")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Forward: %s\n", result.ForwardHash)
	fmt.Fprintf(w, "Reverse: %s\n", result.ReverseHash)
	if result.Deterministic {
		fmt.Fprintf(w, "✓ %d record(s), identical across read orders\n", result.Records)
		return nil
	}
	fmt.Fprintln(w, "✗ Consolidation depends on read order")
	return reportedExit(ExitNeedsAttention, "consolidation depends on read order")
}
