package cmd

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/schema"
)

var (
	bulkRegistries   []string
	bulkPrefix       string
	bulkOnlyFailures bool
	bulkNoProgress   bool
)

var bulkCheckCmd = &cobra.Command{
	Use:     "bulk-check <mode>",
	Short:   "Check every subject against a compatibility mode",
	GroupID: groupBulk,
	Long: `Check whether every subject's history satisfies a compatibility mode,
across all registry instances (or those named with --registries).

Checks run concurrently on a pool of --workers goroutines. Use this before
tightening a mode with bulk-set to find the subjects that would violate it.

Examples:
  # Would every subject survive FULL_TRANSITIVE?
  gsr bulk-check FULL_TRANSITIVE

  # Only orders subjects on two registries, failures only
  gsr bulk-check BACKWARD --registries prod,staging --prefix orders- --only-failures

  # Larger pool for big registries
  gsr bulk-check FULL --workers 50 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runBulkCheck),
}

var bulkSetCmd = &cobra.Command{
	Use:     "bulk-set <mode>",
	Short:   "Set a compatibility mode across registries",
	GroupID: groupBulk,
	Long: `Set a compatibility mode on all registry instances (or those named with
--registries). Without --prefix the global mode is set; with it, every
subject starting with the prefix is set individually.

Examples:
  gsr bulk-set BACKWARD
  gsr bulk-set FULL --registries prod --prefix payments-`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runBulkSet),
}

func init() {
	for _, c := range []*cobra.Command{bulkCheckCmd, bulkSetCmd} {
		c.Flags().StringSliceVarP(&bulkRegistries, "registries", "r", nil, "Registry ids (default: all)")
		c.Flags().StringVarP(&bulkPrefix, "prefix", "p", "", "Only subjects starting with this prefix")
	}
	bulkCheckCmd.Flags().BoolVar(&bulkOnlyFailures, "only-failures", false, "Only list incompatible subjects and errors")
	bulkCheckCmd.Flags().BoolVar(&bulkNoProgress, "no-progress", false, "Disable the progress bar")

	rootCmd.AddCommand(bulkCheckCmd, bulkSetCmd)
}

// progressOption draws a progress bar on stderr once the number of
// subjects is known.
func progressOption(cmd *cobra.Command) orchestrator.BulkOption {
	var bar *progressbar.ProgressBar
	return orchestrator.WithProgress(func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Checking"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
		}
	})
}

func runBulkCheck(cmd *cobra.Command, a *app, args []string) error {
	mode, err := schema.ParseCompatibilityMode(args[0])
	if err != nil {
		return err
	}

	p := a.printer(cmd)
	var opts []orchestrator.BulkOption
	if !bulkNoProgress && p.Format() == output.FormatTable {
		opts = append(opts, progressOption(cmd))
	}

	result, err := a.orch.BulkCheckCompatibility(cmd.Context(), bulkRegistries, mode, bulkPrefix, opts...)
	if err != nil {
		return err
	}

	report := output.BulkCheckReport{Result: result, OnlyFailures: bulkOnlyFailures}
	if err := p.Report(report); err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		switch {
		case result.Errors > 0:
			output.Warning("%s", report.Summary())
		case result.Incompatible > 0:
			output.Error("%s", report.Summary())
		default:
			output.Success("%s", report.Summary())
		}
	}
	if result.Incompatible > 0 || result.Errors > 0 {
		return fmt.Errorf("%d incompatible, %d errors", result.Incompatible, result.Errors)
	}
	return nil
}

func runBulkSet(cmd *cobra.Command, a *app, args []string) error {
	mode, err := schema.ParseCompatibilityMode(args[0])
	if err != nil {
		return err
	}

	results, err := a.orch.BulkSetCompatibility(cmd.Context(), bulkRegistries, mode, bulkPrefix)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		output.Warning("No registries selected")
		return nil
	}
	if err := a.printer(cmd).Report(output.BulkSetReport(results)); err != nil {
		return err
	}

	failed := 0
	for _, statuses := range results {
		for _, status := range statuses {
			if status != orchestrator.SetStatusSuccess {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d mode changes did not succeed", failed)
	}
	return nil
}
