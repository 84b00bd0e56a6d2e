package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamir/global-schema-registry/internal/compat"
	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/schema"
)

var (
	checkMode    string
	checkFile    string
	checkFormat  string
	checkVersion int

	modeSubject string

	transitionsFrom string
)

var checkCmd = &cobra.Command{
	Use:     "check <registry> <subject>",
	Short:   "Check the compatibility of a subject",
	GroupID: groupCompat,
	Long: `Check a subject of one registry instance.

Without --file the subject's latest version is checked against its earlier
versions under --mode (default: the subject's own mode). With --file the
given schema is checked against --version (default: latest) as the backend
would check a new registration.

Examples:
  # Transitive history check under the subject's mode
  gsr check prod-confluent orders-value

  # History check under a stricter mode
  gsr check prod-confluent orders-value --mode FULL_TRANSITIVE

  # Check a candidate schema before registering it
  gsr check prod-confluent orders-value --file orders-v4.avsc`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runCheck),
}

var modeCmd = &cobra.Command{
	Use:     "mode",
	Short:   "Get or set compatibility modes",
	GroupID: groupCompat,
}

var modeGetCmd = &cobra.Command{
	Use:   "get <registry>",
	Short: "Show the global or a subject's compatibility mode",
	Long: `Show the compatibility mode of a registry instance. With --subject the
subject's effective mode is shown (its own, or the global fallback).

Examples:
  gsr mode get prod-confluent
  gsr mode get prod-confluent --subject orders-value`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runModeGet),
}

var modeSetCmd = &cobra.Command{
	Use:   "set <registry> <mode>",
	Short: "Set the global or a subject's compatibility mode",
	Long: `Set the compatibility mode of a registry instance, globally or for one
subject. The risk of the transition from the current mode is shown first.

Examples:
  gsr mode set prod-confluent FULL
  gsr mode set prod-confluent BACKWARD_TRANSITIVE --subject orders-value`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runModeSet),
}

var compareModesCmd = &cobra.Command{
	Use:     "compare-modes",
	Short:   "Compare compatibility modes across all registries",
	GroupID: groupCompat,
	Long: `Collect the global mode and every subject's mode from each registry
instance concurrently.

Examples:
  gsr compare-modes
  gsr compare-modes -o json`,
	Args: cobra.NoArgs,
	RunE: withApp(runCompareModes),
}

var transitionsCmd = &cobra.Command{
	Use:     "transitions",
	Short:   "Show the risk of compatibility-mode transitions",
	GroupID: groupCompat,
	Long: `Show how risky it is to move between compatibility modes.

Examples:
  # The full table
  gsr transitions

  # Transitions away from BACKWARD
  gsr transitions --from BACKWARD`,
	Args: cobra.NoArgs,
	RunE: runTransitions,
}

func init() {
	checkCmd.Flags().StringVarP(&checkMode, "mode", "m", "", "Compatibility mode for the history check (default: subject's mode)")
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "Candidate schema file")
	checkCmd.Flags().StringVar(&checkFormat, "format", "avro", "Format of --file")
	checkCmd.Flags().IntVar(&checkVersion, "version", 0, "Version to check --file against (0 = latest)")

	modeGetCmd.Flags().StringVarP(&modeSubject, "subject", "s", "", "Subject (default: global)")
	modeSetCmd.Flags().StringVarP(&modeSubject, "subject", "s", "", "Subject (default: global)")
	modeCmd.AddCommand(modeGetCmd, modeSetCmd)

	transitionsCmd.Flags().StringVar(&transitionsFrom, "from", "", "Only show transitions from this mode")

	rootCmd.AddCommand(checkCmd, modeCmd, compareModesCmd, transitionsCmd)
}

func runCheck(cmd *cobra.Command, a *app, args []string) error {
	id, subject := args[0], args[1]
	reg, err := a.orch.GetRegistry(id)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var result *schema.CompatibilityResult
	if checkFile != "" {
		format, err := schema.ParseFormat(checkFormat)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(checkFile)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		result, err = reg.CheckCompatibility(ctx, subject, string(content), format, checkVersion)
		if err != nil {
			return fmt.Errorf("failed to check compatibility: %w", err)
		}
	} else {
		var mode schema.CompatibilityMode
		if checkMode != "" {
			mode, err = schema.ParseCompatibilityMode(checkMode)
		} else {
			mode, err = reg.GetCompatibilityMode(ctx, subject)
		}
		if err != nil {
			return err
		}
		result, err = a.orch.Checker().CheckSubject(ctx, reg, subject, mode)
		if err != nil {
			return err
		}
	}

	if err := a.printer(cmd).Report(output.CheckReport{RegistryID: id, Subject: subject, Result: result}); err != nil {
		return err
	}
	if !result.Compatible {
		return fmt.Errorf("%s is not compatible", subject)
	}
	return nil
}

func runModeGet(cmd *cobra.Command, a *app, args []string) error {
	reg, err := a.orch.GetRegistry(args[0])
	if err != nil {
		return err
	}
	mode, err := reg.GetCompatibilityMode(cmd.Context(), modeSubject)
	if err != nil {
		return fmt.Errorf("failed to get compatibility mode: %w", err)
	}
	return a.printer(cmd).Print(string(mode))
}

func runModeSet(cmd *cobra.Command, a *app, args []string) error {
	mode, err := schema.ParseCompatibilityMode(args[1])
	if err != nil {
		return err
	}
	reg, err := a.orch.GetRegistry(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if current, err := reg.GetCompatibilityMode(ctx, modeSubject); err == nil {
		if t, ok := compat.LookupTransition(current, mode); ok && current != mode {
			output.Info("%s -> %s: %s (%s)", current, mode, t.Risk, t.Description)
			if t.Risk == compat.RiskDangerous {
				output.Warning("This transition is dangerous; run 'gsr check' on affected subjects first")
			}
		}
	}

	if err := reg.SetCompatibilityMode(ctx, mode, modeSubject); err != nil {
		return fmt.Errorf("failed to set compatibility mode: %w", err)
	}
	scope := "global"
	if modeSubject != "" {
		scope = modeSubject
	}
	output.Success("Set %s compatibility to %s on %s", scope, mode, args[0])
	return nil
}

func runCompareModes(cmd *cobra.Command, a *app, args []string) error {
	modes := a.orch.CompareCompatibilityModes(cmd.Context())
	if len(modes) == 0 {
		output.Warning("No registries configured")
		return nil
	}
	return a.printer(cmd).Report(output.ModesReport(modes))
}

func runTransitions(cmd *cobra.Command, args []string) error {
	table := compat.TransitionTable()
	if transitionsFrom != "" {
		from, err := schema.ParseCompatibilityMode(transitionsFrom)
		if err != nil {
			return err
		}
		filtered := table[:0]
		for _, t := range table {
			if t.From == from.Canonical() {
				filtered = append(filtered, t)
			}
		}
		table = filtered
	}
	return output.NewPrinterTo(outputFormat, cmd.OutOrStdout()).Report(output.TransitionReport(table))
}
