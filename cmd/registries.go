package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/schema"
)

var (
	subjectsPrefix string
	registerFile   string
	registerFormat string
)

var registriesCmd = &cobra.Command{
	Use:     "registries",
	Short:   "List configured registry instances",
	GroupID: groupRegistry,
	Long: `List every registry instance that was added from the configuration,
with its backend type, URL and supported schema formats.

Examples:
  gsr registries
  gsr registries -o json`,
	Args: cobra.NoArgs,
	RunE: withApp(runRegistries),
}

var healthCmd = &cobra.Command{
	Use:     "health [registry]",
	Short:   "Probe the health of registry instances",
	GroupID: groupRegistry,
	Long: `Probe every registry instance concurrently, or a single one by id.
Exits non-zero when any probed instance is unhealthy.

Examples:
  gsr health
  gsr health prod-confluent`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runHealth),
}

var subjectsCmd = &cobra.Command{
	Use:     "subjects <registry>",
	Short:   "List subjects of a registry instance",
	GroupID: groupRegistry,
	Long: `List the subjects of one registry instance, optionally filtered by prefix.

Examples:
  gsr subjects prod-confluent
  gsr subjects prod-confluent --prefix orders-`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runSubjects),
}

var findCmd = &cobra.Command{
	Use:     "find <subject>",
	Short:   "Find the latest version of a subject across all registries",
	GroupID: groupRegistry,
	Long: `Look up the latest version of a subject in every registry instance
concurrently. Instances that do not have the subject are omitted.

Examples:
  gsr find orders-value
  gsr find main.sales.orders -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runFind),
}

var registerCmd = &cobra.Command{
	Use:     "register <registry> <subject>",
	Short:   "Register a schema from a file",
	GroupID: groupRegistry,
	Long: `Register a new schema version under a subject of one registry instance.

Examples:
  gsr register local orders-value --file orders.avsc
  gsr register uc main.sales.orders --file orders.json --format iceberg`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(runRegister),
}

func init() {
	subjectsCmd.Flags().StringVarP(&subjectsPrefix, "prefix", "p", "", "Only list subjects starting with this prefix")

	registerCmd.Flags().StringVarP(&registerFile, "file", "f", "", "Schema file (required)")
	registerCmd.Flags().StringVar(&registerFormat, "format", "avro", "Schema format: avro, json_schema, protobuf, iceberg, ...")
	_ = registerCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(registriesCmd, healthCmd, subjectsCmd, findCmd, registerCmd)
}

func runRegistries(cmd *cobra.Command, a *app, args []string) error {
	regs := a.orch.ListRegistries()
	if len(regs) == 0 {
		output.Warning("No registries configured")
		return nil
	}
	return a.printer(cmd).Report(output.RegistryList(regs))
}

func runHealth(cmd *cobra.Command, a *app, args []string) error {
	var report output.HealthReport
	if len(args) == 1 {
		reg, err := a.orch.GetRegistry(args[0])
		if err != nil {
			return err
		}
		status := reg.HealthCheck(cmd.Context())
		a.metrics.HealthObserved(args[0], status)
		report = output.HealthReport{args[0]: status}
	} else {
		report = output.HealthReport(a.orch.HealthCheckAll(cmd.Context()))
	}

	if err := a.printer(cmd).Report(report); err != nil {
		return err
	}
	if n := report.Unhealthy(); n > 0 {
		return fmt.Errorf("%d of %d registries unhealthy", n, len(report))
	}
	return nil
}

func runSubjects(cmd *cobra.Command, a *app, args []string) error {
	reg, err := a.orch.GetRegistry(args[0])
	if err != nil {
		return err
	}
	subjects, err := reg.ListSubjects(cmd.Context(), subjectsPrefix)
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}
	return a.printer(cmd).Print(subjects)
}

func runFind(cmd *cobra.Command, a *app, args []string) error {
	found := a.orch.FindSchema(cmd.Context(), args[0])
	if len(found) == 0 {
		output.Warning("Subject %s not found in any registry", args[0])
		return nil
	}
	return a.printer(cmd).Report(output.FindReport(found))
}

func runRegister(cmd *cobra.Command, a *app, args []string) error {
	format, err := schema.ParseFormat(registerFormat)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(registerFile)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	reg, err := a.orch.GetRegistry(args[0])
	if err != nil {
		return err
	}

	s, err := reg.RegisterSchema(cmd.Context(), args[1], string(content), format, nil)
	if err != nil {
		return fmt.Errorf("failed to register schema: %w", err)
	}
	output.Success("Registered %s version %d (id %d) in %s", args[1], s.Version, s.ID, args[0])
	return nil
}
