package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/config"
	"github.com/kamir/global-schema-registry/internal/logging"
	"github.com/kamir/global-schema-registry/internal/metrics"
	"github.com/kamir/global-schema-registry/internal/orchestrator"
	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/plugins"
	"github.com/kamir/global-schema-registry/internal/registry"
)

// app is the wiring shared by every command: config, logger, metrics and
// an orchestrator populated from the config's registries.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
}

// loadConfig reads the config file and applies flag overrides. One-shot
// commands log at warn unless --log-level says otherwise.
func loadConfig(longRunning bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	switch {
	case logLevel != "":
		cfg.Log.Level = logLevel
	case !longRunning:
		cfg.Log.Level = "warn"
	}
	if workers > 0 {
		cfg.Bulk.Workers = workers
	}
	return cfg, nil
}

// newApp builds the orchestrator and adds every enabled registry. Entries
// that fail to initialize are logged and skipped.
func newApp(cfg *config.Config, runtimeMetrics bool) (*app, error) {
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	m := metrics.New(logging.ServiceName, runtimeMetrics)

	p := registry.NewPlugins(log)
	if err := plugins.RegisterBuiltins(p); err != nil {
		return nil, fmt.Errorf("failed to register built-in backends: %w", err)
	}

	orch := orchestrator.New(p,
		orchestrator.WithWorkers(cfg.Bulk.Workers),
		orchestrator.WithScopeAwareChecks(cfg.Bulk.ScopeAware),
		orchestrator.WithObserver(m),
		orchestrator.WithLogger(log),
	)

	added, err := cfg.AddRegistries(orch, log)
	if err != nil {
		log.Warn("some registries could not be added", zap.Error(err))
	}
	log.Debug("orchestrator ready", zap.Strings("registries", added), zap.String("config", cfg.File))

	return &app{cfg: cfg, log: log, metrics: m, orch: orch}, nil
}

// Close shuts down every backend.
func (a *app) Close() {
	if err := a.orch.Shutdown(); err != nil {
		a.log.Warn("shutdown reported an error", zap.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) printer(cmd *cobra.Command) *output.Printer {
	return output.NewPrinterTo(outputFormat, cmd.OutOrStdout())
}

type runFunc func(cmd *cobra.Command, a *app, args []string) error

// withApp adapts a runFunc into a cobra RunE that bootstraps and closes
// the app around it.
func withApp(run runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
