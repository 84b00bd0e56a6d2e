package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/config"
	"github.com/kamir/global-schema-registry/internal/kafka"
	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/schema"
	"github.com/kamir/global-schema-registry/internal/watcher"
)

var (
	watchRegistry       string
	watchBrokers        []string
	watchTopic          string
	watchGroupID        string
	watchMode           string
	watchFilter         string
	watchFromBeginning  bool
	watchMetricsAddr    string
	watchStatusInterval time.Duration
	watchSASLMech       string
	watchSASLUser       string
	watchSASLPass       string
	watchTLS            bool
	watchTLSSkip        bool
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Re-check subjects as new versions land on the _schemas topic",
	GroupID: groupServer,
	Long: `Tail a Confluent Schema Registry _schemas topic and, for every newly
registered version, re-run the transitive compatibility check for that
subject against a registry instance. Compatibility changes (CONFIG records)
are logged. Results are exported as Prometheus metrics.

Kafka settings come from the watch block of the config file and can be
overridden by flags:

  watch:
    brokers: [broker1:9092, broker2:9092]
    topic: _schemas
    group: gsr-watcher
    registry: prod-confluent
    mode: FULL_TRANSITIVE

Examples:
  gsr watch --registry prod-confluent --brokers localhost:9092

  # Enforce a stricter mode than the subjects carry, orders only
  gsr watch --registry prod-confluent --mode FULL_TRANSITIVE --filter "orders-*"

  # With SASL/TLS and a metrics endpoint
  gsr watch --registry prod-confluent \
    --brokers broker1:9092 \
    --sasl-mechanism SCRAM-SHA-512 --sasl-user gsr --sasl-password secret \
    --tls --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRegistry, "registry", "", "Registry id to check against (overrides watch.registry)")
	watchCmd.Flags().StringSliceVar(&watchBrokers, "brokers", nil, "Kafka broker addresses (overrides watch.brokers)")
	watchCmd.Flags().StringVar(&watchTopic, "topic", "", "Schema topic (overrides watch.topic)")
	watchCmd.Flags().StringVar(&watchGroupID, "group-id", "", "Consumer group (overrides watch.group)")
	watchCmd.Flags().StringVarP(&watchMode, "mode", "m", "", "Check under this mode instead of each subject's own")
	watchCmd.Flags().StringVarP(&watchFilter, "filter", "f", "", "Only check subjects matching this glob pattern")
	watchCmd.Flags().BoolVar(&watchFromBeginning, "from-beginning", false, "Replay the topic from the start when the group has no offsets")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().DurationVar(&watchStatusInterval, "status-interval", 30*time.Second, "Interval for status output")

	watchCmd.Flags().StringVar(&watchSASLMech, "sasl-mechanism", "", "SASL mechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512")
	watchCmd.Flags().StringVar(&watchSASLUser, "sasl-user", "", "SASL username")
	watchCmd.Flags().StringVar(&watchSASLPass, "sasl-password", "", "SASL password")
	watchCmd.Flags().BoolVar(&watchTLS, "tls", false, "Enable TLS for the Kafka connection")
	watchCmd.Flags().BoolVar(&watchTLSSkip, "tls-skip-verify", false, "Skip TLS certificate verification")

	rootCmd.AddCommand(watchCmd)
}

// resolveWatchConfig merges the config file's watch block with flags. Flags
// take precedence.
func resolveWatchConfig(wc config.WatchConfig) (kafka.ConsumerConfig, string, schema.CompatibilityMode, error) {
	cfg := kafka.ConsumerConfig{
		Brokers:       wc.Brokers,
		Topic:         wc.Topic,
		GroupID:       wc.Group,
		SASLMechanism: strings.ToUpper(watchSASLMech),
		SASLUser:      config.ExpandEnv(watchSASLUser),
		SASLPassword:  config.ExpandEnv(watchSASLPass),
		TLSEnabled:    watchTLS,
		TLSSkipVerify: watchTLSSkip,
		FromBeginning: watchFromBeginning,
	}
	if len(watchBrokers) > 0 {
		cfg.Brokers = watchBrokers
	}
	if watchTopic != "" {
		cfg.Topic = watchTopic
	}
	if watchGroupID != "" {
		cfg.GroupID = watchGroupID
	}
	if len(cfg.Brokers) == 0 {
		return cfg, "", "", fmt.Errorf("no Kafka brokers configured. Use --brokers or set watch.brokers in the config file")
	}

	registryID := wc.Registry
	if watchRegistry != "" {
		registryID = watchRegistry
	}
	if registryID == "" {
		return cfg, "", "", fmt.Errorf("no registry to check against. Use --registry or set watch.registry in the config file")
	}

	modeName := wc.Mode
	if watchMode != "" {
		modeName = watchMode
	}
	var mode schema.CompatibilityMode
	if modeName != "" {
		m, err := schema.ParseCompatibilityMode(modeName)
		if err != nil {
			return cfg, "", "", err
		}
		mode = m
	}
	return cfg, registryID, mode, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	kafkaCfg, registryID, mode, err := resolveWatchConfig(cfg.Watch)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.orch.GetRegistry(registryID); err != nil {
		return err
	}

	output.Header("Schema Topic Watcher")
	output.Info("Kafka brokers: %s", strings.Join(kafkaCfg.Brokers, ", "))
	output.Info("Topic: %s (group %s)", kafkaCfg.Topic, kafkaCfg.GroupID)
	output.Info("Registry: %s", registryID)
	if mode != "" {
		output.Info("Mode: %s", mode)
	}
	if watchFilter != "" {
		output.Info("Filter: %s", watchFilter)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := kafka.NewConsumer(kafkaCfg, a.log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	w, err := watcher.New(watcher.Config{
		Source:     consumer,
		Registries: a.orch,
		Checker:    a.orch.Checker(),
		Recorder:   a.metrics,
		Log:        a.log,
		RegistryID: registryID,
		Mode:       mode,
		Filter:     watchFilter,
	})
	if err != nil {
		return err
	}

	if watchStatusInterval > 0 {
		go watcher.NewStatusReporter(w.Stats(), watchStatusInterval, kafkaCfg.Topic, registryID).Run(ctx)
	}

	if watchMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, a.metrics.Handler())
		srv := &http.Server{Addr: watchMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			output.Info("Prometheus metrics at http://%s%s", watchMetricsAddr, cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server error", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	output.Success("Watching %s", kafkaCfg.Topic)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher error: %w", err)
	}

	snap := w.Stats().Snapshot()
	output.Header("Watcher Stopped")
	output.NewPrinterTo("table", cmd.OutOrStdout()).Table(
		[]string{"Metric", "Value"},
		[][]string{
			{"Subjects Checked", fmt.Sprint(snap.Checked)},
			{"Incompatible", fmt.Sprint(snap.Incompatible)},
			{"Config Changes", fmt.Sprint(snap.ConfigChanges)},
			{"Errors", fmt.Sprint(snap.Errors)},
			{"Total Events", fmt.Sprint(snap.EventsProcessed)},
			{"Filtered Events", fmt.Sprint(snap.EventsFiltered)},
			{"Last Offset", fmt.Sprint(snap.LastOffset)},
			{"Uptime", snap.Uptime.Truncate(time.Second).String()},
		},
	)
	return nil
}
