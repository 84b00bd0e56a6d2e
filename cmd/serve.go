package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/logging"
	"github.com/kamir/global-schema-registry/internal/output"
	"github.com/kamir/global-schema-registry/internal/rest"
)

var (
	serveAddr           string
	serveHealthInterval time.Duration
	serveEmbeddedNATS   bool
	serveNATSPort       int
	serveNATSStoreDir   string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the federation REST API",
	GroupID: groupServer,
	Long: `Serve the federation REST API and Prometheus metrics.

Registries of type 'local' with a nats:// URL keep their state in a NATS
JetStream key-value bucket. --embedded-nats starts a JetStream-enabled NATS
server in-process for them, so no external NATS is needed.

Examples:
  gsr serve
  gsr serve --addr :9000 --health-interval 30s
  gsr serve --embedded-nats --nats-port 4222`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.address)")
	serveCmd.Flags().DurationVar(&serveHealthInterval, "health-interval", time.Minute, "Interval between background health probes (0 = disabled)")
	serveCmd.Flags().BoolVar(&serveEmbeddedNATS, "embedded-nats", false, "Start an embedded NATS server with JetStream")
	serveCmd.Flags().IntVar(&serveNATSPort, "nats-port", 4222, "Port of the embedded NATS server")
	serveCmd.Flags().StringVar(&serveNATSStoreDir, "nats-store-dir", "", "JetStream storage directory (default: a temp dir)")

	rootCmd.AddCommand(serveCmd)
}

// startEmbeddedNATS runs a JetStream-enabled NATS server on 127.0.0.1.
func startEmbeddedNATS(port int, storeDir string, log *zap.Logger) (*natsd.Server, func(), error) {
	cleanup := func() {}
	if storeDir == "" {
		dir, err := os.MkdirTemp("", "gsr-nats-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create temp directory: %w", err)
		}
		storeDir = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	}

	ns, err := natsd.NewServer(&natsd.Options{
		Host:       "127.0.0.1",
		Port:       port,
		JetStream:  true,
		StoreDir:   storeDir,
		MaxPayload: 8 * 1024 * 1024,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		cleanup()
		return nil, nil, fmt.Errorf("embedded NATS server failed to start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !ns.JetStreamEnabled() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		ns.Shutdown()
		cleanup()
		return nil, nil, fmt.Errorf("JetStream failed to start")
	}

	log.Info("embedded NATS server started", zap.String("url", ns.ClientURL()), zap.String("store_dir", storeDir))
	return ns, func() {
		ns.Shutdown()
		ns.WaitForShutdown()
		cleanup()
	}, nil
}

// probeHealth refreshes the health gauges every interval until ctx is done.
func probeHealth(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, status := range a.orch.HealthCheckAll(ctx) {
				if !status.Healthy {
					a.log.Warn("registry unhealthy", zap.String("registry_id", id), zap.String("message", status.Message))
				}
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Address = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// NATS must be up before local registries connect to it.
	var stopNATS func()
	if serveEmbeddedNATS {
		bootLog, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
		if err != nil {
			return err
		}
		_, stopNATS, err = startEmbeddedNATS(serveNATSPort, serveNATSStoreDir, bootLog)
		if err != nil {
			return err
		}
		defer stopNATS()
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []rest.Option{rest.WithLogger(a.log)}
	if cfg.Metrics.Enabled {
		opts = append(opts, rest.WithMetricsHandler(a.metrics.Handler()), rest.WithMetricsPath(cfg.Metrics.Path))
	}
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           rest.NewServer(a.orch, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveHealthInterval > 0 {
		go probeHealth(ctx, a, serveHealthInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", zap.String("addr", cfg.Server.Address),
			zap.Int("registries", len(a.orch.ListRegistries())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	output.Success("Serving on %s", cfg.Server.Address)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown error", zap.Error(err))
	}
	return nil
}
