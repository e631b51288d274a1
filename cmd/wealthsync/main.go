package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/config"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
	"github.com/ajitpratap0/wealthsync/pkg/observability"

	// Register the built-in connectors and compiled-in plugins
	_ "github.com/ajitpratap0/wealthsync/pkg/connector/sources"
	_ "github.com/ajitpratap0/wealthsync/plugins/sample_bank"
)

var version = "0.1.0"

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "wealthsync.yaml"

// app carries state shared by subcommands.
type app struct {
	configFile  string
	logLevel    string
	metricsAddr string

	cfg            *config.Config
	log            *zap.Logger
	metricsServer  *http.Server
	shutdownTraces observability.ShutdownFunc
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "wealthsync",
		Short: "WealthSync - portfolio import orchestration",
		Long: `WealthSync pulls holdings and transactions from brokers, exchanges, market data
providers, CSV exports and bank plugins, normalizes them and records every sync as an
auditable job.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(context.Background())
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to the YAML configuration file (default ./wealthsync.yaml when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "WealthSync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newSyncCmd(a), newHealthCmd(a), newPluginsCmd(a))
	return root
}

func (a *app) setup(ctx context.Context) error {
	path := a.configFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Observability.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = logger.Get().With(zap.String("component", "wealthsync-cli"))

	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := observability.Setup(ctx, observability.Config{
		Enabled:        cfg.Observability.Tracing,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		SamplingRate:   1,
		Writer:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTraces = shutdown

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.log.Info("serving metrics", zap.String("addr", addr))
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if a.metricsServer != nil {
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	if a.shutdownTraces != nil {
		errs = append(errs, a.shutdownTraces(ctx))
	}
	_ = logger.Sync()
	return errors.Join(errs...)
}
