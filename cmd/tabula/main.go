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

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/engine"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/observability"
)

var version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configFile  string
	logLevel    string
	logEncoding string
	trace       bool
	metricsAddr string
	timeout     time.Duration
}

// app carries what PersistentPreRunE prepared.
type app struct {
	flags  globalFlags
	cfg    *config.EngineConfig
	logger *zap.Logger
	stop   func()
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tabula",
		Short: "Tabula - tabular transformation and validation engine",
		Long: `Tabula turns raw bank and finance exports (CSV, Parquet, JSON, Excel) into
validated, key-stamped rows using an embedded DuckDB engine.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.flags.configFile, "config", "c", "", "Path to engine configuration YAML (optional, ${ENV} is substituted)")
	f.StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	f.StringVar(&a.flags.logEncoding, "log-encoding", "console", "Log encoding (console, json)")
	f.BoolVar(&a.flags.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	f.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.DurationVar(&a.flags.timeout, "timeout", 30*time.Minute, "Command timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Tabula v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
		newInfoCmd(a),
		newTransformCmd(a),
		newQueryCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	a.cfg = config.NewEngineConfig()
	if a.flags.configFile != "" {
		if err := config.Load(a.flags.configFile, a.cfg); err != nil {
			return err
		}
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := a.cfg.Observability.LogLevel
	if a.flags.logLevel != "" {
		level = a.flags.logLevel
	}
	if err := logger.Init(logger.Config{
		Level:       level,
		Encoding:    a.flags.logEncoding,
		Development: a.cfg.Observability.Development,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	a.logger = logger.Named("cli")

	if a.flags.trace || a.cfg.Observability.EnableTracing {
		if err := observability.Init(ctx, observability.Config{
			ServiceName:    a.cfg.Observability.ServiceName,
			ServiceVersion: version,
			SamplingRate:   1,
			Writer:         os.Stderr,
			PrettyPrint:    true,
		}); err != nil {
			return err
		}
	}

	if a.flags.metricsAddr != "" {
		srv := &http.Server{Addr: a.flags.metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.stop = func() { _ = srv.Close() }
		a.logger.Info("serving metrics", zap.String("addr", a.flags.metricsAddr))
	}
	return nil
}

func (a *app) teardown() error {
	if a.stop != nil {
		a.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(ctx); err != nil {
		return err
	}
	_ = logger.Sync()
	return nil
}

// withEngine runs fn on an initialized engine that is closed afterwards,
// also on SIGINT or SIGTERM.
func (a *app) withEngine(ctx context.Context, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.flags.timeout)
	defer cancel()

	eng := engine.New(a.cfg, engine.WithLogger(logger.Named("engine")))
	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	stop := eng.SetupCleanupHandlers(ctx)
	defer stop()
	defer func() {
		if err := eng.Close(); err != nil {
			a.logger.Warn("engine close failed", zap.Error(err))
		}
	}()

	return fn(ctx, eng)
}
