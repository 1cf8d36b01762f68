package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shamd/shamd/pkg/admin"
	"github.com/shamd/shamd/pkg/config"
	"github.com/shamd/shamd/pkg/engine"
	"github.com/shamd/shamd/pkg/imposter"
	"github.com/shamd/shamd/pkg/logging"
	"github.com/shamd/shamd/pkg/metrics"
	"github.com/shamd/shamd/pkg/registry"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	configFile    string
	adminPort     int
	logLevel      string
	logFormat     string
	imposterFiles []string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API and serve imposters (foreground)",
	Example: `  # Start with defaults (admin API on :2525)
  shamd serve

  # Start with a config file
  shamd serve --config shamd.yaml

  # Load imposters at boot
  shamd serve --imposters imposters.json --admin-port 3525`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd, serveFlagVals)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlagVals.configFile, "config", "", "daemon configuration file (YAML or JSON)")
	serveCmd.Flags().IntVar(&serveFlagVals.adminPort, "admin-port", 0, "admin API port (overrides config)")
	serveCmd.Flags().StringVar(&serveFlagVals.logLevel, "log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveFlagVals.logFormat, "log-format", "", "log format: text, json")
	serveCmd.Flags().StringArrayVar(&serveFlagVals.imposterFiles, "imposters", nil, "imposter definition file to load at boot (repeatable)")
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg := config.Default()
	if flags.configFile != "" {
		loaded, err := config.LoadFromFile(flags.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flags.adminPort != 0 {
		cfg.AdminPort = flags.adminPort
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.LogFormat = flags.logFormat
	}
	cfg.ImposterFiles = append(cfg.ImposterFiles, flags.imposterFiles...)

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})

	metricsRegistry := metrics.NewRegistry()
	reg := registry.New()
	eng := engine.New(reg, engine.WithLogger(log), engine.WithMetrics(metricsRegistry))

	for _, path := range cfg.ImposterFiles {
		defs, err := config.LoadImposters(path)
		if err != nil {
			return fmt.Errorf("load imposters from %s: %w", path, err)
		}
		for i := range defs {
			comp, err := imposter.Compile(&defs[i])
			if err != nil {
				return fmt.Errorf("%s: imposter on port %d: %w", path, defs[i].Port, err)
			}
			if err := reg.Add(comp); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		log.Info("loaded imposter file", "path", path, "imposters", len(defs))
	}

	if err := eng.StartAll(); err != nil {
		return err
	}

	api := admin.NewAdminAPI(cfg.AdminPort, reg, eng,
		admin.WithLogger(log),
		admin.WithVersion(version),
		admin.WithMetricsRegistry(metricsRegistry),
	)
	if err := api.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "shamd admin API listening on port %d\n", cfg.AdminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		log.Error("admin shutdown failed", "error", err)
	}
	return eng.Shutdown(ctx)
}
