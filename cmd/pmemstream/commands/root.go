// Package commands implements the pmemstream CLI's command tree.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/pmemstream-go/internal/logger"
	"github.com/marmos91/pmemstream-go/pkg/config"
	"github.com/marmos91/pmemstream-go/pkg/telemetry"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "pmemstream",
	Short: "pmemstream - an append-only log engine over byte-addressable persistent memory",
	Long: `pmemstream manages a single append-only log: variable-size entries
reserved and published into fixed-size regions carved out of one
memory-mapped backing file, each entry assigned a globally increasing
timestamp at publish time.

Use "pmemstream [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initAmbientStack()
	},
}

// initAmbientStack configures logging, tracing, and metrics from the
// resolved config before any subcommand's RunE runs. Subcommands still
// load their own config for stream options; this only turns on the
// observability surface, which is otherwise a no-op.
func initAmbientStack() error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	tracingCfg := telemetry.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	if cfg.Telemetry.TracingOTLP != "" {
		tracingCfg.Enabled = true
		tracingCfg.Endpoint = cfg.Telemetry.TracingOTLP
	}
	if _, err := telemetry.InitTracing(context.Background(), tracingCfg); err != nil {
		return fmt.Errorf("configuring tracing: %w", err)
	}

	if cfg.Telemetry.MetricsAddr != "" {
		telemetry.InitMetrics()
		go func() {
			srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: telemetry.Handler()}
			logger.Info("metrics listening", logger.Operation("metrics_server"))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", logger.Err(err))
			}
		}()
	}

	return nil
}

// Execute adds all child commands to the root command and runs it. It
// is called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (if unset, only defaults and PMEMSTREAM_* environment variables apply)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(iterateCmd)
	rootCmd.AddCommand(ringbufferCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}

// Exit prints an error to stderr and exits with status 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
