package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/kvbridge/internal/cmd/client"
	serverrun "github.com/rzbill/kvbridge/internal/cmd/server"
	cfgpkg "github.com/rzbill/kvbridge/internal/config"
	logpkg "github.com/rzbill/kvbridge/pkg/log"
)

func main() {
	// CLI output before the config is known respects KVBRIDGE_LOG_LEVEL.
	parsed, err := logpkg.ParseLevel(os.Getenv("KVBRIDGE_LOG_LEVEL"))
	if err != nil {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:           "kvbridge",
		Short:         "Replicate an upstream mutation log into a RESP store",
		Long:          "kvbridge tails an upstream change log, translates each mutation into Redis commands and applies them downstream exactly once per position.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("KVBRIDGE_CONFIG"), "Config file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config and KVBRIDGE_DATA_DIR)")
	rootCmd.PersistentFlags().String("downstream", "", "Downstream address host:port (overrides config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replicate continuously and serve the HTTP status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("http"); cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = addr
			}
			return serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg})
		},
	}
	runCmd.Flags().String("http", "", "HTTP listen address; empty disables the server (default from config)")
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Replicate everything committed so far, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg, Once: true})
		},
	})

	clientcmd.AddCommands(rootCmd, loadConfig, apiURL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", logpkg.Err(err))
		cancel()
		os.Exit(1)
	}
}

// loadConfig layers the config file, KVBRIDGE_* variables and flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, errors.Wrap(err, "environment")
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if addr, _ := cmd.Flags().GetString("downstream"); addr != "" {
		cfg.Downstream.Addr = addr
	}
	return cfg, nil
}

func apiURL() string {
	if v := os.Getenv("KVBRIDGE_HTTP_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8642"
}
