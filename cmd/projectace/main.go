package main

import (
	"fmt"
	"os"

	"github.com/Iseeumhmm/projectace-demo/internal/config"
	"github.com/Iseeumhmm/projectace-demo/internal/logger"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "projectace",
		Short:         "Video engagement telemetry: ingest API and tracker replay",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $PROJECTACE_CONFIG_PATH or ./projectace.yaml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(replayCmd(&configPath))
	return rootCmd
}

// resolveConfigPath picks the flag, then the environment, then a file in the
// working directory.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("PROJECTACE_CONFIG_PATH"); env != "" {
		return env
	}
	if _, err := os.Stat("projectace.yaml"); err == nil {
		return "projectace.yaml"
	}
	return ""
}

// loadConfig loads the global configuration and configures the root logger
// from it.
func loadConfig(flag string) (*config.Config, hclog.Logger, error) {
	path := resolveConfigPath(flag)
	if err := config.Load(path); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %q: %w", path, err)
	}
	cfg := config.Get()
	log := logger.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if path != "" {
		log.Info("configuration loaded", "path", path)
	}
	return cfg, log, nil
}
