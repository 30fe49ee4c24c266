package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"geohint/internal/config"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "geohint",
		Short:         "Locate hosts from domain-name hints and latency evidence",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	cmd.AddCommand(newRunCmd(), newMatchCmd(), newVersionCmd())
	return cmd
}

// loadConfig loads the configuration honoring the --config flag and sets up
// logging.
func loadConfig() (*config.Config, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if cfgPath != "" {
		cfg, path, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log.SetHandler(cli.New(os.Stderr))
	if err := setLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if path != "" {
		log.WithField("path", path).Debug("config loaded")
	} else {
		log.Debug("no config file found, using defaults")
	}
	return cfg, nil
}

func setLogLevel(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return nil
}
