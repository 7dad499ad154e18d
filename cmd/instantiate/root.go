package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/instantiate/internal/config"
	"github.com/yairfalse/instantiate/internal/telemetry"
)

const defaultConfigFile = "instantiate.toml"

var (
	version    = "0.1.0"
	configPath string
	logLevel   string
	debug      bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "instantiate",
		Short: "Multi-cloud deployment backend",
		Long: `Instantiate - deploy code to any cloud through one API

Instantiate wraps AWS, Azure, GCP, Alibaba, IBM, Oracle, DigitalOcean,
Linode, Huawei, Tencent and Netlify behind a unified deployment request,
and keeps a cached, merged view of everything it has deployed.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Instantiate {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./instantiate.toml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging with console output")
}

func setup(_ *cobra.Command, _ []string) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if debug {
		loaded.Log.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := telemetry.Setup(loaded.Log.Level, debug); err != nil {
		return fmt.Errorf("invalid log level %q: %w", loaded.Log.Level, err)
	}
	cfg = loaded
	return nil
}

// loadConfig reads path, or the default file when path is empty. A missing
// default file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	loaded, err := config.Load(defaultConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	if err == nil {
		log.Debug().Str("path", defaultConfigFile).Msg("loaded config")
	}
	return loaded, err
}
