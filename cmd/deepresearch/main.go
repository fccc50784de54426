// deepresearch turns one question into a cited research report.
//
// Usage:
//
//	deepresearch ask "Compare diffusion models and GANs for image generation"
//	deepresearch serve --addr :8000
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/pkg/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "Deep research over the web with cited reports",
	Long: "deepresearch expands a question into five search queries, gathers and\n" +
		"deduplicates web evidence, and synthesizes a report with numbered sources.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "Path to config file (default: ./config.yaml, ~/.config/deepresearch/config.yaml)")
	f.StringVar(&rootFlags.envFile, "env-file", ".env", "Dotenv file loaded before the config")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// loadConfig reads the dotenv file, the config file and env overrides, in
// that order, and validates the result.
func loadConfig() (*config.Config, logger.Logger, error) {
	if err := godotenv.Load(rootFlags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load %s: %w", rootFlags.envFile, err)
	}

	cfg, err := config.LoadConfig(rootFlags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	return cfg, logger.NewStructured(cfg.Log.Level, cfg.Log.Format), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
