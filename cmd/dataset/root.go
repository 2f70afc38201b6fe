// Package main provides the BeeWatch dataset command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/beewatch/beewatch/internal/config"
)

// Version is set at compile time via ldflags.
var Version = "dev"

var (
	cfg        *config.Config
	log        zerolog.Logger
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "beewatch-dataset",
	Short: "Offline tooling for BeeWatch datasets",
	Long:  "Extracts labeled vegetation datasets for survey areas, issues admin tokens and prints the effective configuration.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_ = godotenv.Load() //nolint:errcheck // optional file

		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := config.NewLogger(cfg.Log, os.Stderr, "beewatch-dataset", Version)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log = l

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a beewatch.yaml file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
