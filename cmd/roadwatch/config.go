package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/road-telemetry/roadwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect roadwatch configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration that serve would run with, after defaults,
the config file, .env and ROADWATCH_* variables are applied. Secrets are
masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
