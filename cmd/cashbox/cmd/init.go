/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/TravisTheTechie/Cashbox/pkg/config"

	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default Cashbox configuration file.

The data directory and engine kind are taken from the global flags.

Examples:
  cashbox init --data-dir=./data
  cashbox init --engine=sqlite --config=./cashbox.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		force, _ := cmd.Flags().GetBool("force")

		if config.ConfigExists(configPath) && !force {
			cmd.Printf("Config already exists at %s. Use --force to overwrite.\n", configPath)
			return nil
		}

		cfg := container.GetConfig()
		written, err := config.BootstrapConfig(configPath, cfg.DataDir, cfg.Engine.Kind)
		if err != nil {
			return err
		}

		cmd.Printf("Wrote config to %s\n", configPath)
		cmd.Printf("Engine: %s\n", written.Engine.Kind)
		cmd.Printf("Data directory: %s\n", written.DataDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}
