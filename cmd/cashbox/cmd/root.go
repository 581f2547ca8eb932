/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/TravisTheTechie/Cashbox/pkg/config"
	"github.com/TravisTheTechie/Cashbox/pkg/di"
	"github.com/TravisTheTechie/Cashbox/pkg/session"

	"github.com/spf13/cobra"
)

// container is built from the resolved configuration before every command
var container *di.Container

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cashbox",
	Short: "Cashbox - Embedded Document Store",
	Long: `Cashbox is an embedded document store with pluggable backends:
an append-only log, an in-memory map with snapshots, SQLite, PostgreSQL
and Pebble.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		container = di.NewContainer(cfg, logger)
		return nil
	},
}

// resolveConfig loads the config file when present and applies flag overrides
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultConfig()
	if config.ConfigExists(configPath) {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine.Kind, _ = cmd.Flags().GetString("engine")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}

	return cfg, nil
}

// withSession opens a session over the configured engine, runs fn and closes
// the session, waiting for queued writes.
func withSession(ctx context.Context, fn func(s *session.Session) error) error {
	if container == nil {
		return fmt.Errorf("dependency container not initialized")
	}

	s, err := container.OpenSession(ctx)
	if err != nil {
		return err
	}

	runErr := fn(s)
	if err := s.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close store: %w", err)
	}
	return runErr
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.GetDefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory for the store")
	rootCmd.PersistentFlags().StringP("engine", "e", config.KindLog, "Engine kind (log, memory, sqlite, postgres, pebble)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}
