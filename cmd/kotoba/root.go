package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/common/environment"
	"github.com/bdobrica/Kotoba/internal/kotoba/config"
	"github.com/bdobrica/Kotoba/internal/kotoba/observability"
)

var (
	configPath string
	envFile    string
	logLevel   string

	holder *config.Holder
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kotoba",
	Short: "Kotoba - an intent-routing conversational assistant",
	Long: `Kotoba classifies each message into intents, routes them to handlers
(chat, knowledge search, vector search, tool calls, embodied agents) and
keeps per-user conversations with identity capture and archival.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $"+config.EnvPath+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setup loads the dotenv file and the configuration, then installs the
// logger.
func setup(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := environment.LoadDotEnv(envFile); err != nil {
			return err
		}
	}
	if configPath == "" {
		configPath = config.PathFromEnv("")
	}

	h, err := config.Open(configPath)
	if err != nil {
		return err
	}
	cfg := h.Load()
	level := cfg.SlogLevel()
	if logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	holder = h
	logger = observability.Setup(cmd.ErrOrStderr(), level, cfg.Log.Format)
	return nil
}
