package main

import (
	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/internal/kotoba/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the Matrix gateway",
	Long: `Serve the chat API (and the Matrix gateway when matrix.homeserver is
set) until interrupted. The config file is watched and valid changes are
applied without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := holder.Load()
	logger.Info("kotoba: starting", "config", configPath, "settings", cfg.Summary())

	a, err := app.New(cmd.Context(), holder, configPath, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(cmd.Context())
}
