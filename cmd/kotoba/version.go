package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/common/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// The version needs no configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kotoba %s\n", version.Info())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
