package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Print the intents detected in a message as JSON",
	Long: `Run the rule-based classifier on the text and print the ranked intents.
No handler runs and no LLM is called, so parameters are the ones the rules
extract on their own.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	c, err := intent.NewClassifier(holder.Load().Intent)
	if err != nil {
		return err
	}
	intents := c.Detect(strings.Join(args, " "), nil)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(intents)
}
