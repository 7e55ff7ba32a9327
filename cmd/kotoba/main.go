// Command kotoba runs the Kotoba intent router: the HTTP and Matrix service,
// a terminal chat, and offline classification and archive queries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
