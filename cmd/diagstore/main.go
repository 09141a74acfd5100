// Command diagstore edits diagram documents from the command line.
//
// Usage: diagstore --file <document.json> <command> [arguments]
package main

import (
	"fmt"
	"os"
)

func main() {
	cli := NewCLI()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
