// Command clrsentry is the CLI entry point: a thin main that hands off to
// internal/cli's cobra root command and maps a returned error to exit code 1.
package main

import (
	"fmt"
	"os"

	"github.com/diffsec/clrsentry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
