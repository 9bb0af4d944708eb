// Command e2e runs YAML end-to-end scenarios against the contador frontend
// and API.
package main

import (
	"fmt"
	"os"

	"github.com/arroschaves/brandaocontador-e2e/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "e2e:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
