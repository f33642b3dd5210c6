// Command tview administers incremental read models over a SQLite database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tview/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Flag and usage errors are not reported by the commands themselves.
		if _, ok := err.(*cli.ExitError); !ok {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
