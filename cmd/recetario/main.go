// Command recetario queues recipe creations and edits offline and
// delivers them to the recipe service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recetario/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
