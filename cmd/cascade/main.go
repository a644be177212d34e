// Command cascade validates callback declarations, runs scheduler
// scenarios and inspects their recorded traces.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cascade/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
