// Command syncboard serves shared scoreboard rooms and drives them from
// the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/syncboard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
