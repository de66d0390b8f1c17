// Command privtx runs and drives a private transaction node.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/privtx/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
