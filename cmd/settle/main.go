// Command settle is the operator CLI for the settlement engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/settle/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
