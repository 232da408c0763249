// Command viewkit compiles, deploys and queries map/reduce views.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/viewkit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "viewkit: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
