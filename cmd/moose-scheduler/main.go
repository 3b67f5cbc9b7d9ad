// Command moose-scheduler runs a batch of DAG-ordered jobs to completion.
package main

import (
	"fmt"
	"os"

	"github.com/jfgiraldoa/moose-scheduler/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
