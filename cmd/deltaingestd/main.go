// Command deltaingestd runs the Delta Lake write-path ingestion engine.
package main

import (
	"fmt"
	"os"

	"github.com/lakewriter/deltaingest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
