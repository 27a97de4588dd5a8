// Command sidecar runs the backup/restore sidecar for a single database node:
// one-shot snapshot backups, point-in-time restores, and a long-running
// scheduled mode with incremental backups and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ringbackup/sidecar/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
