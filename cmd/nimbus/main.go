// Nimbus storage core
//
// Commands:
// - serve: cached file route, health and metrics servers, job scheduler
// - job run <name>: run one maintenance job (sizer, reaper, indexer) and exit
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
