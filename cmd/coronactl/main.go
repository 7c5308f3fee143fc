// Command coronactl runs the normalization pipeline once from the command
// line and inspects its output, or validates a local feed file.
//
// Usage:
//
//	coronactl load --out dataset.json
//	coronactl top -n 10
//	coronactl range
//	coronactl validate --kind states us-states.csv
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
