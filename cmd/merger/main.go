// Command merger runs call-merge passes: on a cron schedule (serve), once
// (run-once), for a single call (reprocess), and issues admin API tokens.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(rootCtx); err != nil {
		stop()
		os.Exit(1)
	}
}
