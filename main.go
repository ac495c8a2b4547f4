// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/harvest-cli/cmd"
)

// main is the entry point for the harvest CLI. Interrupts cancel the running
// command so crawls stop and in-flight downloads are abandoned cleanly.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
