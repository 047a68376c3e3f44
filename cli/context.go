package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	ufcli "github.com/urfave/cli/v2"
)

// ReqContext returns a context that is cancelled on SIGTERM, SIGINT or
// SIGHUP. Calling it installs the signal handler.
// Not safe for concurrent execution.
func ReqContext(cctx *ufcli.Context) context.Context {
	parent := cctx.Context
	if parent == nil {
		parent = context.Background()
	}

	ctx, done := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("received %s, shutting down", sig)
			done()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	return ctx
}
