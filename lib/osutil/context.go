package osutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Returns a context that is cancelled on SIGINT/SIGTERM, so an
// in-flight harvest can wind down instead of being killed mid-save
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}
