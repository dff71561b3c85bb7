package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// ForcedExitCode is the process exit code used when a second interrupt arrives before shutdown completes.
const ForcedExitCode = 130

// CreateContextWithShutdown returns a context that reports done on the first SIGINT or SIGTERM,
// so a running test can halt its workers and still write reports.
// A second signal exits the process immediately.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.Warnf("received %s, shutting down; signal again to exit immediately", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-c
		log.Errorf("received %s during shutdown, exiting", sig)
		os.Exit(ForcedExitCode)
	}()
	return ctx
}
