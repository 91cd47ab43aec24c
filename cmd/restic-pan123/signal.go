package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext cancels the returned context when the process receives
// SIGINT or SIGTERM, letting the HTTP server drain in-flight Restic
// requests. A second signal exits immediately, for operators who need to
// kill a server stuck mid-drain.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)

		for received := 0; ; received++ {
			select {
			case sig := <-signals:
				if received == 0 {
					logger.Info("shutting down", slog.String("signal", sig.String()))
					cancel()

					continue
				}

				logger.Warn("exiting without draining in-flight requests",
					slog.String("signal", sig.String()))
				os.Exit(1)
			case <-parent.Done():
				return
			}
		}
	}()

	return ctx
}
