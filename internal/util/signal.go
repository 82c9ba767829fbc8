package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// MonitorSystemSignals calls callback on SIGINT or SIGTERM until ctx ends.
func MonitorSystemSignals(ctx context.Context, callback func(os.Signal)) {
	sigchnl := make(chan os.Signal, 1)

	signal.Notify(sigchnl, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigchnl)

	for {
		select {
		case s := <-sigchnl:
			callback(s)
		case <-ctx.Done():
			return
		}
	}
}
