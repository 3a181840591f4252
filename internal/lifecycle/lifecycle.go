// Package lifecycle handles OS signal-driven shutdown.
package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForSignals calls onSignal once, in a background goroutine, on the
// first SIGINT or SIGTERM.
func WaitForSignals(onSignal func()) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		if onSignal != nil {
			onSignal()
		}
	}()
}
