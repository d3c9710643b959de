//go:build windows

package signals

import (
	"os"
	"os/signal"
)

func notify() {
	signal.Notify(sigChan, os.Interrupt)
}

// dispatch runs the handlers for sig and reports whether it was an
// interrupt. Windows has no reload signal.
func dispatch(sig os.Signal) bool {
	if sig == os.Interrupt {
		Interrupt()
		return true
	}
	return false
}
