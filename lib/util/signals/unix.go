//go:build !windows

package signals

import (
	"os"
	"os/signal"
	"syscall"
)

func notify() {
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// dispatch runs the handlers for sig and reports whether it was an
// interrupt.
func dispatch(sig os.Signal) bool {
	switch sig {
	case syscall.SIGHUP:
		Reload()
	case syscall.SIGINT, syscall.SIGTERM:
		Interrupt()
		return true
	}
	return false
}
