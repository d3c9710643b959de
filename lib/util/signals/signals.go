// Package signals dispatches process signals to registered handlers:
// SIGHUP runs the reload handlers, SIGINT and SIGTERM run the interrupt
// handlers. Handlers run in registration order and a panicking handler
// does not stop the others.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered so a signal delivered while a handler runs is kept.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration for Deregister.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

type handlerList struct {
	kind     string
	handlers []registeredHandler
}

var (
	mu         sync.RWMutex
	nextID     HandlerID
	reloaders  = &handlerList{kind: "reload"}
	interrupts = &handlerList{kind: "interrupt"}
	stopOnce   sync.Once
	notifyOnce sync.Once
)

func register(l *handlerList, f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	l.handlers = append(l.handlers, registeredHandler{id: id, fn: f})
	return id
}

// RegisterReloadHandler registers f to run on SIGHUP. A nil f is ignored
// and yields -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return register(reloaders, f)
}

// RegisterInterruptHandler registers f to run on SIGINT or SIGTERM. A nil
// f is ignored and yields -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return register(interrupts, f)
}

// Deregister removes the reload or interrupt handler registered as id.
func Deregister(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range []*handlerList{reloaders, interrupts} {
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

func run(l *handlerList) {
	mu.RLock()
	snapshot := make([]registeredHandler, len(l.handlers))
	copy(snapshot, l.handlers)
	mu.RUnlock()

	log.WithFields(logger.Fields{
		"at":       "signals.run",
		"kind":     l.kind,
		"handlers": len(snapshot),
	}).Debug("running signal handlers")
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":    "signals.run",
						"kind":  l.kind,
						"panic": r,
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// Reload runs the reload handlers as if SIGHUP had arrived.
func Reload() { run(reloaders) }

// Interrupt runs the interrupt handlers as if SIGINT had arrived.
func Interrupt() { run(interrupts) }

// Handle subscribes to the platform signals and dispatches them until ctx
// is done or StopHandle is called. Handle returns after an interrupt has
// been dispatched.
func Handle(ctx context.Context) {
	notifyOnce.Do(notify)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigChan:
			if !ok {
				return
			}
			log.WithField("signal", sig.String()).Info("received signal")
			if dispatch(sig) {
				return
			}
		}
	}
}

// StopHandle stops signal delivery and makes Handle return. Only the
// first call has an effect.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
