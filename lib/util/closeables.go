package util

import (
	"errors"
	"io"
	"sync"
)

// Closers closes registered resources in reverse registration order, so
// a component registered after its dependencies is closed before them.
type Closers struct {
	mu      sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Register adds c under a name used in logs. Nil closers are ignored.
func (cl *Closers) Register(name string, c io.Closer) {
	if c == nil {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.closers = append(cl.closers, namedCloser{name: name, c: c})
	log.WithField("count", len(cl.closers)).WithField("name", name).Debug("Registered closer")
}

// CloseAll closes everything registered so far and forgets it. Every
// closer runs even if an earlier one fails; the errors are joined.
func (cl *Closers) CloseAll() error {
	cl.mu.Lock()
	snapshot := cl.closers
	cl.closers = nil
	cl.mu.Unlock()

	var errs []error
	for i := len(snapshot) - 1; i >= 0; i-- {
		nc := snapshot[i]
		if err := nc.c.Close(); err != nil {
			log.WithError(err).WithField("name", nc.name).Warn("Error closing resource")
			errs = append(errs, err)
		}
	}
	log.WithField("count", len(snapshot)).Debug("All closers closed")
	return errors.Join(errs...)
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
