// Package shutdown coordinates graceful drain of the proxy's listener: stop
// accepting new connections, let in-flight requests finish naturally, then
// report exit. A second interrupt signal escalates to a hard abort so an
// operator is never stuck waiting on a stream that will never end on its
// own.
package shutdown

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// State is one of the three phases of a shutdown.
type State int

const (
	Accepting State = iota
	Draining
	Exited
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "Accepting"
	case Draining:
		return "Draining"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Waiter is satisfied by anything that can block until its in-flight work
// has drained — the proxy Handler implements this via its WaitGroup.
type Waiter interface {
	Wait()
}

// Coordinator drives one http.Server through the Accepting -> Draining ->
// Exited lifecycle and owns the hard-abort channel that in-flight stream
// reads race against. HardAbortCh is available as soon as the Coordinator
// is built, before Attach — the proxy Handler needs the channel to wire
// into every request, but the http.Server it will eventually be attached to
// needs that same Handler to exist first.
type Coordinator struct {
	log *logger.Logger

	mu        sync.Mutex
	server    *http.Server
	waiter    Waiter
	state     State
	hardAbort chan struct{}
	abortOnce sync.Once
}

// New builds a Coordinator with no server attached yet. Call Attach once
// the http.Server and its Handler (the Waiter) exist.
func New(log *logger.Logger) *Coordinator {
	return &Coordinator{
		log:       log,
		state:     Accepting,
		hardAbort: make(chan struct{}),
	}
}

// Attach binds the coordinator to the server it will drain and the waiter
// whose in-flight work it must wait for. Must be called before Drain.
func (c *Coordinator) Attach(server *http.Server, waiter Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = server
	c.waiter = waiter
}

// HardAbortCh is closed the moment a second shutdown signal arrives. The
// proxy Handler passes this to every guardedBody so an in-flight stream can
// unblock immediately instead of waiting for client, upstream, or idle
// timeout.
func (c *Coordinator) HardAbortCh() <-chan struct{} {
	return c.hardAbort
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Info("shutdown: state transition", "state", s.String())
}

// State returns the coordinator's current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Drain begins graceful shutdown: stop accepting new connections and wait
// for in-flight handlers to finish. gracePeriod is only the deadline given
// to http.Server.Shutdown; after that Drain still waits on the Waiter with
// no time limit, so in-flight streams are never cut off by it. If ctx is canceled
// before the drain completes (the second signal), HardAbortCh is closed so
// any stream still blocked on upstream I/O unblocks immediately.
func (c *Coordinator) Drain(ctx context.Context, gracePeriod time.Duration) {
	c.setState(Draining)

	c.mu.Lock()
	server, waiter := c.server, c.waiter
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = server.Shutdown(shutdownCtx)
		waiter.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.abortOnce.Do(func() { close(c.hardAbort) })
		<-done
	}

	c.setState(Exited)
}
