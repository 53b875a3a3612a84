package proxy

import (
	"sync"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/metrics"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
)

// Guard owns the busy flag and grade transition for exactly one selected
// upstream, for exactly one request. Release must converge to a single
// effective call no matter which code path reaches it first — the success
// path, an error path, a client disconnect, shutdown, or a recovered panic
// all call Release with their own Outcome, and sync.Once picks whichever
// gets there first.
type Guard struct {
	reg     *registry.Registry
	metrics *metrics.Collector
	key     string
	once    sync.Once
}

// NewGuard wraps a key the selector has already marked busy.
func NewGuard(reg *registry.Registry, mc *metrics.Collector, key string) *Guard {
	return &Guard{reg: reg, metrics: mc, key: key}
}

// Release clears the busy flag, applies outcome's grade transition, and
// records the outcome metric. Only the first call has any effect; every
// later call (from a second defer, a racing goroutine, etc.) is a no-op.
func (g *Guard) Release(outcome Outcome) {
	g.once.Do(func() {
		g.reg.WithEntry(g.key, func(e *registry.Entry) {
			e.Busy = false
			switch outcome {
			case OutcomeSucceeded:
				e.Grade = registry.Reliable
			case OutcomeFailedBeforeFirstByte, OutcomeFailedMidStream:
				e.Grade = registry.Unreliable
			case OutcomeClientCanceledCleanly, OutcomeShutdownInterrupted:
				// Neither the client going away nor a forced shutdown is
				// evidence the upstream itself is unhealthy, so its grade
				// is left exactly as Select() last set it.
			}
		})
		g.metrics.RecordOutcome(outcome.String())
	})
}
