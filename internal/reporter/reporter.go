// Package reporter renders the registry's live state to the structured
// logger whenever it changes, giving an operator a stable, greppable status
// line per upstream without needing to poll an HTTP endpoint.
package reporter

import (
	"context"
	"fmt"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// Reporter subscribes to a Registry and logs a numbered snapshot after
// every mutation.
type Reporter struct {
	reg *registry.Registry
	log *logger.Logger
	ch  chan []registry.Entry
}

// New builds and subscribes a Reporter. Call Run to start consuming.
func New(reg *registry.Registry, log *logger.Logger) *Reporter {
	r := &Reporter{reg: reg, log: log, ch: make(chan []registry.Entry, 8)}
	reg.Subscribe(r.ch)
	return r
}

// Run consumes published snapshots until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.ch:
			r.report(snap)
		}
	}
}

func (r *Reporter) report(snap []registry.Entry) {
	for i, e := range snap {
		busy := "Available"
		if e.Busy {
			busy = "Busy"
		}
		r.log.Info(fmt.Sprintf("status: upstream %d", i+1),
			"name", e.DisplayName,
			"key", e.Key,
			"state", fmt.Sprintf("Busy: %s", busy),
			"reliability", fmt.Sprintf("Reliability: %s", e.Grade.String()),
		)
	}
}
