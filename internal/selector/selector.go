// Package selector implements the upstream selection policy: availability
// plus reliability tiering with fair rotation of probationary upstreams.
package selector

import (
	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// Selector picks at most one upstream per request from a Registry.
type Selector struct {
	reg *registry.Registry
	log *logger.Logger
}

// New builds a Selector bound to reg.
func New(reg *registry.Registry, log *logger.Logger) *Selector {
	return &Selector{reg: reg, log: log}
}

// Select runs the four-tier algorithm described in the reliability spec and
// returns the chosen upstream's key, or ok=false if nothing is eligible.
// The whole decision — including the sibling grade flip in tier 3 — happens
// inside one Registry mutation region, so a concurrent Select never observes
// a half-applied decision.
func (s *Selector) Select() (key string, ok bool) {
	s.reg.MutateAll(func(order []string, entries map[string]*registry.Entry) {
		// Tier 1: first available Reliable entry.
		for _, k := range order {
			e := entries[k]
			if !e.Busy && e.Grade == registry.Reliable {
				e.Busy = true
				key, ok = k, true
				s.log.Info("selector: chose reliable upstream", "upstream", k)
				return
			}
		}

		// Tier 2: first available Unreliable entry gets a probation turn.
		for _, k := range order {
			e := entries[k]
			if !e.Busy && e.Grade == registry.Unreliable {
				e.Busy = true
				e.Grade = registry.SecondChanceGiven
				key, ok = k, true
				s.log.Info("selector: giving another chance", "upstream", k)
				return
			}
		}

		// Tier 3: every Unreliable entry has already had its probation turn
		// this round. Picking one of them resets the round: every other
		// not-busy SecondChanceGiven entry flips back to Unreliable so the
		// next round of probation starts fresh.
		for _, k := range order {
			e := entries[k]
			if !e.Busy && e.Grade == registry.SecondChanceGiven {
				e.Busy = true
				for _, other := range order {
					if other == k {
						continue
					}
					oe := entries[other]
					if !oe.Busy && oe.Grade == registry.SecondChanceGiven {
						oe.Grade = registry.Unreliable
					}
				}
				key, ok = k, true
				s.log.Info("selector: 3rd+ chance", "upstream", k)
				return
			}
		}

		s.log.Info("selector: no available servers")
	})
	return key, ok
}
