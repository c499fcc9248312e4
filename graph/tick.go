package graph

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

type savedPin struct {
	pin *element.Pin
	v   value.Value
	set bool
}

// Tick runs every element once in tick order. Element failures and panics are
// recorded as faults in the report; a faulted element's outputs keep the values
// of its last successful tick and its siblings still run.
func (g *Graph) Tick(ctx *tick.Context) tick.Report {
	started := time.Now()
	report := tick.Report{Tick: ctx.Tick, Start: ctx.Start}

	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.scheduleLocked()
	if err != nil {
		report.Faults = []tick.Fault{{Reason: err.Error(), Err: err}}
		return report
	}

	faults := make([]*tick.Fault, len(s.order))
	for _, batch := range s.batches {
		g.runBatch(ctx, s, batch, faults)
	}

	for _, f := range faults {
		if f != nil {
			report.Faults = append(report.Faults, *f)
		}
	}
	g.trackFaults(ctx, report.Faults)

	report.Elements = len(s.order)
	report.Duration = time.Since(started)
	return report
}

func (g *Graph) runBatch(ctx *tick.Context, s *schedule, batch []string, faults []*tick.Fault) {
	if g.parallelism < 2 || len(batch) < 2 {
		for _, id := range batch {
			faults[s.index[id]] = g.tickElement(ctx, s, id)
		}
		return
	}

	var eg errgroup.Group
	eg.SetLimit(g.parallelism)

	var serial []string
	for _, id := range batch {
		if usesChannels(g.nodes[id]) {
			serial = append(serial, id)
			continue
		}
		id := id
		eg.Go(func() error {
			faults[s.index[id]] = g.tickElement(ctx, s, id)
			return nil
		})
	}
	if len(serial) > 0 {
		eg.Go(func() error {
			for _, id := range serial {
				faults[s.index[id]] = g.tickElement(ctx, s, id)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (g *Graph) tickElement(ctx *tick.Context, s *schedule, id string) (fault *tick.Fault) {
	e := g.nodes[id]

	outputs := e.Outputs()
	saved := make([]savedPin, len(outputs))
	for i, p := range outputs {
		v, set := p.Snapshot()
		saved[i] = savedPin{pin: p, v: v, set: set}
	}

	ectx := ctx.At(ctx.Position.Child(s.index[id]), path(ctx.ElementID, id))
	defer func() {
		if r := recover(); r != nil {
			fault = newFault(id, e, fmt.Errorf("panic: %v", r))
		}
		if fault != nil && ctx.Router != nil {
			ctx.Router.Discard(ectx.Position)
		}
		for _, sp := range saved {
			if fault != nil {
				sp.pin.Restore(sp.v, sp.set)
			} else {
				sp.v.Release()
			}
		}
	}()

	if err := e.Tick(ectx); err != nil {
		return newFault(id, e, err)
	}
	return nil
}

func newFault(id string, e element.Element, cause error) *tick.Fault {
	err := fmt.Errorf("%w: %s: %w", errors.ErrElementFault, id, cause)
	return &tick.Fault{Element: id, Type: e.Type(), Reason: cause.Error(), Err: err}
}

// trackFaults logs elements entering and leaving the faulted state rather than
// every faulted tick.
func (g *Graph) trackFaults(ctx *tick.Context, faults []tick.Fault) {
	now := make(map[string]bool, len(faults))
	for _, f := range faults {
		now[f.Element] = true
		if !g.faulted[f.Element] {
			g.logger.Warn("element tick failed",
				"element", path(ctx.ElementID, f.Element),
				"type", f.Type,
				"tick", ctx.Tick,
				"error", f.Reason)
		}
	}
	for id := range g.faulted {
		if !now[id] {
			if _, exists := g.nodes[id]; exists {
				g.logger.Info("element recovered", "element", path(ctx.ElementID, id), "tick", ctx.Tick)
			}
		}
	}
	g.faulted = now
}

func path(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}
