package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/multigraph"
	"github.com/vigraph/vg-server-sub000/value"
)

// Transaction is an ordered list of operations applied atomically between
// ticks: either every operation takes effect or none does.
type Transaction []Op

// Result describes an applied or rejected transaction
type Result struct {
	ID       uuid.UUID `json:"id"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
	// Pruned lists connections and boundary pins dropped because the
	// transaction removed what they referred to
	Pruned []string `json:"pruned,omitempty"`
}

// Apply runs a transaction against the live structure. It waits for an
// in-flight tick; the next tick sees either the whole transaction or none of
// it. A rejected transaction returns an error wrapping
// errors.ErrTransactionRejected together with the cause.
func (e *Engine) Apply(ctx context.Context, tx Transaction) (Result, error) {
	if e.State() == StateStopped {
		return Result{}, errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Apply", "state check")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errors.WrapTransient(err, "Engine", "Apply", "context check")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(tx)
}

func (e *Engine) applyLocked(tx Transaction) (Result, error) {
	res := Result{ID: uuid.New()}
	reject := func(cause error) (Result, error) {
		res.Reason = cause.Error()
		e.metrics.recordTransaction(false)
		e.logger.Info("transaction rejected", "id", res.ID, "ops", len(tx), "reason", res.Reason)
		return res, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrTransactionRejected, cause),
			"Engine", "Apply", "transaction")
	}
	if e.root == nil {
		return reject(errors.ErrNotStarted)
	}

	next := e.desc.Copy()
	for i, op := range tx {
		if err := op.edit(next); err != nil {
			return reject(fmt.Errorf("op %d (%s): %w", i, op.Kind(), err))
		}
	}
	res.Pruned = next.Prune()
	if err := description.Validate(next); err != nil {
		return reject(err)
	}

	// A full build of the result checks pin types, properties and cycles
	// without touching the live structure.
	dry, bindings, err := e.prepare(next)
	if err != nil {
		return reject(err)
	}

	if leafRoot := !next.IsComposition(); leafRoot != e.leafRoot {
		if err := e.swapRoot(dry, leafRoot, bindings); err != nil {
			return reject(err)
		}
	} else {
		_ = dry.Close()
		if err := e.applyLive(tx, next); err != nil {
			return reject(err)
		}
	}

	e.desc = next
	e.spawner.settle(tx, next)
	e.router.Collect()
	e.metrics.setChannels(len(e.router.Channels()))
	e.metrics.recordTransaction(true)
	res.Accepted = true
	e.logger.Debug("transaction applied", "id", res.ID, "ops", len(tx), "pruned", len(res.Pruned))
	return res, nil
}

// applyLive applies every operation to the running units so element state
// survives. Any failure undoes the applied operations in reverse order.
func (e *Engine) applyLive(tx Transaction, next *description.Graph) error {
	l := &live{b: e.builder, root: e.root, leafRoot: e.leafRoot}
	restore := snapshotLinks(e.root)

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		restore()
	}

	for i, op := range tx {
		u, err := op.apply(l)
		if err != nil {
			rollback()
			return fmt.Errorf("op %d (%s): %w", i, op.Kind(), err)
		}
		undo = append(undo, u)
	}
	l.refresh()

	bindings, err := collectBindings(e.root, next.Subscriptions)
	if err == nil {
		err = e.checkBindings(bindings)
	}
	if err == nil {
		old := e.bindings
		if err = e.rebind(bindings); err != nil {
			e.restoreBindings(old)
		}
	}
	if err != nil {
		rollback()
		return err
	}

	for _, closeFn := range l.retired {
		if err := closeFn(); err != nil {
			e.logger.Warn("closing removed unit", "error", err)
		}
	}
	return nil
}

// swapRoot replaces the whole live structure, used when a transaction turns
// a leaf root into a composition or back
func (e *Engine) swapRoot(root *multigraph.MultiGraph, leafRoot bool, bindings []binding) error {
	old := e.bindings
	if err := e.rebind(bindings); err != nil {
		_ = root.Close()
		e.restoreBindings(old)
		return err
	}
	previous := e.root
	e.root = root
	e.leafRoot = leafRoot
	if err := previous.Close(); err != nil {
		e.logger.Warn("closing replaced graph", "error", err)
	}
	return nil
}

// snapshotLinks records the connections and boundary pins of every
// composition. The returned func re-creates the ones that have gone missing.
func snapshotLinks(root *multigraph.MultiGraph) func() {
	type links struct {
		m        *multigraph.MultiGraph
		conns    []graph.Connection
		boundary []multigraph.Boundary
	}
	var saved []links
	for _, m := range compositions(root) {
		saved = append(saved, links{m: m, conns: m.Connections(), boundary: m.Boundary()})
	}
	return func() {
		for _, s := range saved {
			s.m.Refresh()
			have := s.m.Boundary()
			for _, b := range s.boundary {
				if !slices.ContainsFunc(have, func(h multigraph.Boundary) bool { return h.Name == b.Name }) {
					_ = s.m.ExposePin(b.Name, b.Subgraph, b.Internal)
				}
			}
			conns := s.m.Connections()
			for _, c := range s.conns {
				if !slices.Contains(conns, c) {
					_ = s.m.Connect(c.From.String(), c.To.String())
				}
			}
		}
	}
}

// checkBindings verifies that the bindings agree on channel types with each
// other and with everything outside the engine's current references
func (e *Engine) checkBindings(bindings []binding) error {
	types, err := channelTypes(bindings)
	if err != nil {
		return err
	}
	current := make(map[string]bool)
	for _, h := range holders(e.bindings) {
		current[h] = true
	}
	released := func(h string) bool { return current[h] }
	for _, name := range sortedChannels(types) {
		if err := e.router.Compatible(name, types[name], released); err != nil {
			return err
		}
	}
	return nil
}

// rebind releases the current channel references and registers bindings in
// their place. Channels that only change type are collected first.
func (e *Engine) rebind(bindings []binding) error {
	for _, h := range holders(e.bindings) {
		e.router.Release(h)
	}
	e.bindings = nil

	var deferred []binding
	for _, b := range bindings {
		if err := e.bind(b); err != nil {
			if !stderrors.Is(err, errors.ErrChannelTypeMismatch) {
				e.releaseAll(bindings)
				return err
			}
			deferred = append(deferred, b)
		}
	}
	if len(deferred) > 0 {
		e.router.Collect()
		for _, b := range deferred {
			if err := e.bind(b); err != nil {
				e.releaseAll(bindings)
				return err
			}
		}
	}

	e.bindings = bindings
	e.updateTaps()
	return nil
}

func (e *Engine) bind(b binding) error {
	if b.Role == element.RolePublish {
		return e.router.Advertise(b.Channel, b.Type, b.holder)
	}
	return e.router.Listen(b.Channel, b.Type, b.holder)
}

func (e *Engine) releaseAll(bindings []binding) {
	for _, h := range holders(bindings) {
		e.router.Release(h)
	}
}

// restoreBindings rebinds a previous binding set after a failed rebind
func (e *Engine) restoreBindings(old []binding) {
	if err := e.rebind(old); err != nil {
		e.logger.Error("restoring channel bindings", "error", err)
	}
}

// updateTaps maps channels to the description subscriptions tapping them
func (e *Engine) updateTaps() {
	byChannel := make(map[string][]string)
	ids := make(map[string]bool)
	for _, b := range e.bindings {
		id, ok := strings.CutPrefix(b.holder, subscriptionHolder)
		if !ok {
			continue
		}
		byChannel[b.Channel] = append(byChannel[b.Channel], id)
		ids[id] = true
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.tapsOf.Range(func(k, _ any) bool {
		if _, ok := byChannel[k.(string)]; !ok {
			e.tapsOf.Delete(k)
		}
		return true
	})
	for ch, list := range byChannel {
		e.tapsOf.Store(ch, list)
	}
	e.taps.Range(func(k, _ any) bool {
		if !ids[k.(string)] {
			if old, loaded := e.taps.LoadAndDelete(k); loaded {
				old.(value.Value).Release()
			}
		}
		return true
	})
}
