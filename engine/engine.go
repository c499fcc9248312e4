package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/generator"
	"github.com/vigraph/vg-server-sub000/health"
	"github.com/vigraph/vg-server-sub000/metric"
	"github.com/vigraph/vg-server-sub000/multigraph"
	"github.com/vigraph/vg-server-sub000/pkg/buffer"
	"github.com/vigraph/vg-server-sub000/router"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// ReportSubject is the NATS subject tick reports are published on
const ReportSubject = "vigraph.reports"

// State is the engine lifecycle state
type State int32

// Engine states
const (
	StateStopped State = iota
	StateRunning
	StateReloading
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Publisher sends encoded tick reports; *natsclient.Client satisfies it
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config holds the engine's tuning knobs
type Config struct {
	TickInterval time.Duration
	// Parallelism is the default batch parallelism of leaf graphs that do
	// not set their own
	Parallelism   int
	ReportHistory int
	// SpawnRate limits spawn and despawn requests per second; 0 is unlimited
	SpawnRate  float64
	SpawnBurst int
}

// DefaultConfig returns the defaults used by the CLI
func DefaultConfig() Config {
	return Config{
		TickInterval:  40 * time.Millisecond,
		Parallelism:   4,
		ReportHistory: 256,
		SpawnRate:     10,
		SpawnBurst:    20,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the time source; the default is a WallClock
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRouter shares an existing router, e.g. one bridged to NATS
func WithRouter(r *router.Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithMetrics registers engine metrics and reports health on the registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithBackground sets the worker pool handed to elements in the tick context
func WithBackground(b tick.Background) Option {
	return func(e *Engine) { e.background = b }
}

// WithReportPublisher publishes every tick report as JSON on ReportSubject
func WithReportPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// Engine runs the tick loop over a live root MultiGraph and applies control
// transactions between ticks.
type Engine struct {
	cfg        Config
	registry   *metric.MetricsRegistry
	builder    *builder
	router     *router.Router
	clock      Clock
	background tick.Background
	publisher  Publisher
	spawner    *spawner
	logger     *slog.Logger
	metrics    *engineMetrics
	monitor    *health.Monitor
	reports    buffer.Buffer[tick.Report]

	// lifecycle serializes Start, Stop and Reload
	lifecycle sync.Mutex
	state     atomic.Int32

	// mu is held for every tick and every transaction
	mu       sync.Mutex
	root     *multigraph.MultiGraph
	leafRoot bool
	desc     *description.Graph
	bindings []binding
	tickNo   uint64
	started  time.Time
	last     tick.Report
	faults   int

	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	fatal   chan error
	publish atomic.Bool

	taps   sync.Map // subscription id -> value.Value
	tapsOf sync.Map // channel -> []string subscription ids
	subsMu sync.Mutex
}

// New creates a stopped engine over a registry of element types
func New(registry *element.Registry, cfg Config, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "registry cannot be nil")
	}
	if cfg.TickInterval <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: tick interval %v", errors.ErrInvalidConfig, cfg.TickInterval),
			"Engine", "New", "config validation")
	}
	if cfg.ReportHistory < 1 {
		cfg.ReportHistory = 1
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		fatal:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	if e.router == nil {
		e.router = router.New(router.WithLogger(e.logger))
	}
	if e.clock == nil {
		e.clock = NewWallClock()
	}

	metrics, err := newEngineMetrics(e.registry)
	if err != nil {
		e.logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}
	e.metrics = metrics

	var core *metric.Metrics
	var bufOpts []buffer.Option[tick.Report]
	if e.registry != nil && metrics != nil {
		core = e.registry.CoreMetrics()
		bufOpts = append(bufOpts, buffer.WithMetrics[tick.Report](e.registry, "reports"))
	}
	e.monitor = health.NewMonitor(core)

	e.reports, err = buffer.NewCircularBuffer[tick.Report](cfg.ReportHistory, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "report history")
	}

	e.builder = &builder{
		registry:    registry,
		gen:         generator.New(registry),
		parallelism: cfg.Parallelism,
		logger:      e.logger,
	}
	e.spawner = newSpawner(cfg.SpawnRate, cfg.SpawnBurst, e.metrics)
	e.router.OnCommit(e.onCommit)
	e.publish.Store(e.publisher != nil)
	e.metrics.setState(StateStopped)
	return e, nil
}

// State returns the lifecycle state
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.setState(s)
}

// Router returns the engine's router
func (e *Engine) Router() *router.Router { return e.router }

// Generator returns the generator used to validate descriptions
func (e *Engine) Generator() *generator.Generator { return e.builder.gen }

// Monitor returns the health monitor; collaborators such as the NATS client
// report into it and Health aggregates them.
func (e *Engine) Monitor() *health.Monitor { return e.monitor }

// Fatal delivers scheduling-loop failures. After a fatal error the engine
// stops itself.
func (e *Engine) Fatal() <-chan error { return e.fatal }

// Description returns a copy of the description the live structure follows
func (e *Engine) Description() *description.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.desc == nil {
		return nil
	}
	return e.desc.Copy()
}

// prepare validates a description and builds a root for it together with
// its channel bindings
func (e *Engine) prepare(d *description.Graph) (*multigraph.MultiGraph, []binding, error) {
	if err := description.Validate(d); err != nil {
		return nil, nil, err
	}
	root, err := e.builder.root(d)
	if err != nil {
		return nil, nil, err
	}
	bindings, err := collectBindings(root, d.Subscriptions)
	if err != nil {
		_ = root.Close()
		return nil, nil, err
	}
	if err := e.checkBindings(bindings); err != nil {
		_ = root.Close()
		return nil, nil, err
	}
	return root, bindings, nil
}

// Start validates and builds the description, binds its channels and starts
// the tick loop
func (e *Engine) Start(ctx context.Context, desc *description.Graph) error {
	if desc == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Start", "description cannot be nil")
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() != StateStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "state check")
	}

	d := desc.Copy()
	d.Prune()
	root, bindings, err := e.prepare(d)
	if err != nil {
		return errors.WrapInvalid(err, "Engine", "Start", "build graph")
	}

	e.mu.Lock()
	if err := e.rebind(bindings); err != nil {
		e.mu.Unlock()
		_ = root.Close()
		return errors.WrapInvalid(err, "Engine", "Start", "bind channels")
	}
	e.root = root
	e.leafRoot = !d.IsComposition()
	e.desc = d
	e.tickNo = 0
	e.faults = 0
	e.last = tick.Report{}
	e.started = e.clock.Now()
	e.router.Collect()
	e.mu.Unlock()
	e.spawner.reset()

	e.runCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.done = make(chan struct{})
	e.setState(StateRunning)
	e.clock.Start(e.cfg.TickInterval)
	go e.loop(e.runCtx, e.done)

	e.logger.Info("engine started",
		"interval", e.cfg.TickInterval,
		"subgraphs", root.Names(),
		"channels", len(e.router.Channels()))
	return nil
}

// Stop waits for the in-flight tick, closes every element and returns to
// Stopped. Stopping a stopped engine does nothing.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.stopLocked(ctx)
}

func (e *Engine) stopLocked(ctx context.Context) error {
	if e.State() == StateStopped {
		return nil
	}
	e.cancel()
	e.clock.Stop()

	select {
	case <-e.done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Engine", "Stop", "wait for tick loop")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.root != nil {
		err = e.root.Close()
		e.root = nil
	}
	e.releaseAll(e.bindings)
	e.bindings = nil
	e.updateTaps()
	e.router.Collect()
	e.setState(StateStopped)

	e.logger.Info("engine stopped", "ticks", e.tickNo)
	if err != nil {
		return errors.Wrap(err, "Engine", "Stop", "close elements")
	}
	return nil
}

// Reload replaces the whole structure with a new description between ticks.
// Router channels, their committed values and external subscriptions are
// kept. On failure the old structure keeps running.
func (e *Engine) Reload(ctx context.Context, desc *description.Graph) error {
	if desc == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Reload", "description cannot be nil")
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() != StateRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Reload", "state check")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Engine", "Reload", "context check")
	}

	d := desc.Copy()
	d.Prune()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.setState(StateReloading)
	defer e.setState(StateRunning)

	root, bindings, err := e.prepare(d)
	if err != nil {
		return errors.WrapInvalid(err, "Engine", "Reload", "build graph")
	}
	if err := e.swapRoot(root, !d.IsComposition(), bindings); err != nil {
		return errors.WrapInvalid(err, "Engine", "Reload", "bind channels")
	}
	e.desc = d
	e.spawner.reset()
	e.router.Collect()
	e.metrics.setChannels(len(e.router.Channels()))
	e.logger.Info("engine reloaded", "subgraphs", root.Names())
	return nil
}

// Step runs exactly one tick synchronously and returns its report. With a
// ManualClock the clock then advances by one interval.
func (e *Engine) Step(ctx context.Context) (tick.Report, error) {
	if e.State() == StateStopped {
		return tick.Report{}, errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Step", "state check")
	}
	if err := ctx.Err(); err != nil {
		return tick.Report{}, errors.WrapTransient(err, "Engine", "Step", "context check")
	}
	report, err := e.safeTick()
	if err != nil {
		return report, err
	}
	if a, ok := e.clock.(advancer); ok {
		a.Advance(e.cfg.TickInterval)
	}
	return report, nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticks := e.clock.C()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if _, err := e.safeTick(); err != nil {
				return
			}
		}
	}
}

// safeTick runs a tick, turning a panic that escaped element recovery into
// an EngineFatal error
func (e *Engine) safeTick() (report tick.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("%w: tick loop panic: %v", errors.ErrEngineFatal, r), "Engine", "tick", "run tick")
			e.fail(err)
		}
	}()
	return e.runTick(), nil
}

func (e *Engine) fail(err error) {
	e.logger.Error("engine failed", "error", err)
	e.monitor.UpdateUnhealthy("engine", err.Error())
	select {
	case e.fatal <- err:
	default:
	}
	go func() {
		if stopErr := e.Stop(context.Background()); stopErr != nil {
			e.logger.Error("stopping failed engine", "error", stopErr)
		}
	}()
}

func (e *Engine) runTick() tick.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.root == nil {
		return tick.Report{}
	}

	e.tickNo++
	ctx := &tick.Context{
		Ctx:        e.runCtx,
		Tick:       e.tickNo,
		Start:      e.clock.Now(),
		Interval:   e.cfg.TickInterval,
		Router:     e.router,
		Spawner:    e.spawner,
		Background: e.background,
		Logger:     e.logger,
	}

	began := time.Now()
	e.router.BeginTick()
	report := e.root.Tick(ctx)
	report.ChannelActivity = e.router.EndTick()
	report.Duration = time.Since(began)

	e.record(report)
	e.applySpawns()
	return report
}

func (e *Engine) record(report tick.Report) {
	e.last = report
	e.faults += len(report.Faults)
	if err := e.reports.Write(report); err != nil {
		e.logger.Debug("report history closed", "error", err)
	}
	e.metrics.recordTick(report, report.Duration)

	if e.publish.Load() {
		data, err := json.Marshal(report)
		if err == nil {
			err = e.publisher.Publish(e.runCtx, ReportSubject, data)
		}
		if err != nil {
			e.logger.Debug("report publish failed", "tick", report.Tick, "error", err)
		}
	}
}

func (e *Engine) applySpawns() {
	for _, op := range e.spawner.drain() {
		if d, ok := op.(despawnOp); ok && !e.spawner.owns(joinPath(d.Graph, d.Name)) {
			e.metrics.recordSpawn("rejected")
			e.logger.Warn("despawn request rejected", "graph", joinPath(d.Graph, d.Name), "reason", "not spawned")
			continue
		}
		if _, err := e.applyLocked(Transaction{op}); err != nil {
			e.metrics.recordSpawn("rejected")
			e.logger.Warn("spawn request rejected", "op", op.Kind(), "error", err)
			continue
		}
		if op.Kind() == "spawn" {
			e.metrics.recordSpawn("spawned")
		} else {
			e.metrics.recordSpawn("despawned")
		}
	}
}

// Reports returns the retained tick reports, oldest first
func (e *Engine) Reports() []tick.Report {
	return e.reports.Snapshot()
}

// LastReport returns the most recent tick report
func (e *Engine) LastReport() tick.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Health reports the engine state together with every collaborator that
// reported into the monitor
func (e *Engine) Health() health.Status {
	e.mu.Lock()
	last, ticks, faults := e.last, e.tickNo, e.faults
	uptime := time.Duration(0)
	if e.root != nil {
		uptime = e.clock.Now().Sub(e.started)
	}
	e.mu.Unlock()

	var status health.Status
	switch state := e.State(); {
	case state == StateStopped:
		status = health.NewUnhealthy("engine", "stopped")
	case len(last.Faults) > 0:
		status = health.NewDegraded("engine", fmt.Sprintf("%d elements faulted on tick %d", len(last.Faults), last.Tick))
	default:
		status = health.NewHealthy("engine", state.String())
	}

	m := &health.Metrics{
		Uptime:   uptime,
		Ticks:    ticks,
		Faults:   faults,
		Elements: last.Elements,
		Channels: len(e.router.Channels()),
		LastTick: last.Start,
	}
	if len(last.Faults) > 0 {
		m.LastReason = last.Faults[0].Reason
	}
	e.monitor.Update("engine", status.WithMetrics(m))
	return e.monitor.AggregateHealth("vigraph")
}

// Subscribe taps a channel's committed values from outside the graph. The
// subscription is not part of the description and survives reloads.
func (e *Engine) Subscribe(channel string, t value.Type, fn router.Receiver) (*router.Subscription, error) {
	sub, err := e.router.Subscribe(channel, t, fn)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "Subscribe", "router subscribe")
	}
	return sub, nil
}

// Unsubscribe removes a subscription made with Subscribe
func (e *Engine) Unsubscribe(sub *router.Subscription) {
	e.router.Unsubscribe(sub)
}

// Latest returns the last value committed to the channel of a description
// subscription
func (e *Engine) Latest(subscriptionID string) (value.Value, bool) {
	v, ok := e.taps.Load(subscriptionID)
	if !ok {
		return value.None(), false
	}
	return v.(value.Value), true
}

func (e *Engine) onCommit(channel string, v value.Value) {
	ids, ok := e.tapsOf.Load(channel)
	if !ok {
		return
	}
	for _, id := range ids.([]string) {
		if old, loaded := e.taps.Swap(id, v.Clone()); loaded {
			old.(value.Value).Release()
		}
	}
}

// Read returns the current value of a pin in the live structure. graphPath
// names a leaf sub-graph as in transactions and pin is "element.pin".
func (e *Engine) Read(graphPath, pin string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.root == nil {
		return value.None(), errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Read", "state check")
	}
	l := &live{b: e.builder, root: e.root, leafRoot: e.leafRoot}
	g, err := l.leaf(graphPath)
	if err != nil {
		return value.None(), err
	}
	p, err := g.Pin(pin)
	if err != nil {
		return value.None(), err
	}
	return p.Read().Clone(), nil
}
