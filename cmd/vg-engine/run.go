package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigraph/vg-server-sub000/config"
	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/engine"
	"github.com/vigraph/vg-server-sub000/graphstore"
	"github.com/vigraph/vg-server-sub000/health"
	"github.com/vigraph/vg-server-sub000/metric"
	"github.com/vigraph/vg-server-sub000/modules"
	"github.com/vigraph/vg-server-sub000/natsclient"
	"github.com/vigraph/vg-server-sub000/pkg/retry"
	"github.com/vigraph/vg-server-sub000/pkg/worker"
	"github.com/vigraph/vg-server-sub000/router"
	"github.com/vigraph/vg-server-sub000/tick"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var shutdownTimeout time.Duration
	var ticks int

	cmd := &cobra.Command{
		Use:   "run [graph-file]",
		Short: "Run a graph until interrupted",
		Long: `Starts the engine on a graph description. The graph comes from the
file argument, from graph.path in the configuration, or from graph.key in the
NATS graph store. With graph.watch set, changes to the stored graph reload the
running engine.

With clock "manual" in the configuration the graph is stepped --ticks times
as fast as possible and the last tick report is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Graph.Path = args[0]
			}
			logger := rootOpts.logger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.Engine.Clock == config.ClockManual && ticks < 1 {
				return fmt.Errorf("clock %q needs --ticks", config.ClockManual)
			}
			return runEngine(ctx, cmd, cfg, logger, runOptions{
				shutdownTimeout: shutdownTimeout,
				ticks:           ticks,
				output:          rootOpts.Output,
			})
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "ticks to step with the manual clock")
	return cmd
}

type runOptions struct {
	shutdownTimeout time.Duration
	ticks           int
	output          string
}

// app holds the collaborators of a running engine
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metric.MetricsRegistry
	server     *metric.Server
	background *worker.Background
	nats       *natsclient.Client
	store      *graphstore.Store
	engine     *engine.Engine
	// monitor receives NATS health changes once the engine exists
	monitor atomic.Pointer[health.Monitor]
	// version of the stored graph the engine runs
	version int64
}

func runEngine(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts runOptions) error {
	logger.Info("Starting vg-engine",
		"version", Version,
		"build_time", BuildTime,
		"tick_interval", cfg.Engine.TickInterval,
		"clock", cfg.Engine.Clock)

	a := &app{cfg: cfg, logger: logger, metrics: metric.NewMetricsRegistry()}
	defer a.shutdown(opts.shutdownTimeout)

	if err := a.setup(ctx); err != nil {
		return err
	}

	desc, err := a.loadGraph(ctx)
	if err != nil {
		return err
	}
	if err := a.engine.Start(ctx, desc); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if cfg.Engine.Clock == config.ClockManual {
		return a.step(ctx, cmd, opts)
	}
	if cfg.Graph.Watch {
		if err := a.watch(ctx); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		return nil
	case err := <-a.engine.Fatal():
		return fmt.Errorf("engine failed: %w", err)
	}
}

func (a *app) setup(ctx context.Context) error {
	registry, err := modules.NewRegistry()
	if err != nil {
		return fmt.Errorf("register modules: %w", err)
	}

	a.background = worker.NewBackground(a.cfg.Engine.Workers, 4*a.cfg.Engine.Workers,
		worker.WithMetricsRegistry[worker.Job](a.metrics, "background"),
		worker.WithErrorHandler[worker.Job](func(err error) {
			a.logger.Warn("background job failed", "error", err)
		}))
	if err := a.background.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	r := router.New(router.WithLogger(a.logger))
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithRouter(r),
		engine.WithMetrics(a.metrics),
		engine.WithBackground(a.background),
	}
	if a.cfg.Engine.Clock == config.ClockManual {
		opts = append(opts, engine.WithClock(engine.NewManualClock(time.Now())))
	}

	if a.cfg.NATS.Enabled() {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}
		if len(a.cfg.NATS.Channels) > 0 || a.cfg.NATS.MirrorAll {
			var bridgeOpts []router.BridgeOption
			if !a.cfg.NATS.MirrorAll {
				bridgeOpts = append(bridgeOpts, router.WithChannels(a.cfg.NATS.Channels...))
			}
			bridgeOpts = append(bridgeOpts, router.WithBridgeLogger(a.logger))
			if err := router.NewBridge(r, a.nats, bridgeOpts...).Start(ctx); err != nil {
				return fmt.Errorf("start router bridge: %w", err)
			}
		}
		if a.cfg.NATS.PublishReports {
			opts = append(opts, engine.WithReportPublisher(a.nats))
		}
	}

	a.engine, err = engine.New(registry, engine.Config{
		TickInterval:  a.cfg.Engine.TickInterval.Duration(),
		Parallelism:   a.cfg.Engine.Parallelism,
		ReportHistory: a.cfg.Engine.ReportHistory,
		SpawnRate:     a.cfg.Engine.SpawnRate,
		SpawnBurst:    a.cfg.Engine.SpawnBurst,
	}, opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	a.monitor.Store(a.engine.Monitor())
	if a.nats != nil {
		a.natsHealth(a.nats.Status() == natsclient.StatusConnected)
	}

	if a.cfg.Metrics.Port > 0 {
		a.server = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics, func() (bool, string) {
			status := a.engine.Health()
			return !status.IsUnhealthy(), status.Message
		})
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		a.logger.Info("Metrics server started", "address", a.server.Address())
	}
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Duration()),
		natsclient.WithPingInterval(n.PingInterval.Duration()),
		natsclient.WithDrainTimeout(n.DrainTimeout.Duration()),
		natsclient.WithHealthChangeCallback(a.natsHealth),
		natsclient.WithMetrics(a.metrics),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}

	client, err := natsclient.NewClient(strings.Join(n.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.logger.Info("Connecting to NATS", "urls", n.URLs)
	connect := retry.Quick()
	connect.OnRetry = func(attempt int, err error) {
		a.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "error", err)
	}
	err = retry.Do(ctx, connect, func() error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	a.nats = client

	if a.cfg.Graph.Key != "" {
		a.store, err = graphstore.New(ctx, client, n.Bucket, a.logger)
		if err != nil {
			return fmt.Errorf("open graph store: %w", err)
		}
	}
	return nil
}

// loadGraph reads the initial description from a file or the graph store
func (a *app) loadGraph(ctx context.Context) (*description.Graph, error) {
	if a.cfg.Graph.Path != "" {
		d, err := description.Load(a.cfg.Graph.Path)
		if err != nil {
			return nil, fmt.Errorf("load graph: %w", err)
		}
		a.logger.Info("Loaded graph", "path", a.cfg.Graph.Path)
		return d, nil
	}
	if a.store != nil {
		rec, err := a.store.Get(ctx, a.cfg.Graph.Key)
		if err != nil {
			return nil, fmt.Errorf("load graph %q: %w", a.cfg.Graph.Key, err)
		}
		a.logger.Info("Loaded graph", "key", rec.Key, "version", rec.Version)
		a.version = rec.Version
		return rec.Graph, nil
	}
	return nil, fmt.Errorf("no graph: pass a file or set graph.path or graph.key")
}

// watch reloads the engine whenever the stored graph changes
func (a *app) watch(ctx context.Context) error {
	changes, err := a.store.Watch(ctx, a.cfg.Graph.Key)
	if err != nil {
		return fmt.Errorf("watch graph %q: %w", a.cfg.Graph.Key, err)
	}
	go func() {
		for {
			a.follow(ctx, changes)
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("Graph watch ended, re-establishing", "key", a.cfg.Graph.Key)
			var err error
			if changes, err = a.rewatch(ctx); err != nil {
				if ctx.Err() == nil {
					a.logger.Error("Graph watch lost; stored changes are no longer applied",
						"key", a.cfg.Graph.Key, "error", err)
				}
				return
			}
		}
	}()
	return nil
}

// rewatch reopens the graph store watch after the previous one ended. The new
// watch replays the current value, which follow skips when it is not newer.
func (a *app) rewatch(ctx context.Context) (<-chan graphstore.Change, error) {
	cfg := retry.Persistent()
	cfg.OnRetry = func(attempt int, err error) {
		a.logger.Warn("Graph watch failed, retrying", "key", a.cfg.Graph.Key, "attempt", attempt, "error", err)
	}
	return retry.DoWithResult(ctx, cfg, func() (<-chan graphstore.Change, error) {
		return a.store.Watch(ctx, a.cfg.Graph.Key)
	})
}

// follow applies stored graph changes until the watch channel closes
func (a *app) follow(ctx context.Context, changes <-chan graphstore.Change) {
	for change := range changes {
		if !change.Deleted && change.Record.Version <= a.version {
			continue
		}
		if change.Deleted {
			a.logger.Warn("Stored graph deleted; keeping the running graph", "key", change.Key)
			continue
		}
		if err := a.engine.Reload(ctx, change.Record.Graph); err != nil {
			a.logger.Error("Reload failed", "key", change.Key, "version", change.Record.Version, "error", err)
			continue
		}
		a.version = change.Record.Version
		a.logger.Info("Graph reloaded", "key", change.Key, "version", change.Record.Version)
	}
}

// natsHealth reports NATS connectivity on the engine's health monitor. Changes
// before the engine exists are dropped; setup records the state once it does.
func (a *app) natsHealth(healthy bool) {
	monitor := a.monitor.Load()
	if monitor == nil {
		return
	}
	if healthy {
		monitor.UpdateHealthy("nats", "connected")
	} else {
		monitor.UpdateUnhealthy("nats", "connection lost")
	}
}

// step runs a fixed number of ticks on the manual clock and prints the last
// report
func (a *app) step(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	var report tick.Report
	faults := 0
	for i := 0; i < opts.ticks; i++ {
		var err error
		if report, err = a.engine.Step(ctx); err != nil {
			return fmt.Errorf("tick %d: %w", i+1, err)
		}
		faults += len(report.Faults)
	}

	out := cmd.OutOrStdout()
	if opts.output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, _ = fmt.Fprintf(out, "ticks %d, elements %d, faults %d (last tick %d)\n",
		report.Tick, report.Elements, faults, len(report.Faults))
	for _, f := range report.Faults {
		_, _ = fmt.Fprintf(out, "  %s (%s): %s\n", f.Element, f.Type, f.Reason)
	}
	channels := make([]string, 0, len(report.ChannelActivity))
	for name := range report.ChannelActivity {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	for _, name := range channels {
		_, _ = fmt.Fprintf(out, "  channel %s: %d\n", name, report.ChannelActivity[name])
	}
	return nil
}

func (a *app) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.engine != nil {
		if err := a.engine.Stop(ctx); err != nil {
			a.logger.Error("Engine stop failed", "error", err)
		}
	}
	if a.background != nil {
		if err := a.background.Stop(timeout); err != nil {
			a.logger.Warn("Background workers did not drain", "error", err)
		}
	}
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
	a.logger.Info("vg-engine stopped")
}
