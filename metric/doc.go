// Package metric provides the Prometheus registry and HTTP exposition used by
// the engine and its infrastructure.
//
// MetricsRegistry owns a private prometheus.Registry holding the core metrics
// (component status, error counts, NATS connection state) plus any component
// metrics registered through the MetricsRegistrar interface. Component metrics
// are keyed "<service>.<metric>" so a component can be torn down and rebuilt
// with UnregisterService.
//
// Components follow a nil-safe recorder pattern: they build their collectors
// only when handed a registry and skip every observation otherwise, so tests
// and tools can run them without metrics.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, eng.HealthFunc)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
package metric
