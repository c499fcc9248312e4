package health

import (
	"slices"
	"sync"
	"time"

	"github.com/vigraph/vg-server-sub000/metric"
)

// Monitor tracks the health of named components.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	metrics  *metric.Metrics
}

// NewMonitor creates a monitor. When metrics is non-nil every update is also
// exported on the health status gauge.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		metrics:  metrics,
	}
}

// Update replaces the status of the named component.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordHealthStatus(name, status.IsHealthy())
	}
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops tracking a component.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// ListComponents returns the tracked names in sorted order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AggregateHealth returns the combined status, with sub-statuses sorted by
// component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.ListComponents()

	m.mu.RLock()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.statuses[name]; ok {
			subs = append(subs, s)
		}
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subs)
}
