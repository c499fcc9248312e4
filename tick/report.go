package tick

import (
	"slices"
	"time"
)

// Fault records one element whose tick failed
type Fault struct {
	Element string `json:"element"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// Report summarises one tick
type Report struct {
	Tick     uint64        `json:"tick"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	// Elements is the number of elements ticked
	Elements int     `json:"elements"`
	Faults   []Fault `json:"faults,omitempty"`
	// ChannelActivity counts publishes per router channel during the tick
	ChannelActivity map[string]int `json:"channel_activity,omitempty"`
}

// OK reports whether no element faulted
func (r *Report) OK() bool { return len(r.Faults) == 0 }

// Faulted returns the ids of faulted elements in tick order
func (r *Report) Faulted() []string {
	ids := make([]string, len(r.Faults))
	for i, f := range r.Faults {
		ids[i] = f.Element
	}
	return ids
}

// HasFault reports whether the element with the given id faulted
func (r *Report) HasFault(id string) bool {
	return slices.ContainsFunc(r.Faults, func(f Fault) bool { return f.Element == id })
}

// Merge folds a nested unit's report into r, prefixing its element ids
func (r *Report) Merge(sub Report, prefix string) {
	r.Elements += sub.Elements
	for _, f := range sub.Faults {
		if prefix != "" {
			f.Element = prefix + "/" + f.Element
		}
		r.Faults = append(r.Faults, f)
	}
}
