// Package engine runs a description as a live dataflow structure.
//
// An Engine owns the root MultiGraph, the Router and a Clock. It ticks the
// root once per interval and applies control Transactions between ticks:
// each transaction is validated on a dry-run build of the edited description,
// then applied to the running units so element state survives. Elements ask
// for structural changes during a tick through tick.Spawner; those requests
// are rate limited and applied as transactions after the tick.
//
// Lifecycle:
//
//	Stopped -> Start -> Running -> Stop -> Stopped
//	Running -> Reload -> Reloading -> Running
//
// Router channels outlive Reload, so values published before a reload are
// visible to the structure that replaces it.
package engine
