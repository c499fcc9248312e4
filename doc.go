// Package vgserver is a real-time modular dataflow engine.
//
// Graphs of typed elements are wired by typed pins and re-evaluated on a
// periodic tick. The runtime is split into flat packages:
//
//   - value: the closed set of values pins carry, with reference-counted
//     bitmap and waveform buffers
//   - element: the element contract, pins, property schemas and the type
//     registry modules register with
//   - tick: the per-tick Context, tick positions and tick reports
//   - graph: a leaf graph of elements, ticked in topological order with
//     independent elements run in parallel batches
//   - multigraph: named sub-graphs wired through their pins, nestable
//   - router: named channels between graphs, ordered by tick position
//   - clone and generator: state-carrying copies and type introspection
//   - engine: the tick loop, control transactions, spawning and reloads
//
// Supporting packages follow the same layout: description for YAML and JSON
// graph documents, graphstore for descriptions kept in NATS KV, natsclient,
// metric, health and config for the process around the engine, and modules
// for the built-in element types.
//
// # Determinism
//
// Element outputs, router deliveries and tick reports depend only on the
// description and the tick sequence, never on batch scheduling. Every value
// published on a channel is ordered by the tick position of its publisher,
// so two engines fed the same description and the same manual clock produce
// identical reports.
//
// # Failure policy
//
// An element whose tick fails keeps its previous outputs and is recorded as a
// fault in the tick report; the rest of the graph keeps running. Rejected
// transactions leave the live structure untouched. Only failures of the tick
// loop itself stop the engine.
package vgserver
