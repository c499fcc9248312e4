// Package errors provides the error taxonomy and classification used across the
// dataflow engine.
//
// # Taxonomy
//
// Every failure the engine raises wraps one dataflow sentinel:
//
//   - ErrTypeMismatch: a value or pin type disagreement
//   - ErrUnknownType, ErrUnknownPin: registry or schema lookup failures
//   - ErrCyclicGraph: an illegal cycle of direct connections
//   - ErrChannelTypeMismatch: a router channel used with another value type
//   - ErrTransactionRejected: a control transaction rejected wholesale
//   - ErrElementFault: an element's tick failed at runtime
//   - ErrEngineFatal: the scheduling loop itself failed
//
// Kind returns the most specific sentinel in a chain, so a rejected transaction
// reports the cause that rejected it:
//
//	res, err := eng.Apply(ctx, tx)
//	if errors.Kind(err) == errors.ErrCyclicGraph {
//	    // tell the operator which connection closed the loop
//	}
//
// # Classification
//
// Errors are also classified for handling:
//
//   - Transient: NATS timeouts and connection loss (retry with pkg/retry)
//   - Invalid: validation and structural failures (reject, never retry)
//   - Fatal: scheduling-loop failures (stop the engine, report upward)
//
// # Wrapping Pattern
//
// Wrapping follows "component.method: action failed: %w":
//
//	errors.WrapInvalid(err, "Graph", "Connect", "type check")
//	errors.WrapTransient(err, "GraphStore", "Get", "kv read")
//	errors.WrapFatal(err, "Engine", "loop", "tick")
//
// All helpers preserve errors.Is and errors.As through the chain.
package errors
