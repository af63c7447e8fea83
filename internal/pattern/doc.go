// Package pattern defines the core data model for the pattern knowledge store.
//
// A Pattern is a stored unit of learned behavioral knowledge: a workflow, a
// technology choice, a problem/solution pair, an architecture decision, or a
// pattern derived from a caught bug. Every pattern carries a confidence score
// in [0.0, 1.0] that is reinforced or decayed by observed outcomes, and a
// dot-delimited namespace that determines its protection domain.
//
// # Confidence and Pinning
//
// Confidence is always clamped to [0.0, 1.0]. A pattern whose confidence
// reaches PinThreshold (0.90) is pinned: pinning exempts it from passive decay
// sweeps. Pinned is a derived field, recomputed after every confidence change,
// never set directly.
//
// # Namespaces
//
// Namespaces are hierarchical, dot-delimited, lowercase strings such as
// "workspace.myapp.auth" or "cortex.intent_routing". The first segment is the
// protection domain: "cortex" namespaces are framework-owned and require
// explicit confirmation for cross-scope writes. Everything else is open.
//
// # Merge decisions
//
// MergeDecision is the shared audit record emitted for every pattern processed
// during a merge or import pass. A sequence of decisions forms the audit trail
// returned by the exchange service.
package pattern
