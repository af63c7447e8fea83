// Package exchange produces and consumes the portable pattern document used
// for cross-instance knowledge transfer.
//
// Export serializes a filtered view of the store into a self-contained,
// versioned document. Import drives the merge engine over an incoming
// document one pattern at a time, producing an audit trail of merge
// decisions and a trailing summary.
//
// Imports are cancellable mid-batch: every resolved pattern stays resolved,
// unresolved patterns are simply not processed, and the returned cursor lets
// a retried import resume without reprocessing. A Session deduplicates
// decisions across retries of the same import.
//
// The package performs no file or network I/O. Transport of the document is
// the CLI's (or any other collaborator's) responsibility; only parsed
// document structures cross this boundary.
package exchange
