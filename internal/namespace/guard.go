// Package namespace enforces write permissions on protected namespaces.
//
// The first namespace segment is the protection domain. "cortex" is reserved
// for the framework: cross-scope writes into cortex.* require explicit
// confirmation and are logged when confirmed. All other namespaces are open.
// The guard never raises during batch processing; it returns a decision value
// so batch operations can record a skip and continue.
package namespace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
)

// ActorScope identifies who is attempting a store write.
type ActorScope string

const (
	// ScopeFramework is the protected-framework actor: the only scope
	// allowed to write cortex.* namespaces without confirmation.
	ScopeFramework ActorScope = "framework"

	// ScopeWorkspace is the default scope for workspace-origin writes,
	// including imports from other instances.
	ScopeWorkspace ActorScope = "workspace"
)

// Verdict is the outcome of a write authorization check.
type Verdict string

const (
	// VerdictAllowed permits the write with no caveats.
	VerdictAllowed Verdict = "allowed"

	// VerdictConfirmed permits a cross-scope protected write because the
	// caller supplied explicit confirmation. Always logged.
	VerdictConfirmed Verdict = "confirmed"

	// VerdictSkipped rejects the write pending confirmation. Batch callers
	// record a skip; interactive callers may pause for confirmation.
	VerdictSkipped Verdict = "skipped"
)

// Decision is the non-throwing result of an authorization check.
type Decision struct {
	Verdict   Verdict
	Namespace string
	Reason    string
}

// Allowed reports whether the write may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllowed || d.Verdict == VerdictConfirmed
}

// Err converts a skip into the namespace violation error for single-item
// operations that surface errors instead of decision values.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", pattern.ErrNamespaceViolation, d.Namespace)
}

// Guard validates namespace write permissions before store mutations.
type Guard struct {
	logger *zap.Logger
}

// NewGuard creates a namespace guard.
func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger}
}

// AuthorizeWrite checks whether the actor may write the namespace.
//
// Non-protected namespaces are always allowed. Protected (cortex.*)
// namespaces are allowed for the framework scope; any other scope needs
// confirmed=true, which is honored and logged. Without confirmation the
// result is a skip, never an error, so batches continue past it.
func (g *Guard) AuthorizeWrite(ctx context.Context, ns string, actor ActorScope, confirmed bool) Decision {
	if pattern.Domain(ns) != pattern.ProtectedDomain {
		return Decision{Verdict: VerdictAllowed, Namespace: ns}
	}

	if actor == ScopeFramework {
		return Decision{Verdict: VerdictAllowed, Namespace: ns}
	}

	if confirmed {
		g.logger.Warn("confirmed cross-scope write into protected namespace",
			zap.String("namespace", ns),
			zap.String("actor_scope", string(actor)))
		return Decision{
			Verdict:   VerdictConfirmed,
			Namespace: ns,
			Reason:    "cross-scope write confirmed by caller",
		}
	}

	return Decision{
		Verdict:   VerdictSkipped,
		Namespace: ns,
		Reason:    "skipped, confirmation required for protected namespace",
	}
}
