package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern store operations.
var (
	// ErrNotFound is returned when a pattern id has no record in the store.
	ErrNotFound = errors.New("pattern not found")

	// ErrValidation is returned for malformed patterns or documents.
	ErrValidation = errors.New("invalid pattern")

	// ErrNamespaceViolation is returned when a write into a protected
	// namespace is attempted without confirmation outside batch processing.
	ErrNamespaceViolation = errors.New("protected namespace write requires confirmation")

	// ErrConcurrencyConflict is returned when a per-id mutation could not
	// acquire its write slot after bounded retries.
	ErrConcurrencyConflict = errors.New("concurrent mutation conflict")

	// ErrStorage is returned for underlying persistence failures. It aborts
	// the whole in-progress operation.
	ErrStorage = errors.New("storage failure")

	ErrEmptyTitle        = errors.New("pattern title cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidNamespace  = errors.New("namespace must be dot-delimited lowercase segments")
	ErrInvalidType       = errors.New("unknown pattern type")
)

// PinThreshold is the confidence at which a pattern becomes pinned and
// exempt from passive decay.
const PinThreshold = 0.90

// ProtectedDomain is the first namespace segment reserved for the framework.
// Writes into it require the framework actor scope or explicit confirmation.
const ProtectedDomain = "cortex"

// Type is the tagged variant of stored pattern kinds.
type Type string

const (
	TypeWorkflow        Type = "workflow"
	TypeTechnology      Type = "technology"
	TypeProblemSolution Type = "problem_solution"
	TypeArchitecture    Type = "architecture"
	TypeBugDerived      Type = "bug_derived"
)

// ValidTypes lists every accepted pattern type.
var ValidTypes = []Type{TypeWorkflow, TypeTechnology, TypeProblemSolution, TypeArchitecture, TypeBugDerived}

// namespaceRe validates dot-delimited lowercase namespaces, 1-8 segments.
var namespaceRe = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+){0,7}$`)

// Context is the opaque structured payload attached to a pattern. It is only
// interpreted by the similarity engine and for display.
type Context struct {
	// Files are repository-relative paths the pattern touched.
	Files []string `json:"files,omitempty"`

	// Steps is the ordered step sequence the pattern captured.
	Steps []string `json:"steps,omitempty"`

	// Metadata holds free-form key/value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Pattern is the sole persisted entity of the knowledge store.
type Pattern struct {
	// ID is the opaque unique identifier (UUID), immutable once created.
	ID string `json:"pattern_id"`

	// Type tags the kind of knowledge this pattern captures.
	Type Type `json:"pattern_type"`

	// Title is a short human-readable label. Normalized titles drive
	// identical-match comparison during merges.
	Title string `json:"title"`

	// Confidence is the [0.0, 1.0] trust score.
	Confidence float64 `json:"confidence"`

	// Namespace is the pattern's primary ownership domain.
	Namespace string `json:"namespace"`

	// Namespaces tracks the namespace union when a similar-merge joined
	// patterns from diverging namespaces. Always contains Namespace.
	Namespaces []string `json:"namespaces,omitempty"`

	// AccessCount is incremented on every read. Monotonically non-decreasing.
	AccessCount int64 `json:"access_count"`

	// BugCount counts confirmed-catch reinforcement events.
	BugCount int64 `json:"bug_count"`

	// Pinned is true iff Confidence >= PinThreshold. Derived, never set.
	Pinned bool `json:"pinned"`

	// Context is the structured payload used by similarity scoring.
	Context Context `json:"context"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// New creates a pattern with a generated UUID and recomputed pinning.
func New(typ Type, title, namespace string, confidence float64, ctx Context) (*Pattern, error) {
	now := time.Now().UTC()
	p := &Pattern{
		ID:             uuid.New().String(),
		Type:           typ,
		Title:          title,
		Confidence:     confidence,
		Namespace:      namespace,
		Context:        ctx,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	p.RecomputePinned()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the pattern against the store's invariants.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing pattern id", ErrValidation)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTitle)
	}
	if !validType(p.Type) {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidType, p.Type)
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return fmt.Errorf("%w: %w: %v", ErrValidation, ErrInvalidConfidence, p.Confidence)
	}
	if err := ValidateNamespace(p.Namespace); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for _, ns := range p.Namespaces {
		if err := ValidateNamespace(ns); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if p.AccessCount < 0 || p.BugCount < 0 {
		return fmt.Errorf("%w: counters cannot be negative", ErrValidation)
	}
	if p.Pinned != (p.Confidence >= PinThreshold) {
		return fmt.Errorf("%w: pinned flag inconsistent with confidence %v", ErrValidation, p.Confidence)
	}
	return nil
}

// RecomputePinned re-derives the pinned flag from the current confidence.
// Call after every confidence change.
func (p *Pattern) RecomputePinned() {
	p.Pinned = p.Confidence >= PinThreshold
}

// ClampConfidence forces confidence into [0.0, 1.0] and re-derives pinning.
func (p *Pattern) ClampConfidence() {
	if p.Confidence > 1.0 {
		p.Confidence = 1.0
	}
	if p.Confidence < 0.0 {
		p.Confidence = 0.0
	}
	p.RecomputePinned()
}

// Domain returns the first namespace segment, the protection domain.
func (p *Pattern) Domain() string {
	return Domain(p.Namespace)
}

// AllNamespaces returns the primary namespace plus any merged-in ones,
// primary first, without duplicates.
func (p *Pattern) AllNamespaces() []string {
	out := []string{p.Namespace}
	for _, ns := range p.Namespaces {
		if ns != p.Namespace {
			out = append(out, ns)
		}
	}
	return out
}

// Clone returns a deep copy so callers never retain aliased mutable state.
func (p *Pattern) Clone() *Pattern {
	cp := *p
	cp.Namespaces = append([]string(nil), p.Namespaces...)
	cp.Context.Files = append([]string(nil), p.Context.Files...)
	cp.Context.Steps = append([]string(nil), p.Context.Steps...)
	if p.Context.Metadata != nil {
		cp.Context.Metadata = make(map[string]string, len(p.Context.Metadata))
		for k, v := range p.Context.Metadata {
			cp.Context.Metadata[k] = v
		}
	}
	return &cp
}

// ValidateNamespace checks the dot-delimited lowercase namespace form.
func ValidateNamespace(ns string) error {
	if !namespaceRe.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// Domain returns the first segment of a namespace.
func Domain(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i]
	}
	return ns
}

// NormalizeTitle lowercases and collapses whitespace for identical-match
// comparison.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

func validType(t Type) bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}
