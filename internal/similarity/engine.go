// Package similarity scores and classifies pattern pairs for merge decisions.
//
// The engine is a pure function over two pattern descriptions: it computes a
// weighted token-overlap score in [0.0, 1.0] and classifies the pair as
// IDENTICAL, SIMILAR, CONFLICT, or UNIQUE. This four-way split is the central
// contract driving merge resolution; weights and thresholds are fixed
// constants carried in a single Params value.
package similarity

import (
	"strings"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
)

// Class is the four-way merge classification.
type Class string

const (
	// ClassIdentical means the normalized titles match exactly.
	ClassIdentical Class = "identical"

	// ClassSimilar means the weighted overlap score met the threshold.
	ClassSimilar Class = "similar"

	// ClassConflict means the patterns share topic and namespace but their
	// content diverges: contradictory knowledge about the same thing.
	ClassConflict Class = "conflict"

	// ClassUnique means no comparable relationship was found.
	ClassUnique Class = "unique"
)

// scoreEpsilon absorbs float summation noise at the threshold boundary.
const scoreEpsilon = 1e-9

// Params is the single tunable parameter set for scoring and classification.
type Params struct {
	// TitleWeight scales title token overlap.
	TitleWeight float64 `koanf:"title_weight"`

	// ContentWeight scales step/content token overlap.
	ContentWeight float64 `koanf:"content_weight"`

	// FileWeight scales referenced-file overlap.
	FileWeight float64 `koanf:"file_weight"`

	// NamespaceWeight scales namespace-prefix proximity.
	NamespaceWeight float64 `koanf:"namespace_weight"`

	// SimilarThreshold is the minimum score for a SIMILAR classification.
	SimilarThreshold float64 `koanf:"similar_threshold"`

	// ConflictDivergence is the content overlap below which two patterns
	// with shared topic and namespace are considered contradictory.
	ConflictDivergence float64 `koanf:"conflict_divergence"`
}

// DefaultParams returns the fixed production constants.
func DefaultParams() Params {
	return Params{
		TitleWeight:        0.4,
		ContentWeight:      0.3,
		FileWeight:         0.2,
		NamespaceWeight:    0.1,
		SimilarThreshold:   0.80,
		ConflictDivergence: 0.25,
	}
}

// Engine computes similarity scores between pattern descriptions. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	params Params
}

// NewEngine creates an engine with the given params. Zero-valued params fall
// back to the defaults.
func NewEngine(params Params) *Engine {
	if params.TitleWeight == 0 && params.ContentWeight == 0 &&
		params.FileWeight == 0 && params.NamespaceWeight == 0 {
		params = DefaultParams()
	}
	if params.SimilarThreshold == 0 {
		params.SimilarThreshold = DefaultParams().SimilarThreshold
	}
	if params.ConflictDivergence == 0 {
		params.ConflictDivergence = DefaultParams().ConflictDivergence
	}
	return &Engine{params: params}
}

// Score computes the weighted overlap score across the four normalized
// fields: title tokens, step/content tokens, referenced files, and namespace
// prefix proximity.
func (e *Engine) Score(existing, incoming *pattern.Pattern) float64 {
	title := overlapCoefficient(
		tokenSet(existing.Title),
		tokenSet(incoming.Title),
	)
	content := overlapCoefficient(
		tokenSet(strings.Join(existing.Context.Steps, " ")),
		tokenSet(strings.Join(incoming.Context.Steps, " ")),
	)
	files := overlapCoefficient(
		stringSet(existing.Context.Files),
		stringSet(incoming.Context.Files),
	)
	ns := namespaceProximity(existing.Namespace, incoming.Namespace)

	return e.params.TitleWeight*title +
		e.params.ContentWeight*content +
		e.params.FileWeight*files +
		e.params.NamespaceWeight*ns
}

// Classify applies the classification rule in order:
//
//  1. Exactly equal normalized titles -> IDENTICAL, regardless of score.
//  2. Score at or above the threshold -> SIMILAR.
//  3. Shared namespace domain plus overlapping topic keywords but divergent
//     content -> CONFLICT.
//  4. Otherwise -> UNIQUE.
func (e *Engine) Classify(existing, incoming *pattern.Pattern) (Class, float64) {
	score := e.Score(existing, incoming)

	if pattern.NormalizeTitle(existing.Title) == pattern.NormalizeTitle(incoming.Title) {
		return ClassIdentical, score
	}
	if score >= e.params.SimilarThreshold-scoreEpsilon {
		return ClassSimilar, score
	}

	titleOverlap := overlapCoefficient(tokenSet(existing.Title), tokenSet(incoming.Title))
	contentOverlap := overlapCoefficient(
		tokenSet(strings.Join(existing.Context.Steps, " ")),
		tokenSet(strings.Join(incoming.Context.Steps, " ")),
	)
	sameDomain := pattern.Domain(existing.Namespace) == pattern.Domain(incoming.Namespace)
	if sameDomain && titleOverlap > 0 && contentOverlap < e.params.ConflictDivergence {
		return ClassConflict, score
	}

	return ClassUnique, score
}

// tokenSet splits text into a set of lowercase terms. Underscores and hyphens
// are treated as separators so "jwt_auth" and "jwt auth" tokenize alike.
func tokenSet(text string) map[string]struct{} {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s == "" {
			continue
		}
		set[strings.ToLower(s)] = struct{}{}
	}
	return set
}

// overlapCoefficient returns |a ∩ b| / min(|a|, |b|). Symmetric, so merge
// classification does not depend on argument order. Two empty sets score 0.
func overlapCoefficient(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	matches := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(small))
}

// namespaceProximity returns the fraction of leading namespace segments the
// two namespaces share, relative to the longer namespace.
func namespaceProximity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	longest := len(as)
	if len(bs) > longest {
		longest = len(bs)
	}
	shared := 0
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			break
		}
		shared++
	}
	return float64(shared) / float64(longest)
}
