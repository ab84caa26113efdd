// Package evaluator judges relation candidates. The production backend asks
// an LLM to classify each candidate group; tests and offline runs plug in a
// deterministic policy through the same interface.
package evaluator

import (
	"context"

	"github.com/ekaya-inc/ontolink/pkg/models"
)

// Group is one (entity A type, entity B type) batch of candidates submitted
// for judgment together, so the backend sees all competing relations between
// the same two types at once.
type Group struct {
	EntityAType string
	EntityBType string
	Candidates  []*models.RelationCandidate
	Context     GroupContext
}

// GroupContext is the bounded supporting evidence assembled per group.
type GroupContext struct {
	// Examples maps relation id to observed entity pairs, restricted to the
	// properties the candidate's mappings actually reference.
	Examples map[string][]ExampleDetail

	// SubEntityTypesA and SubEntityTypesB are the recursively discovered
	// structural child types of each side.
	SubEntityTypesA []string
	SubEntityTypesB []string

	// AcceptedRelations names relations already accepted between these two
	// types, so the backend avoids duplicate or conflicting names.
	AcceptedRelations []string
}

// ExampleDetail is one observed entity pair with the mapped property values
// of both sides.
type ExampleDetail struct {
	EntityAKey  string
	EntityBKey  string
	AProperties map[string]string
	BProperties map[string]string
}

// Evaluator is the pluggable judgment policy. Implementations return one
// evaluation per decided candidate, keyed by relation id; candidates missing
// from the result stay unjudged.
type Evaluator interface {
	EvaluateGroup(ctx context.Context, group *Group) (map[string]*models.FkeyEvaluation, error)
}

// Func adapts a plain function into an Evaluator.
type Func func(ctx context.Context, group *Group) (map[string]*models.FkeyEvaluation, error)

// EvaluateGroup implements Evaluator.
func (f Func) EvaluateGroup(ctx context.Context, group *Group) (map[string]*models.FkeyEvaluation, error) {
	return f(ctx, group)
}
