package models

import (
	"fmt"
	"time"
)

// MaxExamplePairs caps the ring buffer of example entity pairs kept per
// heuristic.
const MaxExamplePairs = 10

// ExamplePair references one observed (entity A, entity B) pair supporting a
// candidate, by primary key.
type ExamplePair struct {
	EntityAKey string `json:"entity_a_key"`
	EntityBKey string `json:"entity_b_key"`
}

// String renders the pair in its KV wire form.
func (p ExamplePair) String() string {
	return p.EntityAKey + "|" + p.EntityBKey
}

// ParseExamplePair parses the KV wire form produced by String.
func ParseExamplePair(s string) (ExamplePair, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return ExamplePair{EntityAKey: s[:i], EntityBKey: s[i+1:]}, nil
		}
	}
	return ExamplePair{}, fmt.Errorf("malformed example pair: %q", s)
}

// FkeyHeuristic is the aggregated, versioned statistical evidence for one
// relation candidate. Mutated only by additive merges; never decremented
// within a version.
type FkeyHeuristic struct {
	RelationID  string
	Version     string
	EntityAType string
	EntityBType string

	TotalMatches int64
	QualitySum   float64
	BM25Sum      float64

	// PropertyMatchPatterns counts observations per "aProp->bProp" pair and
	// match type.
	PropertyMatchPatterns map[string]map[MatchType]int64

	// ExamplePairs is a capped buffer of observed entity pairs.
	ExamplePairs []ExamplePair
}

// AvgQuality returns the mean deep-match quality across observations.
func (h *FkeyHeuristic) AvgQuality() float64 {
	if h.TotalMatches == 0 {
		return 0
	}
	return h.QualitySum / float64(h.TotalMatches)
}

// AvgBM25 returns the mean BM25 score across observations.
func (h *FkeyHeuristic) AvgBM25() float64 {
	if h.TotalMatches == 0 {
		return 0
	}
	return h.BM25Sum / float64(h.TotalMatches)
}

// MappedPropertyPairs returns the distinct "aProp->bProp" pattern keys.
func (h *FkeyHeuristic) MappedPropertyPairs() []string {
	pairs := make([]string, 0, len(h.PropertyMatchPatterns))
	for pair := range h.PropertyMatchPatterns {
		pairs = append(pairs, pair)
	}
	return pairs
}

// IsSubEntityOnly reports whether the heuristic's only observed mapping is
// the built-in parent reference pattern.
func (h *FkeyHeuristic) IsSubEntityOnly() bool {
	if len(h.PropertyMatchPatterns) != 1 {
		return false
	}
	_, ok := h.PropertyMatchPatterns[InternalParentKey+"->"+PrimaryKeyField]
	return ok
}

// EvaluationResult is the judgment outcome for a candidate.
type EvaluationResult string

const (
	ResultAccepted EvaluationResult = "ACCEPTED"
	ResultRejected EvaluationResult = "REJECTED"
	ResultUnsure   EvaluationResult = "UNSURE"
)

// ValidEvaluationResults contains all valid result values.
var ValidEvaluationResults = []EvaluationResult{
	ResultAccepted,
	ResultRejected,
	ResultUnsure,
}

// IsValidEvaluationResult checks if the given result is valid.
func IsValidEvaluationResult(r EvaluationResult) bool {
	for _, v := range ValidEvaluationResults {
		if v == r {
			return true
		}
	}
	return false
}

// Directionality orients the materialized relation edge.
type Directionality string

const (
	DirectionAToB Directionality = "A_TO_B"
	DirectionBToA Directionality = "B_TO_A"
)

// FkeyEvaluation is a judgment recorded for one candidate. Absence means
// "not yet judged".
type FkeyEvaluation struct {
	RelationName        string            `json:"relation_name"`
	Result              EvaluationResult  `json:"result"`
	Justification       string            `json:"justification,omitempty"`
	Thought             string            `json:"thought,omitempty"`
	IsManual            bool              `json:"is_manual"`
	IsSubEntityRelation bool              `json:"is_sub_entity_relation"`
	Directionality      Directionality    `json:"directionality"`
	PropertyMappings    []PropertyMapping `json:"property_mappings"`
}

// IsAccepted reports whether the relation should be materialized.
func (e *FkeyEvaluation) IsAccepted() bool {
	return e != nil && e.Result == ResultAccepted
}

// SyncStatus records the outcome of the last attempt to materialize (or
// remove) this candidate's edges in the data graph.
type SyncStatus struct {
	IsSynced     bool       `json:"is_synced"`
	LastSynced   *time.Time `json:"last_synced,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RelationCandidate is the merged view of one candidate within an ontology
// version: accumulated heuristics, the optional evaluation, and sync state.
type RelationCandidate struct {
	RelationID string
	Version    string

	Heuristic  *FkeyHeuristic
	Evaluation *FkeyEvaluation
	Sync       SyncStatus
}

// IsResolved reports whether the candidate carries any judgment.
func (c *RelationCandidate) IsResolved() bool {
	return c.Evaluation != nil
}
