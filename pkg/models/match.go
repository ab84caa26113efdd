package models

// MatchType classifies how one property value matched another.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchPrefix   MatchType = "PREFIX"
	MatchSuffix   MatchType = "SUFFIX"
	MatchSubset   MatchType = "SUBSET"
	MatchSuperset MatchType = "SUPERSET"
	MatchContains MatchType = "CONTAINS"
	MatchNone     MatchType = "NONE"
)

// ValidMatchTypes contains all match types that represent an actual match.
var ValidMatchTypes = []MatchType{
	MatchExact,
	MatchPrefix,
	MatchSuffix,
	MatchSubset,
	MatchSuperset,
	MatchContains,
}

// Quality returns the fixed value-match quality for this match type.
func (m MatchType) Quality() float64 {
	switch m {
	case MatchExact:
		return 1.0
	case MatchSubset, MatchSuperset:
		return 0.9
	case MatchContains:
		return 0.85
	case MatchPrefix:
		return 0.8
	case MatchSuffix:
		return 0.7
	default:
		return 0.0
	}
}

// IsValidMatchType checks if the given match type represents a match.
func IsValidMatchType(m MatchType) bool {
	for _, v := range ValidMatchTypes {
		if v == m {
			return true
		}
	}
	return false
}

// PropertyMapping pairs a property on the searching entity (A) with an
// identity-key field on the matched entity (B).
type PropertyMapping struct {
	EntityAProperty string    `json:"entity_a_property"`
	EntityBProperty string    `json:"entity_b_property"`
	MatchType       MatchType `json:"match_type"`
	Quality         float64   `json:"quality"`
}

// DeepPropertyMatch is one scored candidate observation: a single search
// entity/property/value linked to a single matched entity through one or more
// property mappings. It is consumed immediately into a heuristic update and
// never persisted individually.
type DeepPropertyMatch struct {
	SearchEntityType string
	SearchEntityKey  string
	SearchProperty   string
	SearchValue      string

	MatchedType        string
	MatchedPrimaryKey  string
	MatchedIdentityKey map[string]string

	Mappings  []PropertyMapping
	BM25Score float64
	Quality   float64

	RelationID string
}

// IsSubEntityMatch reports whether the match is the built-in structural
// parent reference pattern rather than a fuzzy-search discovery.
func (m *DeepPropertyMatch) IsSubEntityMatch() bool {
	return len(m.Mappings) == 1 &&
		m.Mappings[0].EntityAProperty == InternalParentKey &&
		m.Mappings[0].EntityBProperty == PrimaryKeyField
}
