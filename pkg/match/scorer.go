// Package match holds the pure value-matching and mapping-enumeration
// functions of the discovery pipeline. Nothing here touches storage.
package match

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/ontolink/pkg/models"
)

// IsMatching grades how value a matches reference value b. Direction matters:
// a is the searching entity's value and must be at least as long as b for the
// graded string types. Infix containment is intentionally not a match type,
// it produced too much noise.
func IsMatching(a, b models.Value) models.MatchType {
	switch {
	case a.IsList && b.IsList:
		return matchLists(a.List, b.List)
	case a.IsList:
		if listContains(a.List, b.Scalar.String()) {
			return models.MatchContains
		}
		return models.MatchNone
	case b.IsList:
		if listContains(b.List, a.Scalar.String()) {
			return models.MatchSubset
		}
		return models.MatchNone
	default:
		return matchScalars(a.Scalar.String(), b.Scalar.String())
	}
}

func matchScalars(a, b string) models.MatchType {
	if a == "" || b == "" {
		return models.MatchNone
	}
	if a == b {
		return models.MatchExact
	}
	// Only the longer value may be matched against the shorter one. A short
	// key like "123" must never claim a match against "user-123".
	if len(a) < len(b) {
		return models.MatchNone
	}
	if strings.HasPrefix(a, b) {
		return models.MatchPrefix
	}
	if strings.HasSuffix(a, b) {
		return models.MatchSuffix
	}
	return models.MatchNone
}

func matchLists(a, b []models.Scalar) models.MatchType {
	as := scalarSet(a)
	bs := scalarSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return models.MatchNone
	}
	aInB := containsAll(bs, as)
	bInA := containsAll(as, bs)
	switch {
	case aInB && bInA:
		return models.MatchExact
	case bInA:
		return models.MatchSuperset
	case aInB:
		return models.MatchSubset
	default:
		return models.MatchNone
	}
}

func scalarSet(items []models.Scalar) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s.String()] = true
	}
	return set
}

func containsAll(haystack, needles map[string]bool) bool {
	for n := range needles {
		if !haystack[n] {
			return false
		}
	}
	return true
}

func listContains(list []models.Scalar, want string) bool {
	for _, s := range list {
		if s.String() == want {
			return true
		}
	}
	return false
}

// EnumerateMappings finds every assignment of the searching entity's
// properties onto the reference identity-key fields such that every field is
// covered by a distinct property, the property that triggered the search
// (mustHaveProperty) participates, and every field except the one mapped to
// mustHaveProperty matches EXACT. Allowing graded matches on more than the
// triggering property would accept entity pairs held together by nothing but
// coincidental prefixes.
//
// Identity keys larger than maxArity are rejected outright; the combinatorial
// space is only tractable for small keys.
func EnumerateMappings(
	aProps map[string]models.Value,
	identityKey map[string]models.Value,
	mustHaveProperty string,
	maxArity int,
) [][]models.PropertyMapping {
	if len(identityKey) == 0 || len(identityKey) > maxArity {
		return nil
	}
	mustValue, ok := aProps[mustHaveProperty]
	if !ok || mustValue.IsEmpty() {
		return nil
	}

	fields := make([]string, 0, len(identityKey))
	for f := range identityKey {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	// Must-have prune: if the triggering property cannot match any field,
	// no assignment can ever satisfy the constraint.
	mustMatches := false
	for _, f := range fields {
		if IsMatching(mustValue, identityKey[f]) != models.MatchNone {
			mustMatches = true
			break
		}
	}
	if !mustMatches {
		return nil
	}

	propNames := make([]string, 0, len(aProps))
	for p := range aProps {
		propNames = append(propNames, p)
	}
	sort.Strings(propNames)

	var results [][]models.PropertyMapping
	var assign func(fieldIdx int, used map[string]bool, acc []models.PropertyMapping)
	assign = func(fieldIdx int, used map[string]bool, acc []models.PropertyMapping) {
		if fieldIdx == len(fields) {
			if used[mustHaveProperty] {
				results = append(results, append([]models.PropertyMapping(nil), acc...))
			}
			return
		}
		field := fields[fieldIdx]
		refValue := identityKey[field]
		for _, prop := range propNames {
			if used[prop] {
				continue
			}
			v := aProps[prop]
			if v.IsEmpty() {
				continue
			}
			mt := IsMatching(v, refValue)
			if mt == models.MatchNone {
				continue
			}
			if prop != mustHaveProperty && mt != models.MatchExact {
				continue
			}
			used[prop] = true
			assign(fieldIdx+1, used, append(acc, models.PropertyMapping{
				EntityAProperty: prop,
				EntityBProperty: field,
				MatchType:       mt,
				Quality:         mt.Quality(),
			}))
			used[prop] = false
		}
	}
	assign(0, make(map[string]bool), nil)
	return results
}

// UniquenessMultiplier rewards unambiguous matches: one valid mapping means
// the entity pair fits together exactly one way, four or more means the
// identity key is too generic to trust.
func UniquenessMultiplier(validMappings int) float64 {
	switch validMappings {
	case 1:
		return 2.0
	case 2:
		return 1.2
	case 3:
		return 1.0
	default:
		return 0.7
	}
}

// AvgQuality averages the per-field match qualities of one mapping.
func AvgQuality(mappings []models.PropertyMapping) float64 {
	if len(mappings) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range mappings {
		sum += m.Quality
	}
	return sum / float64(len(mappings))
}

// Score combines the text-rank score of the hit with the structural quality
// of one mapping. Smaller identity keys earn a simplicity bonus, a one-field
// key is far more likely to be a real foreign key than a five-field one.
func Score(bm25Score float64, validMappings int, avgQuality float64, identityKeySize int) float64 {
	simplicity := float64(5 - identityKeySize)
	if simplicity < 0 {
		simplicity = 0
	}
	return bm25Score*UniquenessMultiplier(validMappings)*avgQuality + simplicity
}
