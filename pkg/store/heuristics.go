package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/retry"
)

// Heuristic hash field names. Pattern counters are dynamic fields of the form
// "pattern:<aProp->bProp>:<MATCHTYPE>".
const (
	fieldTotalMatches = "total_matches"
	fieldQualitySum   = "quality_sum"
	fieldBM25Sum      = "bm25_sum"
	fieldPatternPfx   = "pattern:"
)

// MergeHeuristics folds a batch of deep matches into the versioned heuristic
// records, grouped by relation id. Increments are additive and commutative,
// so concurrent merges for the same relation never conflict. Each relation
// also gets a minimal candidate edge in the candidate graph so it is
// discoverable before any judgment.
func (s *CandidateStore) MergeHeuristics(ctx context.Context, version string, batch []models.DeepPropertyMatch) error {
	groups := make(map[string][]models.DeepPropertyMatch)
	order := make([]string, 0)
	for _, m := range batch {
		if m.RelationID == "" {
			return fmt.Errorf("deep match for %s->%s has no relation id", m.SearchEntityType, m.MatchedType)
		}
		if _, seen := groups[m.RelationID]; !seen {
			order = append(order, m.RelationID)
		}
		groups[m.RelationID] = append(groups[m.RelationID], m)
	}

	for _, relationID := range order {
		if err := s.mergeRelationGroup(ctx, version, relationID, groups[relationID]); err != nil {
			return fmt.Errorf("merge heuristics for relation %s: %w", relationID, err)
		}
	}
	return nil
}

func (s *CandidateStore) mergeRelationGroup(ctx context.Context, version, relationID string, matches []models.DeepPropertyMatch) error {
	first := matches[0]
	aType := first.SearchEntityType
	bType := first.MatchedType

	// Candidate edge first: a heuristic record without a discoverable edge
	// is invisible to inspection tooling.
	err := retry.Do(ctx, s.graphRetry, func() error {
		return s.candidate.MergeRelation(ctx, graph.Relation{
			Type: CandidateRelation,
			From: typeNodeRef(aType),
			To:   typeNodeRef(bType),
			Keys: map[string]any{PropRelationID: relationID},
			Properties: map[string]any{
				PropVersion:     version,
				propEntityAType: aType,
				propEntityBType: bType,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("merge candidate edge: %w", err)
	}

	hKey := s.heuristicKey(version, relationID)
	if err := s.kv.HSet(ctx, hKey, map[string]string{
		propEntityAType: aType,
		propEntityBType: bType,
	}); err != nil {
		return fmt.Errorf("write heuristic metadata: %w", err)
	}

	var qualitySum, bm25Sum float64
	examples := make([]string, 0, len(matches))
	for _, m := range matches {
		qualitySum += m.Quality
		bm25Sum += m.BM25Score
		examples = append(examples, models.ExamplePair{
			EntityAKey: m.SearchEntityKey,
			EntityBKey: m.MatchedPrimaryKey,
		}.String())
		for _, pair := range m.Mappings {
			field := fieldPatternPfx + pair.EntityAProperty + "->" + pair.EntityBProperty + ":" + string(pair.MatchType)
			if err := s.kv.HIncrBy(ctx, hKey, field, 1); err != nil {
				return fmt.Errorf("increment pattern counter: %w", err)
			}
		}
	}
	if err := s.kv.HIncrBy(ctx, hKey, fieldTotalMatches, int64(len(matches))); err != nil {
		return fmt.Errorf("increment total matches: %w", err)
	}
	if err := s.kv.HIncrByFloat(ctx, hKey, fieldQualitySum, qualitySum); err != nil {
		return fmt.Errorf("increment quality sum: %w", err)
	}
	if err := s.kv.HIncrByFloat(ctx, hKey, fieldBM25Sum, bm25Sum); err != nil {
		return fmt.Errorf("increment bm25 sum: %w", err)
	}
	if err := s.kv.RPushCapped(ctx, s.examplesKey(version, relationID), models.MaxExamplePairs, examples...); err != nil {
		return fmt.Errorf("push example pairs: %w", err)
	}
	return nil
}

func parseHeuristic(relationID, version string, hash map[string]string, examples []string) (*models.FkeyHeuristic, error) {
	h := &models.FkeyHeuristic{
		RelationID:            relationID,
		Version:               version,
		EntityAType:           hash[propEntityAType],
		EntityBType:           hash[propEntityBType],
		PropertyMatchPatterns: make(map[string]map[models.MatchType]int64),
	}
	for field, value := range hash {
		switch field {
		case fieldTotalMatches:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse total matches: %w", err)
			}
			h.TotalMatches = n
		case fieldQualitySum:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("parse quality sum: %w", err)
			}
			h.QualitySum = f
		case fieldBM25Sum:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("parse bm25 sum: %w", err)
			}
			h.BM25Sum = f
		default:
			if !strings.HasPrefix(field, fieldPatternPfx) {
				continue
			}
			rest := strings.TrimPrefix(field, fieldPatternPfx)
			// The match type never contains a colon; property names may.
			sep := strings.LastIndex(rest, ":")
			if sep < 1 {
				return nil, fmt.Errorf("malformed pattern field %q", field)
			}
			pair := rest[:sep]
			matchType := models.MatchType(rest[sep+1:])
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse pattern counter %q: %w", field, err)
			}
			if h.PropertyMatchPatterns[pair] == nil {
				h.PropertyMatchPatterns[pair] = make(map[models.MatchType]int64)
			}
			h.PropertyMatchPatterns[pair][matchType] = n
		}
	}
	for _, raw := range examples {
		pair, err := models.ParseExamplePair(raw)
		if err != nil {
			return nil, err
		}
		h.ExamplePairs = append(h.ExamplePairs, pair)
	}
	return h, nil
}

// GetCandidate returns the merged heuristic + evaluation + sync view of one
// candidate, or apperrors.ErrNotFound when no heuristic exists for this
// version.
func (s *CandidateStore) GetCandidate(ctx context.Context, version, relationID string) (*models.RelationCandidate, error) {
	hash, err := s.kv.HGetAll(ctx, s.heuristicKey(version, relationID))
	if err != nil {
		return nil, fmt.Errorf("read heuristic: %w", err)
	}
	if len(hash) == 0 {
		return nil, apperrors.ErrNotFound
	}
	examples, err := s.kv.LRange(ctx, s.examplesKey(version, relationID))
	if err != nil {
		return nil, fmt.Errorf("read example pairs: %w", err)
	}
	heuristic, err := parseHeuristic(relationID, version, hash, examples)
	if err != nil {
		return nil, err
	}

	candidate := &models.RelationCandidate{
		RelationID: relationID,
		Version:    version,
		Heuristic:  heuristic,
	}

	edges, err := s.candidate.FindRelations(ctx, graph.RelationFilter{
		Type:   CandidateRelation,
		Equals: map[string]any{PropRelationID: relationID},
	})
	if err != nil {
		return nil, fmt.Errorf("find candidate edge: %w", err)
	}
	if len(edges) > 0 {
		edge := edges[0]
		candidate.Evaluation = decodeEvaluation(edge.Properties)
		candidate.Sync = decodeSyncStatus(edge.Properties)
	}
	return candidate, nil
}

// GetAllCandidates returns every candidate known to one version, ordered by
// relation id.
func (s *CandidateStore) GetAllCandidates(ctx context.Context, version string) ([]*models.RelationCandidate, error) {
	keys, err := s.kv.ScanKeys(ctx, s.versionPrefix(version)+"h:")
	if err != nil {
		return nil, fmt.Errorf("scan heuristic keys: %w", err)
	}
	sort.Strings(keys)

	out := make([]*models.RelationCandidate, 0, len(keys))
	for _, key := range keys {
		relationID := key[strings.LastIndex(key, ":")+1:]
		c, err := s.GetCandidate(ctx, version, relationID)
		if err != nil {
			s.logger.Warn("skipping unreadable candidate",
				zap.String("relation_id", relationID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
