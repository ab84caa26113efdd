package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/graph"
)

// Cleanup purges everything tagged with a version other than currentVersion:
// candidate-graph relations, candidate-graph nodes, self-created data-graph
// relations, and heuristics-store keys. The four categories are attempted
// independently; one failure never blocks the others. Nothing tagged with
// currentVersion is ever touched.
func (s *CandidateStore) Cleanup(ctx context.Context, currentVersion string) error {
	if currentVersion == "" {
		return fmt.Errorf("cleanup requires a current version")
	}

	var errs []error

	n, err := s.candidate.DeleteRelations(ctx, graph.RelationFilter{
		Type:      CandidateRelation,
		NotEquals: map[string]any{PropVersion: currentVersion},
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup candidate relations: %w", err))
	} else if n > 0 {
		s.logger.Info("cleaned stale candidate relations", zap.Int64("deleted", n))
	}

	n, err = s.candidate.DeleteEntities(ctx, graph.EntityFilter{
		Type:      TypeNode,
		NotEquals: map[string]any{PropVersion: currentVersion},
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup type nodes: %w", err))
	} else if n > 0 {
		s.logger.Info("cleaned stale type nodes", zap.Int64("deleted", n))
	}

	n, err = s.data.DeleteRelations(ctx, graph.RelationFilter{
		Equals:    map[string]any{PropCreatedBy: s.clientID},
		NotEquals: map[string]any{PropVersion: currentVersion},
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup data relations: %w", err))
	} else if n > 0 {
		s.logger.Info("cleaned stale data relations", zap.Int64("deleted", n))
	}

	if err := s.cleanupKV(ctx, currentVersion); err != nil {
		errs = append(errs, fmt.Errorf("cleanup heuristics keys: %w", err))
	}

	return errors.Join(errs...)
}

func (s *CandidateStore) cleanupKV(ctx context.Context, currentVersion string) error {
	keys, err := s.kv.ScanKeys(ctx, s.prefix+":v:")
	if err != nil {
		return err
	}
	keep := s.versionPrefix(currentVersion)
	stale := keys[:0]
	for _, k := range keys {
		if !strings.HasPrefix(k, keep) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	n, err := s.kv.Delete(ctx, stale...)
	if err != nil {
		return err
	}
	s.logger.Info("cleaned stale heuristic keys", zap.Int64("deleted", n))
	return nil
}

// SubEntityTypes returns the entity types reachable from entityType through
// accepted sub-entity relations, walking parent to child up to depth hops.
func (s *CandidateStore) SubEntityTypes(ctx context.Context, entityType string, depth int) ([]string, error) {
	edges, err := s.candidate.FindRelations(ctx, graph.RelationFilter{
		Type:   CandidateRelation,
		Equals: map[string]any{propIsSubEntity: true},
	})
	if err != nil {
		return nil, fmt.Errorf("find sub-entity relations: %w", err)
	}

	// entity_a_type is always the child regardless of edge orientation.
	children := make(map[string][]string)
	for _, e := range edges {
		child, _ := e.Properties[propEntityAType].(string)
		parent, _ := e.Properties[propEntityBType].(string)
		if child == "" || parent == "" {
			continue
		}
		children[parent] = append(children[parent], child)
	}

	seen := map[string]bool{entityType: true}
	frontier := []string{entityType}
	var closure []string
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, parent := range frontier {
			for _, child := range children[parent] {
				if seen[child] {
					continue
				}
				seen[child] = true
				closure = append(closure, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	sort.Strings(closure)
	return closure, nil
}
