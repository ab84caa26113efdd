// Package store persists relation candidates: heuristic statistics in a KV
// store, candidate edges and evaluations in the candidate graph, and
// materialized relations in the data graph. Everything is namespaced by
// ontology version; a single KV pointer names the current version.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/kv"
	"github.com/ekaya-inc/ontolink/pkg/retry"
)

// Candidate-graph vocabulary.
const (
	// TypeNode is the entity type of the per-entity-type placeholder nodes
	// that candidate edges hang between.
	TypeNode = "EntityType"

	// CandidateRelation is the edge type of candidate relations.
	CandidateRelation = "CANDIDATE"
)

// Relation and node property names used in the candidate and data graphs.
const (
	PropRelationID    = "relation_id"
	PropVersion       = "version"
	PropCreatedBy     = "created_by"
	propEntityAType   = "entity_a_type"
	propEntityBType   = "entity_b_type"
	propRelationName  = "relation_name"
	propResult        = "result"
	propJustification = "justification"
	propThought       = "thought"
	propIsManual      = "is_manual"
	propIsSubEntity   = "is_sub_entity_relation"
	propDirection     = "directionality"
	propMappings      = "property_mappings"
	propIsSynced      = "is_synced"
	propLastSynced    = "last_synced"
	propSyncError     = "sync_error"
)

// CandidateStore owns the versioned candidate lifecycle across the KV store
// and both graphs.
type CandidateStore struct {
	kv        kv.Store
	candidate graph.Store
	data      graph.Store
	logger    *zap.Logger

	prefix   string
	clientID string

	// graphRetry bounds transient graph-write failures with a small fixed
	// attempt count.
	graphRetry *retry.Config
}

// NewCandidateStore wires the store against its backends.
func NewCandidateStore(
	kvStore kv.Store,
	candidateGraph graph.Store,
	dataGraph graph.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *CandidateStore {
	return &CandidateStore{
		kv:         kvStore,
		candidate:  candidateGraph,
		data:       dataGraph,
		logger:     logger.Named("store"),
		prefix:     cfg.Redis.KeyPrefix,
		clientID:   cfg.Discovery.ClientID,
		graphRetry: retry.FixedConfig(2, 250*time.Millisecond),
	}
}

func (s *CandidateStore) currentVersionKey() string {
	return s.prefix + ":current_version"
}

func (s *CandidateStore) heuristicKey(version, relationID string) string {
	return fmt.Sprintf("%s:v:%s:h:%s", s.prefix, version, relationID)
}

func (s *CandidateStore) examplesKey(version, relationID string) string {
	return fmt.Sprintf("%s:v:%s:x:%s", s.prefix, version, relationID)
}

func (s *CandidateStore) versionPrefix(version string) string {
	return fmt.Sprintf("%s:v:%s:", s.prefix, version)
}

// CurrentVersion returns the currently live ontology version.
func (s *CandidateStore) CurrentVersion(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, s.currentVersionKey())
	if err != nil {
		return "", fmt.Errorf("read current version: %w", err)
	}
	if v == "" {
		return "", apperrors.ErrNoCurrentVersion
	}
	return v, nil
}

// SetCurrentVersion flips the current-version pointer. This is the sole
// externally visible cutover point of a discovery cycle.
func (s *CandidateStore) SetCurrentVersion(ctx context.Context, version string) error {
	if err := s.kv.Set(ctx, s.currentVersionKey(), version); err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	s.logger.Info("ontology version cutover", zap.String("version", version))
	return nil
}

// EnsureTypeNodes merges a placeholder node per entity type into the
// candidate graph, tagged with the active version. Candidate edges always
// have valid endpoints this way, regardless of discovery order.
func (s *CandidateStore) EnsureTypeNodes(ctx context.Context, version string, types []string) error {
	if len(types) == 0 {
		return nil
	}
	nodes := make([]graph.Entity, 0, len(types))
	for _, t := range types {
		nodes = append(nodes, graph.Entity{
			Type: TypeNode,
			Key:  t,
			Properties: map[string]any{
				"name":      t,
				PropVersion: version,
			},
		})
	}
	err := retry.Do(ctx, s.graphRetry, func() error {
		return s.candidate.UpsertEntities(ctx, nodes)
	})
	if err != nil {
		return fmt.Errorf("ensure %d type nodes: %w", len(nodes), err)
	}
	return nil
}

// TagTypeLabels merges observed labels onto type nodes. Labels accumulate;
// a type once seen as a sub-entity stays marked for the version's lifetime.
func (s *CandidateStore) TagTypeLabels(ctx context.Context, version string, labels map[string][]string) error {
	if len(labels) == 0 {
		return nil
	}
	nodes := make([]graph.Entity, 0, len(labels))
	for t, ls := range labels {
		if len(ls) == 0 {
			continue
		}
		nodes = append(nodes, graph.Entity{
			Type:       TypeNode,
			Key:        t,
			Properties: map[string]any{PropVersion: version},
			Labels:     ls,
		})
	}
	if len(nodes) == 0 {
		return nil
	}
	err := retry.Do(ctx, s.graphRetry, func() error {
		return s.candidate.UpsertEntities(ctx, nodes)
	})
	if err != nil {
		return fmt.Errorf("tag type labels: %w", err)
	}
	return nil
}

func typeNodeRef(entityType string) graph.Ref {
	return graph.Ref{Type: TypeNode, Key: entityType}
}
