package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/retry"
	"github.com/ekaya-inc/ontolink/pkg/workpool"
)

// Sync materializes one candidate in the data graph: accepted candidates get
// real typed edges between every matching entity pair, everything else gets
// its previously created edges removed. Failures are recorded on the
// candidate's sync status instead of returned, so a bulk sync continues past
// one bad relation.
func (s *CandidateStore) Sync(ctx context.Context, version, relationID string) error {
	candidate, err := s.GetCandidate(ctx, version, relationID)
	if err != nil {
		return err
	}
	if candidate.Evaluation == nil {
		// Unjudged candidates have nothing to materialize.
		return nil
	}

	var syncErr error
	var edges int64
	if candidate.Evaluation.IsAccepted() {
		edges, syncErr = s.materialize(ctx, version, relationID, candidate)
	} else {
		_, syncErr = s.data.DeleteRelations(ctx, graph.RelationFilter{
			Equals: map[string]any{
				PropRelationID: relationID,
				PropCreatedBy:  s.clientID,
			},
		})
	}

	if syncErr != nil {
		s.logger.Warn("sync failed",
			zap.String("relation_id", relationID), zap.Error(syncErr))
		s.recordSyncOutcome(ctx, relationID, false, syncErr.Error())
		return nil
	}

	if candidate.Evaluation.IsAccepted() {
		s.logger.Info("candidate materialized",
			zap.String("relation_id", relationID),
			zap.String("relation_name", candidate.Evaluation.RelationName),
			zap.Int64("edges", edges))
	}
	s.recordSyncOutcome(ctx, relationID, true, "")
	return nil
}

func (s *CandidateStore) materialize(ctx context.Context, version, relationID string, candidate *models.RelationCandidate) (int64, error) {
	eval := candidate.Evaluation
	if eval.RelationName == "" {
		return 0, fmt.Errorf("accepted candidate has no relation name")
	}
	if eval.IsSubEntityRelation {
		return s.materializeSubEntity(ctx, version, relationID, candidate)
	}
	if len(eval.PropertyMappings) == 0 {
		return 0, fmt.Errorf("accepted candidate has no property mappings")
	}

	fromType := candidate.Heuristic.EntityAType
	toType := candidate.Heuristic.EntityBType
	pairs := make(map[string]string, len(eval.PropertyMappings))
	for _, m := range eval.PropertyMappings {
		pairs[m.EntityAProperty] = m.EntityBProperty
	}
	if eval.Directionality == models.DirectionBToA {
		fromType, toType = toType, fromType
		reversed := make(map[string]string, len(pairs))
		for aProp, bProp := range pairs {
			reversed[bProp] = aProp
		}
		pairs = reversed
	}

	return retry.DoWithResult(ctx, s.graphRetry, func() (int64, error) {
		return s.data.RelateMatching(ctx, graph.RelateMatchingSpec{
			RelationType:  eval.RelationName,
			FromType:      fromType,
			ToType:        toType,
			PropertyPairs: pairs,
			Properties: map[string]any{
				PropRelationID: relationID,
				PropCreatedBy:  s.clientID,
				PropVersion:    version,
			},
		})
	})
}

// materializeSubEntity links structural children to their parents. The
// parent reference lives in the internal property bag and points at the
// parent's derived primary key, which a property-join cannot express, so
// these edges are written one child at a time.
func (s *CandidateStore) materializeSubEntity(ctx context.Context, version, relationID string, candidate *models.RelationCandidate) (int64, error) {
	eval := candidate.Evaluation
	childType := candidate.Heuristic.EntityAType
	parentType := candidate.Heuristic.EntityBType

	var edges int64
	err := s.data.ForEachEntityOfType(ctx, childType, func(e *graph.Entity) error {
		parentKey, _ := e.Internal[models.InternalParentKey].(string)
		if parentKey == "" {
			return nil
		}
		if pt, _ := e.Internal[models.InternalParentType].(string); pt != "" && pt != parentType {
			return nil
		}
		from := graph.Ref{Type: childType, Key: e.Key}
		to := graph.Ref{Type: parentType, Key: parentKey}
		if eval.Directionality == models.DirectionBToA {
			from, to = to, from
		}
		mergeErr := retry.Do(ctx, s.graphRetry, func() error {
			return s.data.MergeRelation(ctx, graph.Relation{
				Type: eval.RelationName,
				From: from,
				To:   to,
				Properties: map[string]any{
					PropRelationID: relationID,
					PropCreatedBy:  s.clientID,
					PropVersion:    version,
				},
			})
		})
		if mergeErr != nil {
			return mergeErr
		}
		edges++
		return nil
	})
	return edges, err
}

func (s *CandidateStore) recordSyncOutcome(ctx context.Context, relationID string, synced bool, errMsg string) {
	props := map[string]any{
		propIsSynced:  synced,
		propSyncError: errMsg,
	}
	if synced {
		props[propLastSynced] = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.candidate.SetRelationProperties(ctx, graph.RelationFilter{
		Type:   CandidateRelation,
		Equals: map[string]any{PropRelationID: relationID},
	}, props)
	if err != nil {
		// Status bookkeeping only; the sync itself already succeeded or was
		// recorded in the log above.
		s.logger.Warn("failed to record sync status",
			zap.String("relation_id", relationID), zap.Error(err))
	}
}

// syncConcurrency bounds parallel candidate syncs during a bulk re-sync.
const syncConcurrency = 8

// SyncAll re-syncs every candidate in a version with bounded parallelism.
// Used as the idempotent safety net after cutover.
func (s *CandidateStore) SyncAll(ctx context.Context, version string) error {
	candidates, err := s.GetAllCandidates(ctx, version)
	if err != nil {
		return err
	}

	pool := workpool.New(workpool.Config{MaxConcurrent: syncConcurrency}, s.logger)
	items := make([]workpool.Item[struct{}], 0, len(candidates))
	for _, c := range candidates {
		relationID := c.RelationID
		items = append(items, workpool.Item[struct{}]{
			ID: relationID,
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.Sync(ctx, version, relationID)
			},
		})
	}
	for _, r := range workpool.Process(ctx, pool, items, nil) {
		if r.Err != nil {
			s.logger.Warn("resync failed",
				zap.String("relation_id", r.ID), zap.Error(r.Err))
		}
	}
	return nil
}
