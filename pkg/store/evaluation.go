package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/retry"
)

// RecordEvaluation writes a judgment onto the candidate edge. The prior edge
// is dropped and recreated because directionality may have flipped between
// passes; sync-status fields survive the rewrite so a pending re-sync is not
// forgotten.
func (s *CandidateStore) RecordEvaluation(ctx context.Context, version, relationID string, eval *models.FkeyEvaluation) error {
	if eval == nil {
		return fmt.Errorf("record evaluation for %s: evaluation is nil", relationID)
	}
	if !models.IsValidEvaluationResult(eval.Result) {
		return fmt.Errorf("record evaluation for %s: invalid result %q", relationID, eval.Result)
	}

	hash, err := s.kv.HGetAll(ctx, s.heuristicKey(version, relationID))
	if err != nil {
		return fmt.Errorf("read heuristic for evaluation: %w", err)
	}
	aType := hash[propEntityAType]
	bType := hash[propEntityBType]
	if aType == "" || bType == "" {
		return fmt.Errorf("record evaluation for %s: no heuristic in version %s", relationID, version)
	}

	filter := graph.RelationFilter{
		Type:   CandidateRelation,
		Equals: map[string]any{PropRelationID: relationID},
	}
	existing, err := s.candidate.FindRelations(ctx, filter)
	if err != nil {
		return fmt.Errorf("find prior candidate edge: %w", err)
	}
	var priorSync map[string]any
	if len(existing) > 0 {
		priorSync = syncProps(existing[0].Properties)
	}

	if _, err := s.candidate.DeleteRelations(ctx, filter); err != nil {
		return fmt.Errorf("drop prior candidate edge: %w", err)
	}

	from, to := typeNodeRef(aType), typeNodeRef(bType)
	if eval.Directionality == models.DirectionBToA {
		from, to = to, from
	}

	props, err := encodeEvaluation(eval)
	if err != nil {
		return err
	}
	props[PropVersion] = version
	props[propEntityAType] = aType
	props[propEntityBType] = bType
	for k, v := range priorSync {
		props[k] = v
	}

	err = retry.Do(ctx, s.graphRetry, func() error {
		return s.candidate.MergeRelation(ctx, graph.Relation{
			Type:       CandidateRelation,
			From:       from,
			To:         to,
			Keys:       map[string]any{PropRelationID: relationID},
			Properties: props,
		})
	})
	if err != nil {
		return fmt.Errorf("write evaluated candidate edge: %w", err)
	}

	s.logger.Debug("evaluation recorded",
		zap.String("relation_id", relationID),
		zap.String("result", string(eval.Result)),
		zap.String("relation_name", eval.RelationName))
	return nil
}

func encodeEvaluation(eval *models.FkeyEvaluation) (map[string]any, error) {
	mappings, err := json.Marshal(eval.PropertyMappings)
	if err != nil {
		return nil, fmt.Errorf("marshal property mappings: %w", err)
	}
	return map[string]any{
		propRelationName:  eval.RelationName,
		propResult:        string(eval.Result),
		propJustification: eval.Justification,
		propThought:       eval.Thought,
		propIsManual:      eval.IsManual,
		propIsSubEntity:   eval.IsSubEntityRelation,
		propDirection:     string(eval.Directionality),
		propMappings:      string(mappings),
	}, nil
}

func decodeEvaluation(props map[string]any) *models.FkeyEvaluation {
	result, _ := props[propResult].(string)
	if result == "" {
		// No judgment on this edge yet.
		return nil
	}
	eval := &models.FkeyEvaluation{
		Result: models.EvaluationResult(result),
	}
	eval.RelationName, _ = props[propRelationName].(string)
	eval.Justification, _ = props[propJustification].(string)
	eval.Thought, _ = props[propThought].(string)
	eval.IsManual, _ = props[propIsManual].(bool)
	eval.IsSubEntityRelation, _ = props[propIsSubEntity].(bool)
	if d, ok := props[propDirection].(string); ok {
		eval.Directionality = models.Directionality(d)
	}
	if raw, ok := props[propMappings].(string); ok && raw != "" {
		// Tolerate a corrupt blob; the mappings are advisory for sync and
		// can be re-judged.
		_ = json.Unmarshal([]byte(raw), &eval.PropertyMappings)
	}
	return eval
}

func syncProps(props map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range []string{propIsSynced, propLastSynced, propSyncError} {
		if v, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out
}

func decodeSyncStatus(props map[string]any) models.SyncStatus {
	var status models.SyncStatus
	status.IsSynced, _ = props[propIsSynced].(bool)
	status.ErrorMessage, _ = props[propSyncError].(string)
	if raw, ok := props[propLastSynced].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			status.LastSynced = &ts
		}
	}
	return status
}
