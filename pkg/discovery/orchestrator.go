// Package discovery coordinates full relation-discovery cycles: scan the
// data graph into fresh heuristics under a new ontology version, triage and
// judge the resulting candidates, then cut over, sync, and clean up the
// prior version.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/evaluator"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/heuristics"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/store"
)

// State tracks which phase of a cycle is active. Only one cycle runs
// system-wide at a time; concurrent invocations are rejected, not queued.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateJudging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateJudging:
		return "judging"
	default:
		return "unknown"
	}
}

// subEntityRelationName is the edge type for auto-accepted structural
// parent links.
const subEntityRelationName = "PART_OF"

// Orchestrator drives discovery cycles end to end.
type Orchestrator struct {
	data       graph.Store
	candidates *store.CandidateStore
	eval       evaluator.Evaluator
	cfg        *config.Config
	logger     *zap.Logger

	mu    sync.Mutex
	state State
}

// New wires an orchestrator.
func New(data graph.Store, candidates *store.CandidateStore, eval evaluator.Evaluator, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		data:       data,
		candidates: candidates,
		eval:       eval,
		cfg:        cfg,
		logger:     logger.Named("discovery"),
	}
}

// State returns the current cycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// RunCycle executes one full discovery cycle: scan under a fresh version,
// triage and judge candidates, cut the current version over, materialize
// accepted relations, and remove everything belonging to older versions.
// Invoking it while a cycle is active returns ErrAlreadyRunning.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("cycle is %s: %w", o.state, apperrors.ErrAlreadyRunning)
	}
	o.state = StateDiscovering
	o.mu.Unlock()
	defer o.setState(StateIdle)

	priorVersion, err := o.candidates.CurrentVersion(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNoCurrentVersion) {
		return fmt.Errorf("read current version: %w", err)
	}

	version := uuid.NewString()
	o.logger.Info("discovery cycle started",
		zap.String("version", version),
		zap.String("prior_version", priorVersion))

	processor := heuristics.NewProcessor(o.data, o.candidates, &o.cfg.Discovery, o.logger)
	if err := processor.ProcessAllEntities(ctx, version); err != nil {
		return fmt.Errorf("discovery scan: %w", err)
	}

	o.setState(StateJudging)
	groups, err := o.triage(ctx, version, priorVersion)
	if err != nil {
		return err
	}
	o.judge(ctx, version, groups)

	if err := o.candidates.SetCurrentVersion(ctx, version); err != nil {
		return fmt.Errorf("version cutover: %w", err)
	}
	if err := o.candidates.SyncAll(ctx, version); err != nil {
		return fmt.Errorf("sync accepted relations: %w", err)
	}
	if err := o.candidates.Cleanup(ctx, version); err != nil {
		// The cutover already happened; stale versions are retried by the
		// next cycle's cleanup.
		o.logger.Warn("cleanup of prior versions failed", zap.Error(err))
	}

	o.logger.Info("discovery cycle finished", zap.String("version", version))
	return nil
}

// triage resolves every candidate that does not need the evaluator and
// returns the rest grouped by entity type pair. Candidates with a stable
// prior judgment are copied forward first, so a manual judgment outranks
// every automatic rule. Then structural sub-entity candidates are
// auto-accepted and thin evidence is auto-marked unsure.
func (o *Orchestrator) triage(ctx context.Context, version, priorVersion string) ([]*evaluator.Group, error) {
	all, err := o.candidates.GetAllCandidates(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	type pairKey struct{ a, b string }
	grouped := make(map[pairKey][]*models.RelationCandidate)
	accepted := make(map[pairKey][]string)

	record := func(c *models.RelationCandidate, eval *models.FkeyEvaluation) error {
		if err := o.candidates.RecordEvaluation(ctx, version, c.RelationID, eval); err != nil {
			return fmt.Errorf("record evaluation for %s: %w", c.RelationID, err)
		}
		if eval.IsAccepted() {
			key := pairKey{c.Heuristic.EntityAType, c.Heuristic.EntityBType}
			accepted[key] = append(accepted[key], eval.RelationName)
		}
		return nil
	}

	var carried, auto, queued int
	for _, c := range all {
		prior, err := o.priorCandidate(ctx, priorVersion, c.RelationID)
		if err != nil {
			return nil, err
		}

		switch {
		case prior != nil && prior.Evaluation != nil && !o.needsRejudgment(c, prior):
			if err := record(c, prior.Evaluation); err != nil {
				return nil, err
			}
			carried++
		case c.Heuristic.IsSubEntityOnly():
			if err := record(c, subEntityEvaluation()); err != nil {
				return nil, err
			}
			auto++
		case c.Heuristic.TotalMatches < o.cfg.Discovery.MinEvidence:
			if err := record(c, insufficientEvidenceEvaluation(c.Heuristic.TotalMatches)); err != nil {
				return nil, err
			}
			auto++
		default:
			key := pairKey{c.Heuristic.EntityAType, c.Heuristic.EntityBType}
			grouped[key] = append(grouped[key], c)
			queued++
		}
	}

	o.logger.Info("candidates triaged",
		zap.Int("total", len(all)),
		zap.Int("carried_forward", carried),
		zap.Int("auto_resolved", auto),
		zap.Int("queued_for_judgment", queued))

	keys := make([]pairKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})

	groups := make([]*evaluator.Group, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, &evaluator.Group{
			EntityAType: key.a,
			EntityBType: key.b,
			Candidates:  grouped[key],
			Context:     o.buildContext(ctx, key.a, key.b, grouped[key], accepted[key]),
		})
	}
	return groups, nil
}

func (o *Orchestrator) priorCandidate(ctx context.Context, priorVersion, relationID string) (*models.RelationCandidate, error) {
	if priorVersion == "" {
		return nil, nil
	}
	prior, err := o.candidates.GetCandidate(ctx, priorVersion, relationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prior candidate %s: %w", relationID, err)
	}
	return prior, nil
}

// needsRejudgment reports whether the evidence moved enough since the prior
// version to justify a fresh judgment. Manual judgments are never overridden.
func (o *Orchestrator) needsRejudgment(c, prior *models.RelationCandidate) bool {
	if prior.Evaluation.IsManual {
		return false
	}
	oldTotal := prior.Heuristic.TotalMatches
	if oldTotal == 0 {
		return true
	}
	ratio := math.Abs(float64(c.Heuristic.TotalMatches-oldTotal)) / float64(oldTotal)
	if ratio > o.cfg.Discovery.RejudgeRatio {
		return true
	}
	if math.Abs(c.Heuristic.AvgQuality()-prior.Heuristic.AvgQuality()) >= o.cfg.Discovery.QualityDelta {
		return true
	}
	if math.Abs(c.Heuristic.AvgBM25()-prior.Heuristic.AvgBM25()) >= o.cfg.Discovery.QualityDelta {
		return true
	}
	return false
}

func subEntityEvaluation() *models.FkeyEvaluation {
	return &models.FkeyEvaluation{
		RelationName:        subEntityRelationName,
		Result:              models.ResultAccepted,
		Justification:       "structural parent reference",
		IsSubEntityRelation: true,
		Directionality:      models.DirectionAToB,
		PropertyMappings: []models.PropertyMapping{{
			EntityAProperty: models.InternalParentKey,
			EntityBProperty: models.PrimaryKeyField,
			MatchType:       models.MatchExact,
			Quality:         models.MatchExact.Quality(),
		}},
	}
}

func insufficientEvidenceEvaluation(totalMatches int64) *models.FkeyEvaluation {
	return &models.FkeyEvaluation{
		Result:         models.ResultUnsure,
		Justification:  fmt.Sprintf("only %d observed matches, below the evidence threshold", totalMatches),
		Directionality: models.DirectionAToB,
	}
}

// judge distributes groups round-robin across a fixed worker pool. Each
// worker owns an exclusive queue and processes it sequentially; a failing
// group is logged and never cancels sibling workers.
func (o *Orchestrator) judge(ctx context.Context, version string, groups []*evaluator.Group) {
	if len(groups) == 0 {
		return
	}

	workers := min(o.cfg.Evaluator.MaxConcurrent, len(groups))
	queues := make([][]*evaluator.Group, workers)
	for i, g := range groups {
		queues[i%workers] = append(queues[i%workers], g)
	}

	var wg sync.WaitGroup
	for w, queue := range queues {
		wg.Add(1)
		go func(worker int, queue []*evaluator.Group) {
			defer wg.Done()
			for _, group := range queue {
				o.judgeGroup(ctx, version, worker, group)
			}
		}(w, queue)
	}
	wg.Wait()
}

func (o *Orchestrator) judgeGroup(ctx context.Context, version string, worker int, group *evaluator.Group) {
	evaluations, err := o.eval.EvaluateGroup(ctx, group)
	if err != nil {
		o.logger.Error("judgment failed for group, continuing",
			zap.Int("worker", worker),
			zap.String("entity_a_type", group.EntityAType),
			zap.String("entity_b_type", group.EntityBType),
			zap.Error(err))
		return
	}
	for relationID, eval := range evaluations {
		if err := o.candidates.RecordEvaluation(ctx, version, relationID, eval); err != nil {
			o.logger.Error("failed to record judgment, continuing",
				zap.String("relation_id", relationID), zap.Error(err))
		}
	}
}

// buildContext assembles the bounded supporting evidence for one group.
// Context is best-effort: a missing example entity or closure lookup is
// logged and skipped, never fails the judgment.
func (o *Orchestrator) buildContext(ctx context.Context, aType, bType string, candidates []*models.RelationCandidate, acceptedNames []string) evaluator.GroupContext {
	gc := evaluator.GroupContext{
		Examples:          make(map[string][]evaluator.ExampleDetail),
		AcceptedRelations: acceptedNames,
	}

	var err error
	if gc.SubEntityTypesA, err = o.candidates.SubEntityTypes(ctx, aType, o.cfg.Discovery.SubEntityDepth); err != nil {
		o.logger.Warn("sub-entity closure lookup failed",
			zap.String("entity_type", aType), zap.Error(err))
	}
	if gc.SubEntityTypesB, err = o.candidates.SubEntityTypes(ctx, bType, o.cfg.Discovery.SubEntityDepth); err != nil {
		o.logger.Warn("sub-entity closure lookup failed",
			zap.String("entity_type", bType), zap.Error(err))
	}

	for _, c := range candidates {
		aProps, bProps := mappedProperties(c.Heuristic)
		limit := min(o.cfg.Discovery.ContextExamplePairs, len(c.Heuristic.ExamplePairs))
		for _, pair := range c.Heuristic.ExamplePairs[:limit] {
			detail, ok := o.exampleDetail(ctx, aType, bType, pair, aProps, bProps)
			if !ok {
				continue
			}
			gc.Examples[c.RelationID] = append(gc.Examples[c.RelationID], detail)
		}
	}
	return gc
}

func (o *Orchestrator) exampleDetail(ctx context.Context, aType, bType string, pair models.ExamplePair, aProps, bProps []string) (evaluator.ExampleDetail, bool) {
	a, err := o.data.GetEntity(ctx, aType, pair.EntityAKey)
	if err != nil {
		o.logger.Debug("example entity unavailable",
			zap.String("entity_type", aType), zap.String("key", pair.EntityAKey), zap.Error(err))
		return evaluator.ExampleDetail{}, false
	}
	b, err := o.data.GetEntity(ctx, bType, pair.EntityBKey)
	if err != nil {
		o.logger.Debug("example entity unavailable",
			zap.String("entity_type", bType), zap.String("key", pair.EntityBKey), zap.Error(err))
		return evaluator.ExampleDetail{}, false
	}
	return evaluator.ExampleDetail{
		EntityAKey:  pair.EntityAKey,
		EntityBKey:  pair.EntityBKey,
		AProperties: restrictProperties(a, aProps),
		BProperties: restrictProperties(b, bProps),
	}, true
}

// mappedProperties splits the heuristic's observed pattern keys into the
// property names referenced on each side.
func mappedProperties(h *models.FkeyHeuristic) (aProps, bProps []string) {
	seenA := make(map[string]bool)
	seenB := make(map[string]bool)
	for _, pair := range h.MappedPropertyPairs() {
		aProp, bProp, ok := cutPattern(pair)
		if !ok {
			continue
		}
		if !seenA[aProp] {
			seenA[aProp] = true
			aProps = append(aProps, aProp)
		}
		if !seenB[bProp] {
			seenB[bProp] = true
			bProps = append(bProps, bProp)
		}
	}
	return aProps, bProps
}

func cutPattern(pair string) (aProp, bProp string, ok bool) {
	for i := 0; i+1 < len(pair); i++ {
		if pair[i] == '-' && pair[i+1] == '>' {
			return pair[:i], pair[i+2:], true
		}
	}
	return "", "", false
}

func restrictProperties(e *graph.Entity, names []string) map[string]string {
	entity := heuristics.FromGraphEntity(e)
	out := make(map[string]string, len(names))
	for _, name := range names {
		if name == models.PrimaryKeyField {
			if pk, err := entity.PrimaryKey(); err == nil {
				out[name] = pk
			}
			continue
		}
		if v, ok := entity.Properties[name]; ok && !v.IsEmpty() {
			out[name] = v.Text()
		}
	}
	return out
}

// Run executes cycles on the configured interval, or a single cycle when no
// interval is set. It returns when the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Discovery.CycleIntervalMinutes <= 0 {
		return o.RunCycle(ctx)
	}

	interval := time.Duration(o.cfg.Discovery.CycleIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := o.RunCycle(ctx); err != nil {
		o.logger.Error("discovery cycle failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.RunCycle(ctx); err != nil {
				o.logger.Error("discovery cycle failed", zap.Error(err))
			}
		}
	}
}
