// Package heuristics drives the discovery scan: it builds the per-cycle
// fuzzy index over the data graph, streams entities in type-homogeneous
// batches, turns property values into boosted queries, scores the results,
// and flushes the resulting heuristic updates into the candidate store.
package heuristics

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/match"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/search"
	"github.com/ekaya-inc/ontolink/pkg/store"
)

// State tracks a processor's progress through its single cycle.
type State int32

const (
	StateIdle State = iota
	StateIndexing
	StateScanning
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIndexing:
		return "indexing"
	case StateScanning:
		return "scanning"
	case StateFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// subEntityQuality is the pre-assigned deep-match quality of structural
// parent links. They are certain by construction and never go through the
// fuzzy scorer.
const subEntityQuality = 10.0

// maxContextTerms caps the context portion of a boosted query.
const maxContextTerms = 5

// Processor runs one discovery scan. It is one-shot: after ProcessAllEntities
// returns the processor stays Flushed and a new one is created for the next
// cycle.
type Processor struct {
	data   graph.Store
	store  *store.CandidateStore
	cfg    *config.DiscoveryConfig
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// NewProcessor wires a processor for one cycle.
func NewProcessor(data graph.Store, candidates *store.CandidateStore, cfg *config.DiscoveryConfig, logger *zap.Logger) *Processor {
	return &Processor{
		data:   data,
		store:  candidates,
		cfg:    cfg,
		logger: logger.Named("heuristics"),
	}
}

// State returns the processor's current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// ProcessAllEntities runs the full scan against one ontology version:
// index the corpus, pre-create type nodes, then stream entities in
// type-homogeneous batches through search and scoring. A batch or entity
// failure is logged and isolated; an entity without primary-key properties
// fails the cycle immediately.
func (p *Processor) ProcessAllEntities(ctx context.Context, version string) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("processor is %s: %w", p.state, apperrors.ErrAlreadyRunning)
	}
	p.state = StateIndexing
	p.mu.Unlock()

	types, err := p.data.EntityTypes(ctx)
	if err != nil {
		return fmt.Errorf("list entity types: %w", err)
	}

	idx := search.NewIndex(p.cfg, p.logger)
	for _, t := range types {
		err := p.data.ForEachEntityOfType(ctx, t, func(ge *graph.Entity) error {
			return idx.Add(FromGraphEntity(ge))
		})
		if err != nil {
			return fmt.Errorf("index entities of type %s: %w", t, err)
		}
	}
	idx.Build()
	defer idx.Release()

	// Type nodes first so candidate edges always have endpoints to land on.
	if err := p.store.EnsureTypeNodes(ctx, version, types); err != nil {
		return err
	}

	p.setState(StateScanning)
	for _, t := range types {
		if err := p.scanType(ctx, version, idx, t); err != nil {
			p.logger.Error("scan failed for type, continuing",
				zap.String("entity_type", t), zap.Error(err))
		}
	}

	p.setState(StateFlushed)
	return nil
}

// scanType streams one type's entities through the pipeline in batches.
func (p *Processor) scanType(ctx context.Context, version string, idx *search.Index, entityType string) error {
	batch := make([]*models.Entity, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.processBatch(ctx, version, idx, batch); err != nil {
			// One failed batch must not starve the rest of the corpus.
			p.logger.Error("batch merge failed, continuing",
				zap.String("entity_type", entityType),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		}
		batch = batch[:0]
	}

	err := p.data.ForEachEntityOfType(ctx, entityType, func(ge *graph.Entity) error {
		batch = append(batch, FromGraphEntity(ge))
		if len(batch) >= p.cfg.BatchSize {
			flush()
		}
		return nil
	})
	flush()
	return err
}

type pendingQuery struct {
	entityType string
	entityKey  string
	property   string
	value      string
	properties map[string]models.Value
}

func (p *Processor) processBatch(ctx context.Context, version string, idx *search.Index, batch []*models.Entity) error {
	var matches []models.DeepPropertyMatch
	var queries []search.Query
	var meta []pendingQuery
	labels := make(map[string][]string)

	for _, e := range batch {
		if len(e.Labels) > 0 {
			labels[e.Type] = mergeLabels(labels[e.Type], e.Labels)
		}
		preScored, qs, qm, err := p.prepareEntity(e, idx)
		if err != nil {
			p.logger.Warn("skipping entity",
				zap.String("entity_type", e.Type), zap.Error(err))
			continue
		}
		matches = append(matches, preScored...)
		queries = append(queries, qs...)
		meta = append(meta, qm...)
	}

	results, err := idx.SearchBatch(queries)
	if err != nil {
		return err
	}
	for i, rs := range results {
		matches = append(matches, p.evaluateResults(meta[i], rs)...)
	}

	// Flush order: observed type/label metadata first, then the heuristics
	// that reference it.
	if err := p.store.TagTypeLabels(ctx, version, labels); err != nil {
		p.logger.Warn("failed to tag type labels", zap.Error(err))
	}
	if len(matches) == 0 {
		return nil
	}
	return p.store.MergeHeuristics(ctx, version, matches)
}

// prepareEntity emits the entity's pre-scored structural matches and one
// boosted search query per (property, value) that survives the bloom filter.
func (p *Processor) prepareEntity(e *models.Entity, idx *search.Index) ([]models.DeepPropertyMatch, []search.Query, []pendingQuery, error) {
	pk, err := e.PrimaryKey()
	if err != nil {
		return nil, nil, nil, err
	}

	var preScored []models.DeepPropertyMatch
	if parentType, parentKey, ok := e.ParentRef(); ok {
		// Structural parent links are certain; they bypass search entirely.
		mappings := []models.PropertyMapping{{
			EntityAProperty: models.InternalParentKey,
			EntityBProperty: models.PrimaryKeyField,
			MatchType:       models.MatchExact,
			Quality:         models.MatchExact.Quality(),
		}}
		preScored = append(preScored, models.DeepPropertyMatch{
			SearchEntityType:   e.Type,
			SearchEntityKey:    pk,
			SearchProperty:     models.InternalParentKey,
			SearchValue:        parentKey,
			MatchedType:        parentType,
			MatchedPrimaryKey:  parentKey,
			MatchedIdentityKey: map[string]string{models.PrimaryKeyField: parentKey},
			Mappings:           mappings,
			Quality:            subEntityQuality,
			RelationID:         store.DeriveRelationID(e.Type, parentType, mappings),
		})
	}

	var queries []search.Query
	var meta []pendingQuery
	for prop, value := range e.Properties {
		for _, member := range value.Strings() {
			if member == "" || !idx.Contains(member) {
				continue
			}
			queries = append(queries, search.Query{
				Terms:       p.buildTerms(e, prop, member, idx),
				ExcludeType: e.Type,
			})
			meta = append(meta, pendingQuery{
				entityType: e.Type,
				entityKey:  pk,
				property:   prop,
				value:      member,
				properties: e.Properties,
			})
		}
	}
	return preScored, queries, meta, nil
}

// buildTerms assembles the boosted token list: the value counts three times,
// the property name twice, and context terms once. Context comes from
// sibling identity-key values, or failing that from other property values
// the bloom filter confirms exist elsewhere in the corpus.
func (p *Processor) buildTerms(e *models.Entity, prop, value string, idx *search.Index) []string {
	var terms []string
	appendN := func(raw string, n int) {
		toks := search.Tokenize(raw)
		for i := 0; i < n; i++ {
			terms = append(terms, toks...)
		}
	}
	appendN(value, 3)
	appendN(prop, 2)

	context := 0
	for _, keyProp := range e.PrimaryKeyProperties {
		if keyProp == prop || context >= maxContextTerms {
			continue
		}
		if v, ok := e.Properties[keyProp]; ok && !v.IsEmpty() {
			appendN(v.Text(), 1)
			context++
		}
	}
	if context == 0 {
		for otherProp, v := range e.Properties {
			if otherProp == prop || context >= maxContextTerms {
				continue
			}
			for _, member := range v.Strings() {
				if member != "" && member != value && idx.Contains(member) {
					appendN(member, 1)
					context++
					break
				}
			}
		}
	}
	return terms
}

// evaluateResults turns one query's ranked hits into scored deep matches.
// With top-score-only enabled, only the globally-maximal-quality matches
// survive; ties at the exact maximum are all kept.
func (p *Processor) evaluateResults(q pendingQuery, results []search.Result) []models.DeepPropertyMatch {
	var out []models.DeepPropertyMatch
	for _, r := range results {
		for _, identityKey := range r.Doc.IdentityKeys {
			combos := match.EnumerateMappings(q.properties, identityKey, q.property, p.cfg.MaxIdentityKeyArity)
			if len(combos) == 0 {
				continue
			}
			for _, combo := range combos {
				quality := match.Score(r.Score, len(combos), match.AvgQuality(combo), len(identityKey))
				idKey := make(map[string]string, len(identityKey))
				for field, v := range identityKey {
					idKey[field] = v.Text()
				}
				out = append(out, models.DeepPropertyMatch{
					SearchEntityType:   q.entityType,
					SearchEntityKey:    q.entityKey,
					SearchProperty:     q.property,
					SearchValue:        q.value,
					MatchedType:        r.Doc.EntityType,
					MatchedPrimaryKey:  r.Doc.PrimaryKey,
					MatchedIdentityKey: idKey,
					Mappings:           combo,
					BM25Score:          r.Score,
					Quality:            quality,
					RelationID:         store.DeriveRelationID(q.entityType, r.Doc.EntityType, combo),
				})
			}
		}
	}
	if !p.cfg.TopScoreOnly || len(out) == 0 {
		return out
	}

	best := out[0].Quality
	for _, m := range out[1:] {
		if m.Quality > best {
			best = m.Quality
		}
	}
	kept := out[:0]
	for _, m := range out {
		// Exact equality: all ties at the maximum survive.
		if m.Quality == best {
			kept = append(kept, m)
		}
	}
	return kept
}

func mergeLabels(have, add []string) []string {
	for _, l := range add {
		found := false
		for _, h := range have {
			if h == l {
				found = true
				break
			}
		}
		if !found {
			have = append(have, l)
		}
	}
	return have
}
