package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/jsonutil"
	"github.com/ekaya-inc/ontolink/pkg/llm"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/retry"
)

// LLM judges candidate groups by asking a text-generation backend to classify
// each candidate, with retry on transient failures and a circuit breaker so a
// dead provider fails fast instead of stalling every judgment worker.
type LLM struct {
	gen         llm.TextGenerator
	breaker     *llm.CircuitBreaker
	retryCfg    *retry.Config
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

var _ Evaluator = (*LLM)(nil)

// NewLLM creates the LLM-backed evaluator.
func NewLLM(gen llm.TextGenerator, cfg *config.EvaluatorConfig, logger *zap.Logger) *LLM {
	return &LLM{
		gen:         gen,
		breaker:     llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		retryCfg:    retry.FixedConfig(2, 2*time.Second),
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		logger:      logger.Named("evaluator"),
	}
}

// decision is the wire form of one per-candidate judgment in the response.
// Loosely typed fields go through jsonutil because backends occasionally
// return numbers or booleans where strings belong.
type decision struct {
	RelationID       json.RawMessage   `json:"relation_id"`
	Result           string            `json:"result"`
	RelationName     json.RawMessage   `json:"relation_name"`
	Directionality   string            `json:"directionality"`
	Justification    string            `json:"justification"`
	PropertyMappings []mappingDecision `json:"property_mappings"`
}

func (d decision) relationID() string   { return jsonutil.FlexibleStringValue(d.RelationID) }
func (d decision) relationName() string { return jsonutil.FlexibleStringValue(d.RelationName) }

type mappingDecision struct {
	EntityAProperty string `json:"entity_a_property"`
	EntityBProperty string `json:"entity_b_property"`
}

type analysisResponse struct {
	Decisions []decision `json:"decisions"`
}

// EvaluateGroup implements Evaluator.
func (e *LLM) EvaluateGroup(ctx context.Context, group *Group) (map[string]*models.FkeyEvaluation, error) {
	if allowed, allowErr := e.breaker.Allow(); !allowed {
		return nil, allowErr
	}

	prompt := buildGroupPrompt(group)
	e.logger.Debug("judging candidate group",
		zap.String("entity_a_type", group.EntityAType),
		zap.String("entity_b_type", group.EntityBType),
		zap.Int("candidates", len(group.Candidates)))

	response, err := retry.DoWithResult(ctx, e.retryCfg, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.gen.GenerateResponse(callCtx, prompt, buildSystemMessage(), e.temperature)
	})
	if err != nil {
		e.breaker.RecordFailure()
		return nil, fmt.Errorf("evaluate group %s/%s: %w", group.EntityAType, group.EntityBType, err)
	}
	e.breaker.RecordSuccess()

	parsed, err := llm.ParseJSONResponse[analysisResponse](response)
	if err != nil {
		return nil, fmt.Errorf("parse evaluation response: %w", err)
	}
	thought := llm.ExtractThinking(response)

	byID := make(map[string]*models.RelationCandidate, len(group.Candidates))
	for _, c := range group.Candidates {
		byID[c.RelationID] = c
	}

	evaluations := make(map[string]*models.FkeyEvaluation, len(parsed.Decisions))
	for _, d := range parsed.Decisions {
		relationID := d.relationID()
		candidate, ok := byID[relationID]
		if !ok {
			e.logger.Warn("decision for unknown candidate dropped",
				zap.String("relation_id", relationID))
			continue
		}
		evaluations[relationID] = e.toEvaluation(group, candidate, d, thought)
	}

	for _, c := range group.Candidates {
		if _, ok := evaluations[c.RelationID]; !ok {
			e.logger.Warn("backend returned no decision for candidate",
				zap.String("relation_id", c.RelationID))
		}
	}
	return evaluations, nil
}

func (e *LLM) toEvaluation(group *Group, candidate *models.RelationCandidate, d decision, thought string) *models.FkeyEvaluation {
	result := models.EvaluationResult(strings.ToUpper(strings.TrimSpace(d.Result)))
	if !models.IsValidEvaluationResult(result) {
		e.logger.Warn("invalid evaluation result, recording as unsure",
			zap.String("relation_id", candidate.RelationID),
			zap.String("result", d.Result))
		result = models.ResultUnsure
	}

	directionality := models.Directionality(strings.ToUpper(strings.TrimSpace(d.Directionality)))
	if directionality != models.DirectionAToB && directionality != models.DirectionBToA {
		directionality = models.DirectionAToB
	}

	name := NormalizeRelationName(d.relationName())
	if name == "" && result == models.ResultAccepted {
		target := group.EntityBType
		if directionality == models.DirectionBToA {
			target = group.EntityAType
		}
		name = fallbackRelationName(target)
		e.logger.Warn("accepted candidate missing relation name, derived fallback",
			zap.String("relation_id", candidate.RelationID),
			zap.String("relation_name", name))
	}

	return &models.FkeyEvaluation{
		RelationName:        name,
		Result:              result,
		Justification:       d.Justification,
		Thought:             thought,
		IsManual:            false,
		IsSubEntityRelation: candidate.Heuristic.IsSubEntityOnly(),
		Directionality:      directionality,
		PropertyMappings:    e.resolveMappings(candidate, d),
	}
}

// resolveMappings keeps only decided mappings backed by an observed pattern,
// attaching the dominant observed match type for each. When the backend
// returns nothing usable the full observed mapping set stands in, so an
// accepted candidate always materializes on evidence that actually exists.
func (e *LLM) resolveMappings(candidate *models.RelationCandidate, d decision) []models.PropertyMapping {
	patterns := candidate.Heuristic.PropertyMatchPatterns

	mappings := make([]models.PropertyMapping, 0, len(d.PropertyMappings))
	for _, m := range d.PropertyMappings {
		pair := m.EntityAProperty + "->" + m.EntityBProperty
		counts, ok := patterns[pair]
		if !ok {
			e.logger.Warn("decided mapping never observed, dropped",
				zap.String("relation_id", candidate.RelationID),
				zap.String("pair", pair))
			continue
		}
		mt := dominantMatchType(counts)
		mappings = append(mappings, models.PropertyMapping{
			EntityAProperty: m.EntityAProperty,
			EntityBProperty: m.EntityBProperty,
			MatchType:       mt,
			Quality:         mt.Quality(),
		})
	}
	if len(mappings) > 0 {
		return mappings
	}

	for _, pair := range sortedPatternKeys(candidate.Heuristic) {
		aProp, bProp, ok := strings.Cut(pair, "->")
		if !ok {
			continue
		}
		mt := dominantMatchType(patterns[pair])
		mappings = append(mappings, models.PropertyMapping{
			EntityAProperty: aProp,
			EntityBProperty: bProp,
			MatchType:       mt,
			Quality:         mt.Quality(),
		})
	}
	return mappings
}

// dominantMatchType returns the most frequently observed match type, breaking
// ties toward the higher-quality type.
func dominantMatchType(counts map[models.MatchType]int64) models.MatchType {
	best := models.MatchNone
	var bestCount int64 = -1
	for mt, count := range counts {
		if count > bestCount || (count == bestCount && mt.Quality() > best.Quality()) {
			best, bestCount = mt, count
		}
	}
	return best
}

var relationNamePattern = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// NormalizeRelationName canonicalizes a relation name into the UPPER_SNAKE
// form used for graph edge types.
func NormalizeRelationName(name string) string {
	name = relationNamePattern.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.Trim(strings.ToUpper(name), "_")
}

// fallbackRelationName derives a generic edge name toward the target type,
// e.g. a relation pointing at "Customers" becomes HAS_CUSTOMER.
func fallbackRelationName(targetType string) string {
	return NormalizeRelationName("HAS_" + inflection.Singular(targetType))
}
