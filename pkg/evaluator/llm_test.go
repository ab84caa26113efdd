package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/llm"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/retry"
)

func testEvaluatorConfig() *config.EvaluatorConfig {
	return &config.EvaluatorConfig{
		Provider:              "mock",
		Temperature:           0.3,
		RequestTimeoutSeconds: 5,
	}
}

func newTestLLM(mock *llm.MockClient) *LLM {
	e := NewLLM(mock, testEvaluatorConfig(), zap.NewNop())
	// Single attempt with no backoff keeps failure tests fast.
	e.retryCfg = retry.FixedConfig(0, 0)
	return e
}

func testGroup() *Group {
	return &Group{
		EntityAType: "Order",
		EntityBType: "Customers",
		Candidates: []*models.RelationCandidate{
			{
				RelationID: "cand-1",
				Heuristic: &models.FkeyHeuristic{
					RelationID:   "cand-1",
					EntityAType:  "Order",
					EntityBType:  "Customers",
					TotalMatches: 40,
					QualitySum:   38.0,
					BM25Sum:      160.0,
					PropertyMatchPatterns: map[string]map[models.MatchType]int64{
						"customer_id->id": {models.MatchExact: 38, models.MatchPrefix: 2},
					},
				},
			},
		},
		Context: GroupContext{
			Examples: map[string][]ExampleDetail{
				"cand-1": {{
					EntityAKey:  "order-7",
					EntityBKey:  "cust-3",
					AProperties: map[string]string{"customer_id": "cust-3"},
					BProperties: map[string]string{"id": "cust-3"},
				}},
			},
			AcceptedRelations: []string{"SHIPPED_TO"},
		},
	}
}

func respondWith(body string) *llm.MockClient {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return body, nil
	}
	return mock
}

func TestEvaluateGroupParsesDecisions(t *testing.T) {
	mock := respondWith(`{
		"decisions": [{
			"relation_id": "cand-1",
			"result": "ACCEPTED",
			"relation_name": "ordered by",
			"directionality": "A_TO_B",
			"justification": "customer_id consistently matches the Customer id.",
			"property_mappings": [
				{"entity_a_property": "customer_id", "entity_b_property": "id"}
			]
		}]
	}`)

	evaluations, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Len(t, evaluations, 1)

	eval := evaluations["cand-1"]
	require.NotNil(t, eval)
	assert.Equal(t, models.ResultAccepted, eval.Result)
	assert.Equal(t, "ORDERED_BY", eval.RelationName)
	assert.Equal(t, models.DirectionAToB, eval.Directionality)
	assert.False(t, eval.IsManual)
	assert.False(t, eval.IsSubEntityRelation)
	require.Len(t, eval.PropertyMappings, 1)
	assert.Equal(t, "customer_id", eval.PropertyMappings[0].EntityAProperty)
	assert.Equal(t, "id", eval.PropertyMappings[0].EntityBProperty)
	assert.Equal(t, models.MatchExact, eval.PropertyMappings[0].MatchType)
	assert.Equal(t, 1.0, eval.PropertyMappings[0].Quality)
}

func TestEvaluateGroupRetriesTransientFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		if mock.GenerateResponseCalls() == 1 {
			return "", errors.New("429 rate limit exceeded")
		}
		return `{"decisions": [{"relation_id": "cand-1", "result": "UNSURE"}]}`, nil
	}

	e := NewLLM(mock, testEvaluatorConfig(), zap.NewNop())
	e.retryCfg = retry.FixedConfig(1, 0)

	evaluations, err := e.EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GenerateResponseCalls())
	assert.Equal(t, models.ResultUnsure, evaluations["cand-1"].Result)
}

func TestEvaluateGroupFallsBackToObservedMappings(t *testing.T) {
	mock := respondWith(`{
		"decisions": [{
			"relation_id": "cand-1",
			"result": "ACCEPTED",
			"relation_name": "ORDERED_BY",
			"directionality": "A_TO_B",
			"property_mappings": [
				{"entity_a_property": "imagined_prop", "entity_b_property": "id"}
			]
		}]
	}`)

	evaluations, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)

	// The decided mapping was never observed, so the observed pattern set
	// stands in with its dominant match type.
	mappings := evaluations["cand-1"].PropertyMappings
	require.Len(t, mappings, 1)
	assert.Equal(t, "customer_id", mappings[0].EntityAProperty)
	assert.Equal(t, "id", mappings[0].EntityBProperty)
	assert.Equal(t, models.MatchExact, mappings[0].MatchType)
}

func TestEvaluateGroupDerivesFallbackRelationName(t *testing.T) {
	mock := respondWith(`{
		"decisions": [{
			"relation_id": "cand-1",
			"result": "ACCEPTED",
			"directionality": "A_TO_B"
		}]
	}`)

	evaluations, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)
	assert.Equal(t, "HAS_CUSTOMER", evaluations["cand-1"].RelationName)
}

func TestEvaluateGroupInvalidResultBecomesUnsure(t *testing.T) {
	mock := respondWith(`{
		"decisions": [{"relation_id": "cand-1", "result": "MAYBE"}]
	}`)

	evaluations, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnsure, evaluations["cand-1"].Result)
}

func TestEvaluateGroupDropsUnknownCandidateDecisions(t *testing.T) {
	mock := respondWith(`{
		"decisions": [
			{"relation_id": "cand-1", "result": "REJECTED"},
			{"relation_id": "phantom", "result": "ACCEPTED", "relation_name": "X"}
		]
	}`)

	evaluations, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
	assert.Equal(t, models.ResultRejected, evaluations["cand-1"].Result)
}

func TestEvaluateGroupSurfacesBackendFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "", errors.New("401 unauthorized")
	}

	_, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.Error(t, err)
	assert.Equal(t, 1, mock.GenerateResponseCalls())
}

func TestEvaluateGroupCircuitBreakerFailsFast(t *testing.T) {
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		return "", errors.New("connection refused")
	}
	e := newTestLLM(mock)

	for i := 0; i < 5; i++ {
		_, err := e.EvaluateGroup(context.Background(), testGroup())
		require.Error(t, err)
	}
	assert.Equal(t, 5, mock.GenerateResponseCalls())

	// Breaker is open now; the backend must not be called again.
	_, err := e.EvaluateGroup(context.Background(), testGroup())
	require.Error(t, err)
	assert.Equal(t, 5, mock.GenerateResponseCalls())
}

func TestPromptIncludesEvidence(t *testing.T) {
	var captured string
	mock := llm.NewMockClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		captured = prompt
		return `{"decisions": []}`, nil
	}

	_, err := newTestLLM(mock).EvaluateGroup(context.Background(), testGroup())
	require.NoError(t, err)

	assert.Contains(t, captured, "cand-1")
	assert.Contains(t, captured, "customer_id->id")
	assert.Contains(t, captured, "order-7")
	assert.Contains(t, captured, "SHIPPED_TO")
	assert.Contains(t, captured, "Total observed matches**: 40")
}

func TestNormalizeRelationName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ordered by", "ORDERED_BY"},
		{"ORDERED_BY", "ORDERED_BY"},
		{"  belongs-to  ", "BELONGS_TO"},
		{"has :: owner!", "HAS_OWNER"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRelationName(tt.in), tt.in)
	}
}
