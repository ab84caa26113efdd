package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/models"
)

func testConfig() *config.DiscoveryConfig {
	return &config.DiscoveryConfig{
		FinalK:                 10,
		MaxPerType:             3,
		DiversityPenalty:       0.85,
		BloomExpectedItems:     10000,
		BloomFalsePositiveRate: 0.01,
	}
}

func testEntity(entityType, id string, props map[string]models.Value) *models.Entity {
	if props == nil {
		props = map[string]models.Value{}
	}
	props["id"] = models.StringValue(id)
	return &models.Entity{
		Type:                 entityType,
		Properties:           props,
		PrimaryKeyProperties: []string{"id"},
	}
}

func buildIndex(t *testing.T, entities ...*models.Entity) *Index {
	t.Helper()
	idx := NewIndex(testConfig(), zap.NewNop())
	for _, e := range entities {
		require.NoError(t, idx.Add(e))
	}
	idx.Build()
	return idx
}

func TestSearchBeforeBuildRejected(t *testing.T) {
	idx := NewIndex(testConfig(), zap.NewNop())
	_, err := idx.SearchBatch([]Query{{Terms: []string{"anything"}}})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotBuilt)
}

func TestAddAfterBuildRejected(t *testing.T) {
	idx := buildIndex(t, testEntity("User", "u1", nil))
	err := idx.Add(testEntity("User", "u2", nil))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrIndexNotBuilt,
		"a sealed index is built, the not-built sentinel would mislead callers")
}

func TestAddRequiresPrimaryKey(t *testing.T) {
	idx := NewIndex(testConfig(), zap.NewNop())
	err := idx.Add(&models.Entity{
		Type:       "User",
		Properties: map[string]models.Value{"email": models.StringValue("a@b.com")},
	})
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
}

func TestBloomNeverFalseNegative(t *testing.T) {
	idx := NewIndex(testConfig(), zap.NewNop())
	var values []string
	for i := 0; i < 500; i++ {
		v := fmt.Sprintf("value-%d-xyz", i)
		values = append(values, v)
		require.NoError(t, idx.Add(testEntity("Thing", v, nil)))
	}
	idx.Build()

	for _, v := range values {
		assert.True(t, idx.Contains(v), "inserted key value %q must test positive", v)
	}
}

func TestBloomHoldsOnlyIdentityKeyValues(t *testing.T) {
	idx := buildIndex(t,
		testEntity("User", "alice", map[string]models.Value{
			"bio": models.StringValue("enjoys long walks"),
		}),
	)
	assert.True(t, idx.Contains("alice"))
	// Non-key values never land in the filter: nothing can match on them.
	assert.False(t, idx.Contains("enjoys long walks"))
}

func TestBloomFiltersAbsentValue(t *testing.T) {
	idx := buildIndex(t,
		testEntity("User", "u1", map[string]models.Value{"email": models.StringValue("alice@example.com")}),
	)
	// Not a guarantee in general (false positives exist), but with one
	// inserted value this unrelated string must be absent in practice.
	assert.False(t, idx.Contains("completely-unrelated-value-98765"))
}

func TestSearchExcludesOwnType(t *testing.T) {
	idx := buildIndex(t,
		testEntity("User", "alice", nil),
		testEntity("Order", "o1", map[string]models.Value{"customer_id": models.StringValue("alice")}),
	)

	results, err := idx.SearchBatch([]Query{{Terms: []string{"alice"}, ExcludeType: "Order"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])
	for _, r := range results[0] {
		assert.NotEqual(t, "Order", r.Doc.EntityType)
	}
}

func TestSearchRanksExactValueHitFirst(t *testing.T) {
	idx := buildIndex(t,
		testEntity("User", "user-42", nil),
		testEntity("Team", "team-7", map[string]models.Value{"note": models.StringValue("user 42 joined")}),
	)

	results, err := idx.SearchBatch([]Query{{Terms: []string{"user-42", "user-42", "user-42"}}})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])
	assert.Equal(t, "User", results[0][0].Doc.EntityType)
	assert.Equal(t, "user-42", results[0][0].Doc.PrimaryKey)
}

func TestSearchCapsPerType(t *testing.T) {
	entities := []*models.Entity{}
	for i := 0; i < 20; i++ {
		entities = append(entities, testEntity("Pod", fmt.Sprintf("pod-%d", i),
			map[string]models.Value{"namespace": models.StringValue("production")}))
	}
	entities = append(entities, testEntity("Namespace", "production", nil))
	idx := buildIndex(t, entities...)

	results, err := idx.SearchBatch([]Query{{Terms: []string{"production"}}})
	require.NoError(t, err)
	perType := map[string]int{}
	for _, r := range results[0] {
		perType[r.Doc.EntityType]++
	}
	assert.LessOrEqual(t, perType["Pod"], 3)
	assert.Equal(t, 1, perType["Namespace"], "rarer type must survive the flood of Pod hits")
	assert.LessOrEqual(t, len(results[0]), 10)
}

func TestIdentityKeysDropIncompleteSets(t *testing.T) {
	e := testEntity("User", "u1", map[string]models.Value{"email": models.StringValue("a@b.com")})
	e.AdditionalKeyProperties = [][]string{{"email"}, {"region", "handle"}}
	idx := buildIndex(t, e)

	results, err := idx.SearchBatch([]Query{{Terms: []string{"u1"}}})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])
	doc := results[0][0].Doc
	// Primary key set plus the complete email set; the region/handle set has
	// no values and is dropped.
	require.Len(t, doc.IdentityKeys, 2)
	assert.Contains(t, doc.IdentityKeys[0], "id")
	assert.Contains(t, doc.IdentityKeys[1], "email")
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"simple word", "alice", []string{"alice"}},
		{"dashed id keeps whole and parts", "user-123", []string{"user-123", "user", "123"}},
		{"mixed case lowered", "Payment.Service", []string{"payment.service", "payment", "service"}},
		{"single-char fragments dropped", "a-b-cd", []string{"a-b-cd", "cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.raw))
		})
	}
}

func TestReleaseFreesIndex(t *testing.T) {
	idx := buildIndex(t, testEntity("User", "u1", nil))
	idx.Release()
	_, err := idx.SearchBatch([]Query{{Terms: []string{"u1"}}})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotBuilt)
}
