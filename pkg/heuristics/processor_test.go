package heuristics

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/kv"
	"github.com/ekaya-inc/ontolink/pkg/models"
	"github.com/ekaya-inc/ontolink/pkg/search"
	"github.com/ekaya-inc/ontolink/pkg/store"
)

func testDiscoveryConfig() *config.DiscoveryConfig {
	return &config.DiscoveryConfig{
		ClientID:               "tester",
		BatchSize:              100,
		FinalK:                 10,
		MaxPerType:             3,
		DiversityPenalty:       0.85,
		MaxIdentityKeyArity:    4,
		TopScoreOnly:           true,
		BloomExpectedItems:     10000,
		BloomFalsePositiveRate: 0.01,
	}
}

type fixture struct {
	data      *graph.Memory
	store     *store.CandidateStore
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	data := graph.NewMemory()
	cfg := &config.Config{
		Redis:     config.RedisConfig{KeyPrefix: "test"},
		Discovery: *testDiscoveryConfig(),
	}
	candidates := store.NewCandidateStore(kv.NewMemory(), graph.NewMemory(), data, cfg, zap.NewNop())
	return &fixture{
		data:      data,
		store:     candidates,
		processor: NewProcessor(data, candidates, &cfg.Discovery, zap.NewNop()),
	}
}

func seedUser(t *testing.T, f *fixture, id string) {
	t.Helper()
	require.NoError(t, f.data.UpsertEntity(context.Background(), graph.Entity{
		Type: "User", Key: id,
		Properties:           map[string]any{"id": id, "email": id + "@example.com"},
		PrimaryKeyProperties: []string{"id"},
	}))
}

func seedOrder(t *testing.T, f *fixture, id, customer string) {
	t.Helper()
	require.NoError(t, f.data.UpsertEntity(context.Background(), graph.Entity{
		Type: "Order", Key: id,
		Properties:           map[string]any{"id": id, "customer_id": customer},
		PrimaryKeyProperties: []string{"id"},
	}))
}

func TestProcessAllEntitiesDiscoversForeignKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice")
	for i := 0; i < 50; i++ {
		seedOrder(t, f, fmt.Sprintf("order-%d", i), "alice")
	}

	require.NoError(t, f.processor.ProcessAllEntities(ctx, "v1"))
	assert.Equal(t, StateFlushed, f.processor.State())

	relationID := store.DeriveRelationID("Order", "User", []models.PropertyMapping{
		{EntityAProperty: "customer_id", EntityBProperty: "id"},
	})
	c, err := f.store.GetCandidate(ctx, "v1", relationID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.Heuristic.TotalMatches)
	assert.Equal(t, int64(50), c.Heuristic.PropertyMatchPatterns["customer_id->id"][models.MatchExact])
	assert.Equal(t, "Order", c.Heuristic.EntityAType)
	assert.Equal(t, "User", c.Heuristic.EntityBType)
	assert.NotEmpty(t, c.Heuristic.ExamplePairs)
}

func TestProcessAllEntitiesEmitsSubEntityMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.data.UpsertEntity(ctx, graph.Entity{
		Type: "Cluster", Key: "c1",
		Properties:           map[string]any{"name": "c1"},
		PrimaryKeyProperties: []string{"name"},
	}))
	require.NoError(t, f.data.UpsertEntity(ctx, graph.Entity{
		Type: "NodePool", Key: "np1",
		Properties:           map[string]any{"name": "np1"},
		Internal:             map[string]any{models.InternalParentType: "Cluster", models.InternalParentKey: "c1"},
		PrimaryKeyProperties: []string{"name"},
		Labels:               []string{models.LabelSubEntity},
	}))

	require.NoError(t, f.processor.ProcessAllEntities(ctx, "v1"))

	relationID := store.DeriveRelationID("NodePool", "Cluster", []models.PropertyMapping{
		{EntityAProperty: models.InternalParentKey, EntityBProperty: models.PrimaryKeyField},
	})
	c, err := f.store.GetCandidate(ctx, "v1", relationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Heuristic.TotalMatches)
	assert.True(t, c.Heuristic.IsSubEntityOnly())
}

func TestProcessorIsOneShot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.processor.ProcessAllEntities(context.Background(), "v1"))
	err := f.processor.ProcessAllEntities(context.Background(), "v1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRunning)
}

func TestProcessorFailsFastOnMissingPrimaryKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.data.UpsertEntity(ctx, graph.Entity{
		Type: "Broken", Key: "b1",
		Properties: map[string]any{"name": "b1"},
	}))
	err := f.processor.ProcessAllEntities(ctx, "v1")
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
}

func TestPrepareEntitySkipsValuesAbsentFromCorpus(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f, "alice")

	idx := search.NewIndex(testDiscoveryConfig(), zap.NewNop())
	user := &models.Entity{
		Type:                 "User",
		Properties:           map[string]models.Value{"id": models.StringValue("alice")},
		PrimaryKeyProperties: []string{"id"},
	}
	require.NoError(t, idx.Add(user))
	order := &models.Entity{
		Type: "Order",
		Properties: map[string]models.Value{
			"id":          models.StringValue("order-1"),
			"customer_id": models.StringValue("alice"),
			"note":        models.StringValue("gift wrap please"),
		},
		PrimaryKeyProperties: []string{"id"},
	}
	require.NoError(t, idx.Add(order))
	idx.Build()

	_, queries, meta, err := f.processor.prepareEntity(order, idx)
	require.NoError(t, err)
	require.Len(t, queries, len(meta))
	for _, m := range meta {
		// The globally-unique note never becomes a query; the bloom filter
		// kills it before search.
		assert.NotEqual(t, "note", m.property)
	}
	props := make([]string, 0, len(meta))
	for _, m := range meta {
		props = append(props, m.property)
	}
	assert.Contains(t, props, "customer_id")
}

func TestEvaluateResultsTopScoreOnly(t *testing.T) {
	f := newFixture(t)
	q := pendingQuery{
		entityType: "Order",
		entityKey:  "o1",
		property:   "customer_id",
		value:      "alice",
		properties: map[string]models.Value{
			"customer_id": models.StringValue("alice"),
		},
	}
	results := []search.Result{
		{Doc: &search.Document{
			EntityType: "User", PrimaryKey: "alice",
			IdentityKeys: []map[string]models.Value{{"id": models.StringValue("alice")}},
		}, Score: 8.0},
		{Doc: &search.Document{
			EntityType: "Account", PrimaryKey: "alice-acct",
			IdentityKeys: []map[string]models.Value{{"owner": models.StringValue("alice"), "region": models.StringValue("eu")}},
		}, Score: 2.0},
	}

	matches := f.processor.evaluateResults(q, results)
	require.NotEmpty(t, matches)
	best := matches[0].Quality
	for _, m := range matches {
		assert.Equal(t, best, m.Quality, "top-score-only must never mix qualities")
	}
	// The weaker Account mapping cannot even be enumerated (region is
	// uncovered), so only the User match survives.
	assert.Equal(t, "User", matches[0].MatchedType)
}

func TestEvaluateResultsKeepsExactTies(t *testing.T) {
	f := newFixture(t)
	q := pendingQuery{
		entityType: "Order",
		property:   "customer_id",
		value:      "alice",
		properties: map[string]models.Value{"customer_id": models.StringValue("alice")},
	}
	doc := func(entityType, pk string) *search.Document {
		return &search.Document{
			EntityType: entityType, PrimaryKey: pk,
			IdentityKeys: []map[string]models.Value{{"id": models.StringValue("alice")}},
		}
	}
	// Identical scores produce identical qualities; both ties are kept.
	matches := f.processor.evaluateResults(q, []search.Result{
		{Doc: doc("User", "alice"), Score: 5.0},
		{Doc: doc("Member", "alice"), Score: 5.0},
	})
	assert.Len(t, matches, 2)
}

func TestConvertGraphEntity(t *testing.T) {
	e := FromGraphEntity(&graph.Entity{
		Type: "Thing", Key: "t1",
		Properties: map[string]any{
			"name":   "t1",
			"count":  int64(3),
			"active": true,
			"tags":   []any{"a", "b"},
			"nested": map[string]any{"dropped": true},
		},
		Internal:             map[string]any{models.InternalParentKey: "p1"},
		PrimaryKeyProperties: []string{"name"},
	})
	assert.Equal(t, "t1", e.Properties["name"].Text())
	assert.Equal(t, "3", e.Properties["count"].Text())
	assert.Equal(t, "true", e.Properties["active"].Text())
	assert.Equal(t, []string{"a", "b"}, e.Properties["tags"].Strings())
	_, hasNested := e.Properties["nested"]
	assert.False(t, hasNested, "unrepresentable values are dropped")
	assert.Equal(t, "p1", e.Internal[models.InternalParentKey].Text())
}
