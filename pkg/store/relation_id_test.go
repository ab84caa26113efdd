package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ontolink/pkg/models"
)

func TestDeriveRelationIDOrderInvariant(t *testing.T) {
	forward := []models.PropertyMapping{
		{EntityAProperty: "customer_id", EntityBProperty: "id", MatchType: models.MatchExact},
		{EntityAProperty: "region", EntityBProperty: "region", MatchType: models.MatchExact},
	}
	reversed := []models.PropertyMapping{forward[1], forward[0]}

	assert.Equal(t,
		DeriveRelationID("Order", "User", forward),
		DeriveRelationID("Order", "User", reversed))
}

func TestDeriveRelationIDIgnoresMatchType(t *testing.T) {
	exact := []models.PropertyMapping{
		{EntityAProperty: "customer_id", EntityBProperty: "id", MatchType: models.MatchExact},
	}
	prefix := []models.PropertyMapping{
		{EntityAProperty: "customer_id", EntityBProperty: "id", MatchType: models.MatchPrefix},
	}
	// Same pair observed with different grades is still one candidate.
	assert.Equal(t,
		DeriveRelationID("Order", "User", exact),
		DeriveRelationID("Order", "User", prefix))
}

func TestDeriveRelationIDDistinguishes(t *testing.T) {
	mapping := []models.PropertyMapping{
		{EntityAProperty: "customer_id", EntityBProperty: "id"},
	}
	other := []models.PropertyMapping{
		{EntityAProperty: "owner_id", EntityBProperty: "id"},
	}
	assert.NotEqual(t,
		DeriveRelationID("Order", "User", mapping),
		DeriveRelationID("Order", "User", other))
	assert.NotEqual(t,
		DeriveRelationID("Order", "User", mapping),
		DeriveRelationID("Order", "Team", mapping))
	assert.NotEqual(t,
		DeriveRelationID("Order", "User", mapping),
		DeriveRelationID("User", "Order", mapping))
}
