// Package graph defines the property-graph store contract consumed by the
// discovery pipeline, with a Neo4j implementation for production and an
// in-memory implementation for tests.
package graph

import "context"

// Entity is a node in a graph store: a type, a key unique within that type,
// a flat property bag, and optional identity-key metadata.
type Entity struct {
	Type string
	Key  string

	// Properties holds externally visible, matchable property values.
	// Values are scalars or lists of scalars.
	Properties map[string]any

	// Internal holds bookkeeping values excluded from indexing and matching.
	Internal map[string]any

	// PrimaryKeyProperties is the ordered property-name list whose values
	// form the entity key.
	PrimaryKeyProperties []string

	// AdditionalKeyProperties lists alternate identity-key property sets.
	AdditionalKeyProperties [][]string

	// Labels holds extra type tags.
	Labels []string
}

// Ref identifies an entity by type and key.
type Ref struct {
	Type string
	Key  string
}

// Relation is a typed edge between two entities.
type Relation struct {
	Type       string
	From       Ref
	To         Ref
	Properties map[string]any

	// Keys extends the merge identity beyond (type, from, to). Two relations
	// with the same endpoints but different key values are distinct edges.
	// Key values are also written as relation properties.
	Keys map[string]any
}

// RelationFilter selects relations by type and property equality.
type RelationFilter struct {
	// Type restricts to one relation type. Empty matches all.
	Type string

	// Equals requires these relation properties to match exactly.
	Equals map[string]any

	// NotEquals excludes relations whose properties match any entry.
	NotEquals map[string]any
}

// EntityFilter selects entities by type and property equality.
type EntityFilter struct {
	Type      string
	Equals    map[string]any
	NotEquals map[string]any
}

// RelateMatchingSpec describes a bulk "relate all entity pairs whose
// properties match" operation.
type RelateMatchingSpec struct {
	// RelationType is the type of the created edges.
	RelationType string

	// FromType and ToType restrict the joined entity types.
	FromType string
	ToType   string

	// PropertyPairs maps from-entity property names to to-entity property
	// names; a pair of entities is related when every pair's values are
	// equal (or the from value, if a list, contains the to value).
	PropertyPairs map[string]string

	// Properties are set on every created edge.
	Properties map[string]any
}

// Store is the consumed graph-store contract. All writes are idempotent
// merges keyed by (type, key) for entities and (type, from, to, keys) for
// relations. The underlying query language is an adapter detail.
type Store interface {
	UpsertEntity(ctx context.Context, e Entity) error
	UpsertEntities(ctx context.Context, entities []Entity) error

	// GetEntity returns the entity or apperrors.ErrNotFound.
	GetEntity(ctx context.Context, entityType, key string) (*Entity, error)

	// EntityTypes returns the distinct entity types present.
	EntityTypes(ctx context.Context) ([]string, error)

	// ForEachEntityOfType streams every entity of one type through fn.
	// A fn error aborts the stream and is returned.
	ForEachEntityOfType(ctx context.Context, entityType string, fn func(*Entity) error) error

	MergeRelation(ctx context.Context, r Relation) error
	FindRelations(ctx context.Context, f RelationFilter) ([]Relation, error)

	// SetRelationProperties patches properties on all matching relations
	// and returns how many were touched.
	SetRelationProperties(ctx context.Context, f RelationFilter, props map[string]any) (int64, error)

	DeleteRelations(ctx context.Context, f RelationFilter) (int64, error)
	DeleteEntities(ctx context.Context, f EntityFilter) (int64, error)

	// RelateMatching bulk-creates edges between all matching entity pairs
	// and returns the number of edges created.
	RelateMatching(ctx context.Context, spec RelateMatchingSpec) (int64, error)

	// Neighborhood explores up to depth hops from an entity.
	Neighborhood(ctx context.Context, ref Ref, depth int) ([]Entity, []Relation, error)

	// ShortestPath returns the relations along a shortest path, or nil when
	// no path exists within maxDepth hops.
	ShortestPath(ctx context.Context, from, to Ref, maxDepth int) ([]Relation, error)

	// Query is the raw read-only escape hatch for external tooling.
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	EntityCount(ctx context.Context) (int64, error)
	RelationCount(ctx context.Context) (int64, error)
}

func matchesProps(props map[string]any, equals, notEquals map[string]any) bool {
	for k, want := range equals {
		if props[k] != want {
			return false
		}
	}
	for k, not := range notEquals {
		if props[k] == not {
			return false
		}
	}
	return true
}
