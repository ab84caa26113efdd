package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
)

// Memory is an in-process Store used in tests and container-free local runs.
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]map[string]*Entity // type -> key -> entity
	relations []*Relation
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]map[string]*Entity),
	}
}

func cloneEntity(e *Entity) *Entity {
	out := *e
	out.Properties = cloneMap(e.Properties)
	out.Internal = cloneMap(e.Internal)
	out.PrimaryKeyProperties = append([]string(nil), e.PrimaryKeyProperties...)
	out.Labels = append([]string(nil), e.Labels...)
	out.AdditionalKeyProperties = nil
	for _, set := range e.AdditionalKeyProperties {
		out.AdditionalKeyProperties = append(out.AdditionalKeyProperties, append([]string(nil), set...))
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRelation(r *Relation) *Relation {
	out := *r
	out.Properties = cloneMap(r.Properties)
	return &out
}

// UpsertEntity implements Store.
func (m *Memory) UpsertEntity(_ context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(e)
	return nil
}

// UpsertEntities implements Store.
func (m *Memory) UpsertEntities(_ context.Context, entities []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.upsertLocked(e)
	}
	return nil
}

func (m *Memory) upsertLocked(e Entity) {
	byKey, ok := m.entities[e.Type]
	if !ok {
		byKey = make(map[string]*Entity)
		m.entities[e.Type] = byKey
	}
	if existing, ok := byKey[e.Key]; ok {
		// Merge-by-key: incoming properties win, absent ones survive.
		for k, v := range e.Properties {
			if existing.Properties == nil {
				existing.Properties = make(map[string]any)
			}
			existing.Properties[k] = v
		}
		for k, v := range e.Internal {
			if existing.Internal == nil {
				existing.Internal = make(map[string]any)
			}
			existing.Internal[k] = v
		}
		if len(e.PrimaryKeyProperties) > 0 {
			existing.PrimaryKeyProperties = append([]string(nil), e.PrimaryKeyProperties...)
		}
		if len(e.AdditionalKeyProperties) > 0 {
			existing.AdditionalKeyProperties = e.AdditionalKeyProperties
		}
		for _, l := range e.Labels {
			found := false
			for _, have := range existing.Labels {
				if have == l {
					found = true
					break
				}
			}
			if !found {
				existing.Labels = append(existing.Labels, l)
			}
		}
		return
	}
	byKey[e.Key] = cloneEntity(&e)
}

// GetEntity implements Store.
func (m *Memory) GetEntity(_ context.Context, entityType, key string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entities[entityType][key]; ok {
		return cloneEntity(e), nil
	}
	return nil, apperrors.ErrNotFound
}

// EntityTypes implements Store.
func (m *Memory) EntityTypes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.entities))
	for t, byKey := range m.entities {
		if len(byKey) > 0 {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types, nil
}

// ForEachEntityOfType implements Store.
func (m *Memory) ForEachEntityOfType(_ context.Context, entityType string, fn func(*Entity) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entities[entityType]))
	for k := range m.entities[entityType] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, cloneEntity(m.entities[entityType][k]))
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// MergeRelation implements Store.
func (m *Memory) MergeRelation(_ context.Context, r Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(r)
	return nil
}

func sameIdentity(existing *Relation, r *Relation) bool {
	if existing.Type != r.Type || existing.From != r.From || existing.To != r.To {
		return false
	}
	for k, v := range r.Keys {
		if existing.Properties[k] != v {
			return false
		}
	}
	return true
}

// FindRelations implements Store.
func (m *Memory) FindRelations(_ context.Context, f RelationFilter) ([]Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relation
	for _, r := range m.relations {
		if m.relationMatches(r, f) {
			out = append(out, *cloneRelation(r))
		}
	}
	return out, nil
}

func (m *Memory) relationMatches(r *Relation, f RelationFilter) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	return matchesProps(r.Properties, f.Equals, f.NotEquals)
}

// SetRelationProperties implements Store.
func (m *Memory) SetRelationProperties(_ context.Context, f RelationFilter, props map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.relations {
		if m.relationMatches(r, f) {
			if r.Properties == nil {
				r.Properties = make(map[string]any)
			}
			for k, v := range props {
				r.Properties[k] = v
			}
			n++
		}
	}
	return n, nil
}

// DeleteRelations implements Store.
func (m *Memory) DeleteRelations(_ context.Context, f RelationFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.relations[:0]
	var n int64
	for _, r := range m.relations {
		if m.relationMatches(r, f) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.relations = kept
	return n, nil
}

// DeleteEntities implements Store.
func (m *Memory) DeleteEntities(_ context.Context, f EntityFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for t, byKey := range m.entities {
		if f.Type != "" && t != f.Type {
			continue
		}
		for k, e := range byKey {
			if matchesProps(e.Properties, f.Equals, f.NotEquals) {
				delete(byKey, k)
				n++
			}
		}
	}
	return n, nil
}

// RelateMatching implements Store.
func (m *Memory) RelateMatching(_ context.Context, spec RelateMatchingSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created int64
	for _, from := range m.entities[spec.FromType] {
		for _, to := range m.entities[spec.ToType] {
			if !pairsMatch(from, to, spec.PropertyPairs) {
				continue
			}
			rel := Relation{
				Type:       spec.RelationType,
				From:       Ref{Type: from.Type, Key: from.Key},
				To:         Ref{Type: to.Type, Key: to.Key},
				Properties: cloneMap(spec.Properties),
			}
			if m.mergeLocked(rel) {
				created++
			}
		}
	}
	return created, nil
}

func (m *Memory) mergeLocked(r Relation) bool {
	for _, existing := range m.relations {
		if sameIdentity(existing, &r) {
			for k, v := range r.Properties {
				if existing.Properties == nil {
					existing.Properties = make(map[string]any)
				}
				existing.Properties[k] = v
			}
			return false
		}
	}
	stored := cloneRelation(&r)
	// Key values double as properties so filters can select on them.
	for k, v := range r.Keys {
		if stored.Properties == nil {
			stored.Properties = make(map[string]any)
		}
		stored.Properties[k] = v
	}
	m.relations = append(m.relations, stored)
	return true
}

func pairsMatch(from, to *Entity, pairs map[string]string) bool {
	if len(pairs) == 0 {
		return false
	}
	for fromProp, toProp := range pairs {
		fv, fok := from.Properties[fromProp]
		tv, tok := to.Properties[toProp]
		if !fok || !tok {
			return false
		}
		if !valueMatches(fv, tv) {
			return false
		}
	}
	return true
}

func valueMatches(fv, tv any) bool {
	if list, ok := fv.([]any); ok {
		for _, item := range list {
			if item == tv {
				return true
			}
		}
		return false
	}
	return fv == tv
}

// Neighborhood implements Store with a breadth-first walk over undirected
// edges.
func (m *Memory) Neighborhood(_ context.Context, ref Ref, depth int) ([]Entity, []Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := map[Ref]bool{ref: true}
	frontier := []Ref{ref}
	var entities []Entity
	var relations []Relation
	seenRel := make(map[int]bool)

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []Ref
		for _, cur := range frontier {
			for i, r := range m.relations {
				var other Ref
				switch cur {
				case r.From:
					other = r.To
				case r.To:
					other = r.From
				default:
					continue
				}
				if !seenRel[i] {
					seenRel[i] = true
					relations = append(relations, *cloneRelation(r))
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				next = append(next, other)
				if e, ok := m.entities[other.Type][other.Key]; ok {
					entities = append(entities, *cloneEntity(e))
				}
			}
		}
		frontier = next
	}
	return entities, relations, nil
}

// ShortestPath implements Store with a breadth-first search over undirected
// edges.
func (m *Memory) ShortestPath(_ context.Context, from, to Ref, maxDepth int) ([]Relation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type step struct {
		ref  Ref
		path []Relation
	}
	visited := map[Ref]bool{from: true}
	queue := []step{{ref: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= maxDepth {
			continue
		}
		for _, r := range m.relations {
			var other Ref
			switch cur.ref {
			case r.From:
				other = r.To
			case r.To:
				other = r.From
			default:
				continue
			}
			if visited[other] {
				continue
			}
			path := append(append([]Relation(nil), cur.path...), *cloneRelation(r))
			if other == to {
				return path, nil
			}
			visited[other] = true
			queue = append(queue, step{ref: other, path: path})
		}
	}
	return nil, nil
}

// Query is unsupported in the in-memory store.
func (m *Memory) Query(_ context.Context, _ string, _ map[string]any) ([]map[string]any, error) {
	return nil, apperrors.ErrNotFound
}

// EntityCount implements Store.
func (m *Memory) EntityCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, byKey := range m.entities {
		n += int64(len(byKey))
	}
	return n, nil
}

// RelationCount implements Store.
func (m *Memory) RelationCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.relations)), nil
}
