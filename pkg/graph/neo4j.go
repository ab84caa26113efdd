package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
)

// Reserved node property names. External entity properties are stored with
// the "p_" prefix and internal ones with "i_" so they can never collide.
const (
	nodeLabel     = "Entity"
	propType      = "type"
	propKey       = "key"
	propPKProps   = "pk_props"
	propAltProps  = "alt_props"
	propLabels    = "labels"
	externalPfx   = "p_"
	internalPfx   = "i_"
)

var relTypePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeRelType restricts relation types to identifier characters.
// Relationship types cannot be parameterized in Cypher, so they are
// interpolated and must never carry user-controlled punctuation.
func sanitizeRelType(t string) string {
	cleaned := relTypePattern.ReplaceAllString(t, "_")
	if cleaned == "" {
		cleaned = "RELATED"
	}
	return strings.ToUpper(cleaned)
}

// Neo4j implements Store on a Neo4j server.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var _ Store = (*Neo4j)(nil)

// NewNeo4j connects to the configured server and verifies connectivity.
func NewNeo4j(cfg *config.GraphConfig, logger *zap.Logger) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("graph uri is required")
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	g := &Neo4j{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.Named("graph"),
	}
	g.ensureSchema(context.Background())
	return g, nil
}

// Close releases the underlying driver.
func (g *Neo4j) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// ensureSchema creates the uniqueness constraint best-effort; restricted
// users may not be allowed to.
func (g *Neo4j) ensureSchema(ctx context.Context) {
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.Run(ctx,
		"CREATE CONSTRAINT entity_type_key IF NOT EXISTS FOR (e:Entity) REQUIRE (e.type, e.key) IS UNIQUE", nil)
	if err != nil {
		g.logger.Warn("schema init failed (continuing)", zap.Error(err))
	}
}

func (g *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: g.database,
	})
}

func entityToRow(e Entity) (map[string]any, error) {
	row := map[string]any{
		propType: e.Type,
		propKey:  e.Key,
	}
	for k, v := range e.Properties {
		row[externalPfx+k] = v
	}
	for k, v := range e.Internal {
		row[internalPfx+k] = v
	}
	if len(e.PrimaryKeyProperties) > 0 {
		row[propPKProps] = toAnySlice(e.PrimaryKeyProperties)
	}
	if len(e.AdditionalKeyProperties) > 0 {
		// Nested lists are not valid Neo4j property values; serialize as JSON.
		blob, err := json.Marshal(e.AdditionalKeyProperties)
		if err != nil {
			return nil, fmt.Errorf("marshal additional key properties: %w", err)
		}
		row[propAltProps] = string(blob)
	}
	if len(e.Labels) > 0 {
		row[propLabels] = toAnySlice(e.Labels)
	}
	return row, nil
}

func entityFromProps(props map[string]any) (*Entity, error) {
	e := &Entity{
		Properties: make(map[string]any),
		Internal:   make(map[string]any),
	}
	for k, v := range props {
		switch {
		case k == propType:
			e.Type, _ = v.(string)
		case k == propKey:
			e.Key, _ = v.(string)
		case k == propPKProps:
			e.PrimaryKeyProperties = toStringSlice(v)
		case k == propLabels:
			e.Labels = toStringSlice(v)
		case k == propAltProps:
			if s, ok := v.(string); ok && s != "" {
				if err := json.Unmarshal([]byte(s), &e.AdditionalKeyProperties); err != nil {
					return nil, fmt.Errorf("unmarshal additional key properties: %w", err)
				}
			}
		case strings.HasPrefix(k, externalPfx):
			e.Properties[strings.TrimPrefix(k, externalPfx)] = v
		case strings.HasPrefix(k, internalPfx):
			e.Internal[strings.TrimPrefix(k, internalPfx)] = v
		}
	}
	return e, nil
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// UpsertEntity implements Store.
func (g *Neo4j) UpsertEntity(ctx context.Context, e Entity) error {
	return g.UpsertEntities(ctx, []Entity{e})
}

// UpsertEntities implements Store with a single UNWIND-MERGE batch.
func (g *Neo4j) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		row, err := entityToRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (e:Entity {type: row.type, key: row.key})
			SET e += row`,
			map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		return nil, res.Err()
	})
	if err != nil {
		return fmt.Errorf("upsert %d entities: %w", len(entities), err)
	}
	return nil
}

// GetEntity implements Store.
func (g *Neo4j) GetEntity(ctx context.Context, entityType, key string) (*Entity, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (e:Entity {type: $type, key: $key}) RETURN properties(e) AS props",
			map[string]any{"type": entityType, "key": key})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, apperrors.ErrNotFound
		}
		props, _ := record.Get("props")
		return props, nil
	})
	if err != nil {
		return nil, err
	}
	propMap, ok := result.(map[string]any)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return entityFromProps(propMap)
}

// EntityTypes implements Store.
func (g *Neo4j) EntityTypes(ctx context.Context) ([]string, error) {
	rows, err := g.Query(ctx, "MATCH (e:Entity) RETURN DISTINCT e.type AS type ORDER BY type", nil)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		if t, ok := row["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types, nil
}

// ForEachEntityOfType implements Store, streaming records as they arrive.
func (g *Neo4j) ForEachEntityOfType(ctx context.Context, entityType string, fn func(*Entity) error) error {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx,
		"MATCH (e:Entity {type: $type}) RETURN properties(e) AS props",
		map[string]any{"type": entityType})
	if err != nil {
		return fmt.Errorf("stream entities of type %s: %w", entityType, err)
	}
	for res.Next(ctx) {
		props, _ := res.Record().Get("props")
		propMap, ok := props.(map[string]any)
		if !ok {
			continue
		}
		e, err := entityFromProps(propMap)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return res.Err()
}

// MergeRelation implements Store.
func (g *Neo4j) MergeRelation(ctx context.Context, r Relation) error {
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	params := map[string]any{
		"fromType": r.From.Type, "fromKey": r.From.Key,
		"toType": r.To.Type, "toKey": r.To.Key,
		"props": emptyIfNil(r.Properties),
	}
	// Merge keys go inside the pattern so edges with the same endpoints but
	// different key values stay distinct.
	keyPattern := ""
	if len(r.Keys) > 0 {
		var parts []string
		i := 0
		for k, v := range r.Keys {
			p := fmt.Sprintf("mk%d", i)
			parts = append(parts, fmt.Sprintf("`%s`: $%s", k, p))
			params[p] = v
			i++
		}
		keyPattern = " {" + strings.Join(parts, ", ") + "}"
	}
	query := fmt.Sprintf(`
		MATCH (a:Entity {type: $fromType, key: $fromKey})
		MATCH (b:Entity {type: $toType, key: $toKey})
		MERGE (a)-[r:%s%s]->(b)
		SET r += $props`, sanitizeRelType(r.Type), keyPattern)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return nil, res.Err()
	})
	if err != nil {
		return fmt.Errorf("merge relation %s: %w", r.Type, err)
	}
	return nil
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func relationWhere(f RelationFilter, params map[string]any) string {
	var clauses []string
	i := 0
	for k, v := range f.Equals {
		p := fmt.Sprintf("eq%d", i)
		clauses = append(clauses, fmt.Sprintf("r.`%s` = $%s", k, p))
		params[p] = v
		i++
	}
	for k, v := range f.NotEquals {
		p := fmt.Sprintf("ne%d", i)
		clauses = append(clauses, fmt.Sprintf("(r.`%s` IS NULL OR r.`%s` <> $%s)", k, k, p))
		params[p] = v
		i++
	}
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

func relationPattern(f RelationFilter) string {
	if f.Type == "" {
		return "(a:Entity)-[r]->(b:Entity)"
	}
	return fmt.Sprintf("(a:Entity)-[r:%s]->(b:Entity)", sanitizeRelType(f.Type))
}

// FindRelations implements Store.
func (g *Neo4j) FindRelations(ctx context.Context, f RelationFilter) ([]Relation, error) {
	params := map[string]any{}
	query := fmt.Sprintf(`
		MATCH %s %s
		RETURN type(r) AS relType, a.type AS fromType, a.key AS fromKey,
		       b.type AS toType, b.key AS toKey, properties(r) AS props`,
		relationPattern(f), relationWhere(f, params))

	rows, err := g.Query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]Relation, 0, len(rows))
	for _, row := range rows {
		rel := Relation{
			Type: asString(row["relType"]),
			From: Ref{Type: asString(row["fromType"]), Key: asString(row["fromKey"])},
			To:   Ref{Type: asString(row["toType"]), Key: asString(row["toKey"])},
		}
		if props, ok := row["props"].(map[string]any); ok {
			rel.Properties = props
		}
		out = append(out, rel)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// SetRelationProperties implements Store.
func (g *Neo4j) SetRelationProperties(ctx context.Context, f RelationFilter, props map[string]any) (int64, error) {
	params := map[string]any{"props": emptyIfNil(props)}
	query := fmt.Sprintf("MATCH %s %s SET r += $props RETURN count(r) AS n",
		relationPattern(f), relationWhere(f, params))
	return g.writeCount(ctx, query, params)
}

// DeleteRelations implements Store.
func (g *Neo4j) DeleteRelations(ctx context.Context, f RelationFilter) (int64, error) {
	params := map[string]any{}
	query := fmt.Sprintf("MATCH %s %s DELETE r RETURN count(r) AS n",
		relationPattern(f), relationWhere(f, params))
	return g.writeCount(ctx, query, params)
}

// DeleteEntities implements Store.
func (g *Neo4j) DeleteEntities(ctx context.Context, f EntityFilter) (int64, error) {
	params := map[string]any{}
	var clauses []string
	if f.Type != "" {
		clauses = append(clauses, "e.type = $entityType")
		params["entityType"] = f.Type
	}
	i := 0
	for k, v := range f.Equals {
		p := fmt.Sprintf("eq%d", i)
		clauses = append(clauses, fmt.Sprintf("e.`%s%s` = $%s", externalPfx, k, p))
		params[p] = v
		i++
	}
	for k, v := range f.NotEquals {
		p := fmt.Sprintf("ne%d", i)
		clauses = append(clauses, fmt.Sprintf("(e.`%s%s` IS NULL OR e.`%s%s` <> $%s)", externalPfx, k, externalPfx, k, p))
		params[p] = v
		i++
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf("MATCH (e:Entity) %s DETACH DELETE e RETURN count(e) AS n", where)
	return g.writeCount(ctx, query, params)
}

func (g *Neo4j) writeCount(ctx context.Context, query string, params map[string]any) (int64, error) {
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return int64(0), nil
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int64)
	return n, nil
}

// RelateMatching implements Store. Property pairs are joined on equality,
// with list-valued from-properties matched by containment.
func (g *Neo4j) RelateMatching(ctx context.Context, spec RelateMatchingSpec) (int64, error) {
	if len(spec.PropertyPairs) == 0 {
		return 0, fmt.Errorf("relate matching requires at least one property pair")
	}
	var clauses []string
	for fromProp, toProp := range spec.PropertyPairs {
		clauses = append(clauses, fmt.Sprintf(
			"(a.`%[1]s%[2]s` = b.`%[1]s%[3]s` OR (a.`%[1]s%[2]s` IS NOT NULL AND b.`%[1]s%[3]s` IN a.`%[1]s%[2]s`))",
			externalPfx, fromProp, toProp))
	}
	params := map[string]any{
		"fromType": spec.FromType,
		"toType":   spec.ToType,
		"props":    emptyIfNil(spec.Properties),
	}
	query := fmt.Sprintf(`
		MATCH (a:Entity {type: $fromType}), (b:Entity {type: $toType})
		WHERE %s
		MERGE (a)-[r:%s]->(b)
		SET r += $props
		RETURN count(r) AS n`,
		strings.Join(clauses, " AND "), sanitizeRelType(spec.RelationType))
	return g.writeCount(ctx, query, params)
}

// Neighborhood implements Store.
func (g *Neo4j) Neighborhood(ctx context.Context, ref Ref, depth int) ([]Entity, []Relation, error) {
	if depth < 1 {
		return nil, nil, nil
	}
	query := fmt.Sprintf(`
		MATCH (a:Entity {type: $type, key: $key})-[rels*1..%d]-(m:Entity)
		UNWIND rels AS r
		WITH collect(DISTINCT m) AS nodes, collect(DISTINCT r) AS edges
		RETURN [n IN nodes | properties(n)] AS nodeProps,
		       [e IN edges | {relType: type(e), fromType: startNode(e).type, fromKey: startNode(e).key,
		                      toType: endNode(e).type, toKey: endNode(e).key, props: properties(e)}] AS edgeRows`,
		depth)

	rows, err := g.Query(ctx, query, map[string]any{"type": ref.Type, "key": ref.Key})
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	var entities []Entity
	if nodeProps, ok := rows[0]["nodeProps"].([]any); ok {
		for _, np := range nodeProps {
			if propMap, ok := np.(map[string]any); ok {
				e, err := entityFromProps(propMap)
				if err != nil {
					return nil, nil, err
				}
				entities = append(entities, *e)
			}
		}
	}
	var relations []Relation
	if edgeRows, ok := rows[0]["edgeRows"].([]any); ok {
		for _, er := range edgeRows {
			row, ok := er.(map[string]any)
			if !ok {
				continue
			}
			rel := Relation{
				Type: asString(row["relType"]),
				From: Ref{Type: asString(row["fromType"]), Key: asString(row["fromKey"])},
				To:   Ref{Type: asString(row["toType"]), Key: asString(row["toKey"])},
			}
			if props, ok := row["props"].(map[string]any); ok {
				rel.Properties = props
			}
			relations = append(relations, rel)
		}
	}
	return entities, relations, nil
}

// ShortestPath implements Store.
func (g *Neo4j) ShortestPath(ctx context.Context, from, to Ref, maxDepth int) ([]Relation, error) {
	query := fmt.Sprintf(`
		MATCH (a:Entity {type: $fromType, key: $fromKey}),
		      (b:Entity {type: $toType, key: $toKey}),
		      p = shortestPath((a)-[*..%d]-(b))
		UNWIND relationships(p) AS r
		RETURN type(r) AS relType, startNode(r).type AS fromType, startNode(r).key AS fromKey,
		       endNode(r).type AS toType, endNode(r).key AS toKey, properties(r) AS props`,
		maxDepth)
	rows, err := g.Query(ctx, query, map[string]any{
		"fromType": from.Type, "fromKey": from.Key,
		"toType": to.Type, "toKey": to.Key,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Relation, 0, len(rows))
	for _, row := range rows {
		rel := Relation{
			Type: asString(row["relType"]),
			From: Ref{Type: asString(row["fromType"]), Key: asString(row["fromKey"])},
			To:   Ref{Type: asString(row["toType"]), Key: asString(row["toKey"])},
		}
		if props, ok := row["props"].(map[string]any); ok {
			rel.Properties = props
		}
		out = append(out, rel)
	}
	return out, nil
}

// Query implements Store's raw read-only escape hatch.
func (g *Neo4j) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			record := res.Record()
			row := make(map[string]any, len(record.Keys))
			for _, k := range record.Keys {
				v, _ := record.Get(k)
				row[k] = v
			}
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

// EntityCount implements Store.
func (g *Neo4j) EntityCount(ctx context.Context) (int64, error) {
	rows, err := g.Query(ctx, "MATCH (e:Entity) RETURN count(e) AS n", nil)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	n, _ := rows[0]["n"].(int64)
	return n, nil
}

// RelationCount implements Store.
func (g *Neo4j) RelationCount(ctx context.Context) (int64, error) {
	rows, err := g.Query(ctx, "MATCH ()-[r]->() RETURN count(r) AS n", nil)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	n, _ := rows[0]["n"].(int64)
	return n, nil
}
