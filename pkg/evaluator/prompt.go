package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ontolink/pkg/models"
)

// buildGroupPrompt renders one candidate group, its accumulated statistics,
// and the supporting context into the analysis prompt.
func buildGroupPrompt(group *Group) string {
	var prompt strings.Builder

	prompt.WriteString("# Entity Relation Analysis\n\n")
	prompt.WriteString(fmt.Sprintf(
		"Analyze the following relation candidates between entity type `%s` and entity type `%s` and determine which represent true foreign-key style relationships.\n\n",
		group.EntityAType, group.EntityBType))

	// Supporting context
	if len(group.Context.SubEntityTypesA) > 0 || len(group.Context.SubEntityTypesB) > 0 ||
		len(group.Context.AcceptedRelations) > 0 {
		prompt.WriteString("## Context\n\n")
		if len(group.Context.SubEntityTypesA) > 0 {
			prompt.WriteString(fmt.Sprintf("- `%s` has structural sub-entities: %s\n",
				group.EntityAType, strings.Join(group.Context.SubEntityTypesA, ", ")))
		}
		if len(group.Context.SubEntityTypesB) > 0 {
			prompt.WriteString(fmt.Sprintf("- `%s` has structural sub-entities: %s\n",
				group.EntityBType, strings.Join(group.Context.SubEntityTypesB, ", ")))
		}
		if len(group.Context.AcceptedRelations) > 0 {
			prompt.WriteString(fmt.Sprintf("- Already accepted relations between these types: %s\n",
				strings.Join(group.Context.AcceptedRelations, ", ")))
		}
		prompt.WriteString("\n")
	}

	// Candidates with their evidence
	prompt.WriteString("## Relation Candidates\n\n")
	for i, c := range group.Candidates {
		h := c.Heuristic
		prompt.WriteString(fmt.Sprintf("### Candidate %d: %s → %s\n", i+1, h.EntityAType, h.EntityBType))
		prompt.WriteString(fmt.Sprintf("- **ID**: %s\n", c.RelationID))
		prompt.WriteString(fmt.Sprintf("- **Total observed matches**: %d\n", h.TotalMatches))
		prompt.WriteString(fmt.Sprintf("- **Average match quality**: %.2f (1.0 = all exact)\n", h.AvgQuality()))
		prompt.WriteString(fmt.Sprintf("- **Average search relevance**: %.2f\n", h.AvgBM25()))

		prompt.WriteString("- **Observed property mappings**:\n")
		for _, pair := range sortedPatternKeys(h) {
			for _, mt := range sortedMatchTypes(h.PropertyMatchPatterns[pair]) {
				prompt.WriteString(fmt.Sprintf("  - `%s` matched as %s %d times\n",
					pair, mt, h.PropertyMatchPatterns[pair][mt]))
			}
		}

		if examples := group.Context.Examples[c.RelationID]; len(examples) > 0 {
			prompt.WriteString("- **Example entity pairs** (mapped properties only):\n")
			for _, ex := range examples {
				prompt.WriteString(fmt.Sprintf("  - %s `%s` %s ↔ %s `%s` %s\n",
					h.EntityAType, ex.EntityAKey, renderProps(ex.AProperties),
					h.EntityBType, ex.EntityBKey, renderProps(ex.BProperties)))
			}
		}

		if c.Evaluation != nil {
			prompt.WriteString(fmt.Sprintf("- **Prior judgment**: %s (%s); evidence has changed since, re-judge.\n",
				c.Evaluation.Result, c.Evaluation.RelationName))
		}

		prompt.WriteString("\n")
	}

	// Analysis guidelines
	prompt.WriteString("## Analysis Guidelines\n\n")
	prompt.WriteString("**Strong signals for ACCEPTED**:\n")
	prompt.WriteString("- Property naming follows reference convention (e.g. customer_id → the `id` of a Customer)\n")
	prompt.WriteString("- Many matches with EXACT match type on identity properties\n")
	prompt.WriteString("- High average match quality (>0.9)\n")
	prompt.WriteString("- The mapping covers the full identity key of the target type\n\n")

	prompt.WriteString("**Strong signals for REJECTED**:\n")
	prompt.WriteString("- Property names suggest unrelated domains (e.g. a count matching an id by coincidence)\n")
	prompt.WriteString("- Few matches despite both types being populated\n")
	prompt.WriteString("- Only weak match types (PREFIX/SUFFIX) on short generic values\n\n")

	prompt.WriteString("**Use UNSURE when**:\n")
	prompt.WriteString("- The business meaning is ambiguous from names and values alone\n")
	prompt.WriteString("- Evidence is thin or contradictory\n\n")

	// Output contract
	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with a `decisions` array, one entry per candidate:\n")
	prompt.WriteString("- `relation_id`: The candidate ID from above\n")
	prompt.WriteString("- `result`: One of \"ACCEPTED\", \"REJECTED\", \"UNSURE\"\n")
	prompt.WriteString("- `relation_name`: UPPER_SNAKE_CASE verb phrase for the edge (e.g. \"ORDERED_BY\"), required when accepted\n")
	prompt.WriteString("- `directionality`: \"A_TO_B\" if the edge should point from the first type to the second, else \"B_TO_A\"\n")
	prompt.WriteString("- `justification`: Brief explanation (1-2 sentences)\n")
	prompt.WriteString("- `property_mappings`: The property pairs the relation joins on, each with `entity_a_property` and `entity_b_property`\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "decisions": [
    {
      "relation_id": "abc123",
      "result": "ACCEPTED",
      "relation_name": "ORDERED_BY",
      "directionality": "A_TO_B",
      "justification": "customer_id on Order consistently matches the Customer identity key exactly.",
      "property_mappings": [
        {"entity_a_property": "customer_id", "entity_b_property": "id"}
      ]
    }
  ]
}
`)
	prompt.WriteString("```\n\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// buildSystemMessage returns the system message for the analysis call.
func buildSystemMessage() string {
	return `You are an expert in entity-relationship inference over schema-less property graphs. Your task is to review statistically discovered relation candidates and decide which are real, nameable relationships.`
}

func renderProps(props map[string]string) string {
	if len(props) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, props[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortedPatternKeys(h *models.FkeyHeuristic) []string {
	keys := h.MappedPropertyPairs()
	sort.Strings(keys)
	return keys
}

func sortedMatchTypes(counts map[models.MatchType]int64) []models.MatchType {
	types := make([]models.MatchType, 0, len(counts))
	for mt := range counts {
		types = append(types, mt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
