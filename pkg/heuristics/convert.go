package heuristics

import (
	"github.com/ekaya-inc/ontolink/pkg/graph"
	"github.com/ekaya-inc/ontolink/pkg/models"
)

// FromGraphEntity converts a stored graph entity into the tagged-value model
// the matching pipeline works on. Unrepresentable property values (nested
// maps, nil) are dropped rather than guessed at.
func FromGraphEntity(e *graph.Entity) *models.Entity {
	out := &models.Entity{
		Type:                 e.Type,
		Properties:           make(map[string]models.Value, len(e.Properties)),
		Internal:             make(map[string]models.Value, len(e.Internal)),
		PrimaryKeyProperties: e.PrimaryKeyProperties,
		AdditionalKeyProperties: e.AdditionalKeyProperties,
		Labels:               e.Labels,
	}
	for k, v := range e.Properties {
		if value, ok := toValue(v); ok {
			out.Properties[k] = value
		}
	}
	for k, v := range e.Internal {
		if value, ok := toValue(v); ok {
			out.Internal[k] = value
		}
	}
	return out
}

func toValue(v any) (models.Value, bool) {
	if s, ok := toScalar(v); ok {
		return models.Value{Scalar: s}, true
	}
	if items, ok := v.([]any); ok {
		list := make([]models.Scalar, 0, len(items))
		for _, item := range items {
			s, ok := toScalar(item)
			if !ok {
				return models.Value{}, false
			}
			list = append(list, s)
		}
		return models.Value{IsList: true, List: list}, true
	}
	if items, ok := v.([]string); ok {
		list := make([]models.Scalar, 0, len(items))
		for _, item := range items {
			list = append(list, models.Scalar{Kind: models.KindString, Str: item})
		}
		return models.Value{IsList: true, List: list}, true
	}
	return models.Value{}, false
}

func toScalar(v any) (models.Scalar, bool) {
	switch t := v.(type) {
	case string:
		return models.Scalar{Kind: models.KindString, Str: t}, true
	case float64:
		return models.Scalar{Kind: models.KindNumber, Num: t}, true
	case float32:
		return models.Scalar{Kind: models.KindNumber, Num: float64(t)}, true
	case int:
		return models.Scalar{Kind: models.KindNumber, Num: float64(t)}, true
	case int64:
		return models.Scalar{Kind: models.KindNumber, Num: float64(t)}, true
	case bool:
		return models.Scalar{Kind: models.KindBool, Bool: t}, true
	default:
		return models.Scalar{}, false
	}
}
