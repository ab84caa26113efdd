package models

import (
	"strconv"
	"strings"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
)

// ScalarKind identifies the concrete type held by a Scalar.
type ScalarKind int

const (
	KindString ScalarKind = iota
	KindNumber
	KindBool
)

// Scalar is a single tagged property value.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  float64
	Bool bool
}

// String returns the canonical text form used for indexing and matching.
func (s Scalar) String() string {
	switch s.Kind {
	case KindNumber:
		return trimFloat(s.Num)
	case KindBool:
		if s.Bool {
			return "true"
		}
		return "false"
	default:
		return s.Str
	}
}

func trimFloat(f float64) string {
	// Integers render without a trailing ".0" so numeric keys match their
	// string-typed counterparts on the other side of a relation.
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// StringValue builds a scalar string Value.
func StringValue(s string) Value { return Value{Scalar: Scalar{Kind: KindString, Str: s}} }

// NumberValue builds a scalar numeric Value.
func NumberValue(f float64) Value { return Value{Scalar: Scalar{Kind: KindNumber, Num: f}} }

// BoolValue builds a scalar boolean Value.
func BoolValue(b bool) Value { return Value{Scalar: Scalar{Kind: KindBool, Bool: b}} }

// ListValue builds a list-of-scalars Value.
func ListValue(items ...Scalar) Value { return Value{IsList: true, List: items} }

// Value is a tagged union: either a single scalar or a list of scalars.
// Dynamic property bags carry these instead of raw interface{} values so
// matching code never has to sniff types.
type Value struct {
	IsList bool
	Scalar Scalar
	List   []Scalar
}

// Strings returns the value's members in canonical text form.
// Scalars yield a single element.
func (v Value) Strings() []string {
	if !v.IsList {
		return []string{v.Scalar.String()}
	}
	out := make([]string, 0, len(v.List))
	for _, s := range v.List {
		out = append(out, s.String())
	}
	return out
}

// Text returns the canonical text form of a scalar value, or the
// comma-joined members for a list.
func (v Value) Text() string {
	if !v.IsList {
		return v.Scalar.String()
	}
	return strings.Join(v.Strings(), ",")
}

// IsEmpty reports whether the value carries no usable content.
func (v Value) IsEmpty() bool {
	if v.IsList {
		return len(v.List) == 0
	}
	return v.Scalar.String() == ""
}

// LabelSubEntity marks entities that exist only as structural children of a
// parent entity (e.g. a container's sub-resources).
const LabelSubEntity = "SubEntity"

// Internal property names carried on sub-entities. They live in the Internal
// bag, never in Properties, so they are excluded from indexing and matching.
const (
	InternalParentType = "parent_type"
	InternalParentKey  = "parent_key"
)

// PrimaryKeyField is the pseudo-property name used on the reference side of a
// mapping when the mapped field is the target's derived primary key rather
// than a named property.
const PrimaryKeyField = "primary_key"

// Entity is a loosely typed record in the data graph. Properties and key
// metadata are produced by ingestion; this core reads them and derives the
// primary key on demand.
type Entity struct {
	Type string

	// Properties holds externally visible property values, indexed and matched.
	Properties map[string]Value

	// Internal holds bookkeeping values (parent references, ingestion marks).
	// Never indexed, never matched.
	Internal map[string]Value

	// PrimaryKeyProperties is the ordered list of property names whose
	// concatenated values form the primary key.
	PrimaryKeyProperties []string

	// AdditionalKeyProperties lists alternate identity-key property sets.
	AdditionalKeyProperties [][]string

	// Labels holds extra type tags such as LabelSubEntity.
	Labels []string
}

// PrimaryKey derives the entity's primary key from its key properties.
// The key is a pure function of type + key property values and is never
// stored redundantly.
func (e *Entity) PrimaryKey() (string, error) {
	if len(e.PrimaryKeyProperties) == 0 {
		return "", apperrors.ErrMissingPrimaryKey
	}
	parts := make([]string, 0, len(e.PrimaryKeyProperties))
	for _, prop := range e.PrimaryKeyProperties {
		v, ok := e.Properties[prop]
		if !ok || v.IsEmpty() {
			return "", apperrors.ErrMissingPrimaryKey
		}
		parts = append(parts, v.Text())
	}
	return strings.Join(parts, ":"), nil
}

// IdentityKeys returns every identity-key property set, primary key first.
func (e *Entity) IdentityKeys() [][]string {
	keys := make([][]string, 0, 1+len(e.AdditionalKeyProperties))
	if len(e.PrimaryKeyProperties) > 0 {
		keys = append(keys, e.PrimaryKeyProperties)
	}
	keys = append(keys, e.AdditionalKeyProperties...)
	return keys
}

// HasLabel reports whether the entity carries the given label.
func (e *Entity) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsSubEntity reports whether this entity is a structural child with an
// explicit parent reference.
func (e *Entity) IsSubEntity() bool {
	return e.HasLabel(LabelSubEntity)
}

// ParentRef returns the parent type and key of a sub-entity, or ok=false.
func (e *Entity) ParentRef() (parentType, parentKey string, ok bool) {
	pt, hasType := e.Internal[InternalParentType]
	pk, hasKey := e.Internal[InternalParentKey]
	if !hasType || !hasKey || pt.IsEmpty() || pk.IsEmpty() {
		return "", "", false
	}
	return pt.Text(), pk.Text(), true
}
