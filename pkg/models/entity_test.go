package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
)

func TestPrimaryKeyJoinsKeyProperties(t *testing.T) {
	e := &Entity{
		Type: "Pod",
		Properties: map[string]Value{
			"namespace": StringValue("prod"),
			"name":      StringValue("api-1"),
		},
		PrimaryKeyProperties: []string{"namespace", "name"},
	}

	pk, err := e.PrimaryKey()
	require.NoError(t, err)
	assert.Equal(t, "prod:api-1", pk)
}

func TestPrimaryKeyErrors(t *testing.T) {
	tests := []struct {
		name   string
		entity *Entity
	}{
		{
			name:   "no key properties declared",
			entity: &Entity{Type: "Thing", Properties: map[string]Value{"id": StringValue("x")}},
		},
		{
			name: "key property missing",
			entity: &Entity{
				Type:                 "Thing",
				Properties:           map[string]Value{"name": StringValue("x")},
				PrimaryKeyProperties: []string{"id"},
			},
		},
		{
			name: "key property empty",
			entity: &Entity{
				Type:                 "Thing",
				Properties:           map[string]Value{"id": StringValue("")},
				PrimaryKeyProperties: []string{"id"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.entity.PrimaryKey()
			assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
		})
	}
}

func TestValueCanonicalText(t *testing.T) {
	assert.Equal(t, "alice", StringValue("alice").Text())
	assert.Equal(t, "42", NumberValue(42).Text(), "integral floats render without a fraction")
	assert.Equal(t, "4.5", NumberValue(4.5).Text())
	assert.Equal(t, "true", BoolValue(true).Text())
	assert.Equal(t, "a,b", ListValue(Scalar{Kind: KindString, Str: "a"}, Scalar{Kind: KindString, Str: "b"}).Text())
}

func TestValueIsEmpty(t *testing.T) {
	assert.True(t, StringValue("").IsEmpty())
	assert.True(t, ListValue().IsEmpty())
	assert.False(t, NumberValue(0).IsEmpty(), "zero renders as \"0\", which is usable content")
	assert.False(t, StringValue("x").IsEmpty())
}

func TestIdentityKeysPrimaryFirst(t *testing.T) {
	e := &Entity{
		PrimaryKeyProperties:    []string{"id"},
		AdditionalKeyProperties: [][]string{{"namespace", "name"}},
	}
	keys := e.IdentityKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, []string{"id"}, keys[0])
	assert.Equal(t, []string{"namespace", "name"}, keys[1])
}

func TestParentRef(t *testing.T) {
	e := &Entity{
		Type:   "NodePool",
		Labels: []string{LabelSubEntity},
		Internal: map[string]Value{
			InternalParentType: StringValue("Cluster"),
			InternalParentKey:  StringValue("c1"),
		},
	}
	parentType, parentKey, ok := e.ParentRef()
	require.True(t, ok)
	assert.Equal(t, "Cluster", parentType)
	assert.Equal(t, "c1", parentKey)
	assert.True(t, e.IsSubEntity())

	_, _, ok = (&Entity{}).ParentRef()
	assert.False(t, ok)
}
