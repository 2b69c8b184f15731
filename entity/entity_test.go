package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityIndexValue(t *testing.T) {
	e := New(Local("1"), Subtype("article"))
	e.Fields["title"] = "hello"

	v, ok := e.IndexValue(IndexName("title"))
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = e.IndexValue(IndexName("missing"))
	assert.False(t, ok)
}

func TestRelationshipsByIndex(t *testing.T) {
	author := Relationship{Name: "author", Index: IndexName("user"), Identifiers: []Identifier{Local("u1")}}
	editor := Relationship{Name: "editor", Index: IndexName("user"), Identifiers: []Identifier{Local("u2")}}
	tag := Relationship{Name: "tags", Index: IndexName("tag"), Identifiers: []Identifier{Local("t1")}}

	e1 := New(Local("a1"), Subtype("article"))
	e1.Relationships = []Relationship{author, tag}
	e2 := New(Local("a2"), Subtype("article"))
	e2.Relationships = []Relationship{editor}

	grouped := RelationshipsByIndex([]Entity{e1, e2})
	assert.Len(t, grouped[IndexName("user")], 2)
	assert.Len(t, grouped[IndexName("tag")], 1)
}

func TestRelationshipByName(t *testing.T) {
	e := New(Local("1"), Subtype("article"))
	e.Relationships = []Relationship{{Name: "author", Index: "user", Identifiers: []Identifier{Local("u1")}}}

	rel, ok := e.RelationshipByName("author")
	assert.True(t, ok)
	assert.Equal(t, RelationshipIdentifier("author"), rel.Name)

	_, ok = e.RelationshipByName("missing")
	assert.False(t, ok)
}
