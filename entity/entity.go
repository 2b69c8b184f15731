package entity

// IndexName identifies one of an entity type's declaratively searchable
// fields. Store engines expose indexing matching this enumeration (§6
// "Store engine interface"); the query layer groups and filters by it.
type IndexName string

// Subtype distinguishes the concrete shape an Entity's payload carries.
// Concrete applications register their own subtype values; the zero
// value SubtypeUnknown is never produced by a conforming store engine.
type Subtype string

// SubtypeUnknown is the zero value of Subtype, reserved to catch
// entities constructed without an explicit subtype.
const SubtypeUnknown Subtype = ""

// RelationshipIdentifier names one relationship an entity may carry
// (e.g. "author", "comments"); the relationship controller (C10) groups
// by this and the IndexName it resolves through.
type RelationshipIdentifier string

// Relationship pairs a RelationshipIdentifier with the identifiers of
// the entities it points to and the IndexName the fetcher should group
// by when resolving them.
type Relationship struct {
	Name        RelationshipIdentifier
	Index       IndexName
	Identifiers []Identifier
}

// Entity is the library's generic envelope: a typed Identifier, a
// Subtype tag, and the relationships the graph controller may recurse
// through. Fields is the entity's own data, opaque to the core (the
// core only ever compares/stores/orders by Identifier and IndexName).
//
// Invariant: equal identifiers imply the same logical entity; Fields
// content may differ across snapshots of the same identifier.
type Entity struct {
	ID            Identifier
	Sub           Subtype
	Relationships []Relationship
	Fields        map[string]interface{}
}

// New constructs an Entity with the given identifier and subtype and an
// empty field set.
func New(id Identifier, sub Subtype) Entity {
	return Entity{ID: id, Sub: sub, Fields: make(map[string]interface{})}
}

// IndexValue returns the value of a named index field and whether it is
// present. A comparison against a missing index value is defined by the
// query layer to evaluate to false (§4.8), not to error here.
func (e Entity) IndexValue(name IndexName) (interface{}, bool) {
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[string(name)]
	return v, ok
}

// RelationshipByName returns the named relationship and whether it is
// declared on this entity.
func (e Entity) RelationshipByName(name RelationshipIdentifier) (Relationship, bool) {
	for _, r := range e.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// RelationshipsByIndex groups this entity's relationship identifiers by
// IndexName, the grouping the relationship controller performs over a
// root set before invoking per-index fetchers (§4.10 step 2).
func RelationshipsByIndex(entities []Entity) map[IndexName][]Identifier {
	out := make(map[IndexName][]Identifier)
	for _, e := range entities {
		for _, rel := range e.Relationships {
			out[rel.Index] = append(out[rel.Index], rel.Identifiers...)
		}
	}
	return out
}
