// Package entity defines the data model shared by every other package in
// entitysync: the typed Identifier sum, the Entity envelope, and the
// enumerations (IndexName, RelationshipIdentifier, Subtype) an entity
// carries so the manager, query, and graph layers can operate on it
// without knowing its concrete shape.
package entity

import "fmt"

// Identifier is a sum of Local (client-assigned, not yet synchronized)
// and Remote (server-assigned, optionally remembering its prior local
// value). A Local identifier holds only a local value; a Remote one
// holds a remote value and possibly its prior local value. The zero
// value is never valid and none of the constructors produce it.
//
// Ordering across kinds: Remote < Local. Within a kind, by the embedded
// string value. See Less.
type Identifier struct {
	local  string
	remote string
	hasL   bool
	hasR   bool
}

// Local builds a client-assigned identifier.
func Local(value string) Identifier {
	return Identifier{local: value, hasL: true}
}

// Remote builds a server-assigned identifier, optionally remembering the
// local value it was synchronized from (pass "" and hasPriorLocal=false
// for a remote identifier with no prior local history).
func Remote(value string, priorLocal string, hasPriorLocal bool) Identifier {
	id := Identifier{remote: value, hasR: true}
	if hasPriorLocal {
		id.local = priorLocal
		id.hasL = true
	}
	return id
}

// IsLocal reports whether the identifier is the Local variant.
func (i Identifier) IsLocal() bool { return i.hasL && !i.hasR }

// IsRemote reports whether the identifier is the Remote variant (with or
// without a remembered prior local value).
func (i Identifier) IsRemote() bool { return i.hasR }

// LocalValue returns the embedded local string and whether one is present
// (true for Local identifiers, and for Remote identifiers that remember
// a prior local value).
func (i Identifier) LocalValue() (string, bool) { return i.local, i.hasL }

// RemoteValue returns the embedded remote string and whether one is
// present.
func (i Identifier) RemoteValue() (string, bool) { return i.remote, i.hasR }

// Less implements the §3 ordering: Remote sorts before Local across
// kinds; within a kind, identifiers compare by their embedded value.
func (i Identifier) Less(other Identifier) bool {
	if i.hasR != other.hasR {
		return i.hasR // Remote < Local
	}
	if i.hasR {
		return i.remote < other.remote
	}
	return i.local < other.local
}

// Equal reports whether two identifiers denote the same logical entity.
// Per the Entity invariant, equal identifiers imply the same logical
// entity even if field contents differ across snapshots.
func (i Identifier) Equal(other Identifier) bool {
	return i.hasL == other.hasL && i.hasR == other.hasR &&
		i.local == other.local && i.remote == other.remote
}

// Merge combines two identifiers that describe the same entity observed
// from different angles (e.g. a Local seen before sync, now Remote after
// a write-through). Merge is allowed iff the non-nil local and non-nil
// remote parts of both sides agree; the result prefers remote+local.
func (i Identifier) Merge(other Identifier) (Identifier, error) {
	if i.hasL && other.hasL && i.local != other.local {
		return Identifier{}, fmt.Errorf("identifier merge: conflicting local values %q vs %q", i.local, other.local)
	}
	if i.hasR && other.hasR && i.remote != other.remote {
		return Identifier{}, fmt.Errorf("identifier merge: conflicting remote values %q vs %q", i.remote, other.remote)
	}
	merged := Identifier{}
	if i.hasR || other.hasR {
		merged.hasR = true
		if i.hasR {
			merged.remote = i.remote
		} else {
			merged.remote = other.remote
		}
	}
	if i.hasL || other.hasL {
		merged.hasL = true
		if i.hasL {
			merged.local = i.local
		} else {
			merged.local = other.local
		}
	}
	return merged, nil
}

// String renders the identifier for logs and cache keys: "L:<v>" for a
// bare local identifier, "R:<v>" for a bare remote one, "R:<v>/L:<v>"
// when a remote identifier remembers its prior local value.
func (i Identifier) String() string {
	switch {
	case i.hasR && i.hasL:
		return fmt.Sprintf("R:%s/L:%s", i.remote, i.local)
	case i.hasR:
		return fmt.Sprintf("R:%s", i.remote)
	case i.hasL:
		return fmt.Sprintf("L:%s", i.local)
	default:
		return "<invalid-identifier>"
	}
}

// Placeholder renders the §4.1 identifier-placeholder form
// ":identifier_<typeID>:<localValue>" that stands in for a local
// identifier not yet resolved by a merge step. Callers must only use it
// when IsLocal is true; callers holding a Remote identifier should
// render its value directly.
func (i Identifier) Placeholder(typeID string) string {
	return fmt.Sprintf(":identifier_%s:%s", typeID, i.local)
}
