// Package query is C8: the Filter/Order AST and the result
// materialization pipeline (uniquing, ordering, pagination, grouping)
// that store engines and the manager apply to raw entity slices.
// Grounded on the sum-type-via-constructor-functions idiom already used
// by requestconfig.QueryValue, generalized to a small filter tree.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/evalgo/entitysync/entity"
)

type op int

const (
	opEq op = iota
	opMatch
	opContainedIn
	opGt
	opGe
	opLt
	opLe
	opAnd
	opOr
	opNot
)

// Filter is §4.8's filter AST node. Build one with the package-level
// constructors; Evaluate is total (a missing index value makes any
// comparison false).
type Filter struct {
	kind     op
	property entity.IndexName
	value    string
	values   []string
	children []Filter
}

func Eq(property entity.IndexName, value string) Filter {
	return Filter{kind: opEq, property: property, value: value}
}

func Match(property entity.IndexName, pattern string) Filter {
	return Filter{kind: opMatch, property: property, value: pattern}
}

func ContainedIn(property entity.IndexName, values []string) Filter {
	return Filter{kind: opContainedIn, property: property, values: values}
}

func Gt(property entity.IndexName, value string) Filter {
	return Filter{kind: opGt, property: property, value: value}
}

func Ge(property entity.IndexName, value string) Filter {
	return Filter{kind: opGe, property: property, value: value}
}

func Lt(property entity.IndexName, value string) Filter {
	return Filter{kind: opLt, property: property, value: value}
}

func Le(property entity.IndexName, value string) Filter {
	return Filter{kind: opLe, property: property, value: value}
}

// And short-circuits: the first false child stops evaluation.
func And(filters ...Filter) Filter { return Filter{kind: opAnd, children: filters} }

// Or short-circuits: the first true child stops evaluation.
func Or(filters ...Filter) Filter { return Filter{kind: opOr, children: filters} }

func Not(f Filter) Filter { return Filter{kind: opNot, children: []Filter{f}} }

// Evaluate reports whether e satisfies the filter.
func (f Filter) Evaluate(e entity.Entity) bool {
	switch f.kind {
	case opAnd:
		for _, c := range f.children {
			if !c.Evaluate(e) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range f.children {
			if c.Evaluate(e) {
				return true
			}
		}
		return false
	case opNot:
		return !f.children[0].Evaluate(e)
	}

	raw, ok := e.IndexValue(f.property)
	if !ok {
		return false
	}
	str := fmt.Sprint(raw)

	switch f.kind {
	case opEq:
		return str == f.value
	case opMatch:
		re, err := regexp.Compile(f.value)
		if err != nil {
			return false
		}
		return re.MatchString(str)
	case opContainedIn:
		for _, v := range f.values {
			if v == str {
				return true
			}
		}
		return false
	case opGt, opGe, opLt, opLe:
		return compare(str, f.value, f.kind)
	default:
		return false
	}
}

// compare orders two string-form index values numerically when both
// parse as floats, falling back to lexicographic comparison otherwise.
func compare(a, b string, kind op) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	var less, equal bool
	if aerr == nil && berr == nil {
		less, equal = af < bf, af == bf
	} else {
		less, equal = a < b, a == b
	}
	switch kind {
	case opGt:
		return !less && !equal
	case opGe:
		return !less
	case opLt:
		return less
	case opLe:
		return less || equal
	default:
		return false
	}
}

// OrderKind is the §4.8 order discriminant.
type OrderKind int

const (
	// Natural applies no reordering; valid only on remote-origin results.
	Natural OrderKind = iota
	Asc
	Desc
	// Identifiers preserves the given identifier order, with unmatched
	// entities appended at the end in their incoming (natural) order.
	Identifiers
)

// Order is §4.8's ordering strategy.
type Order struct {
	kind        OrderKind
	property    entity.IndexName
	identifiers []entity.Identifier
}

func Ascending(property entity.IndexName) Order  { return Order{kind: Asc, property: property} }
func Descending(property entity.IndexName) Order { return Order{kind: Desc, property: property} }
func NaturalOrder() Order                        { return Order{kind: Natural} }
func ByIdentifiers(ids []entity.Identifier) Order {
	return Order{kind: Identifiers, identifiers: ids}
}

// Deterministic reports whether this order is stable enough to drive a
// continuous-update reorder (§4.9 raise-events step 1/2).
func (o Order) Deterministic() bool { return o.kind != Natural }

// Query is §4.8's query record: the filter, order, pagination and
// optional grouping applied to a result set. ID, when set, is a
// direct identifier lookup (the store engine's get(query) case);
// Filter/Order/pagination/grouping apply to the search(query) case.
type Query struct {
	EntityType entity.Subtype
	ID         *entity.Identifier
	Filter     *Filter
	Order      Order
	Offset     int
	Limit      int // 0 means unbounded
	GroupBy    *entity.IndexName
}

// ByID builds a direct-lookup query for the store engine's get(query).
func ByID(id entity.Identifier) Query { return Query{ID: &id} }

// MatchesAll reports whether q has no filter — the "match all" query
// referenced by §4.9's raise-events rule 1.
func (q Query) MatchesAll() bool { return q.Filter == nil }

// Result is §3's Query Result: the materialized entity slice, optionally
// grouped by an index value, and optionally carrying opaque endpoint
// metadata (e.g. server-side pagination cursors or timing) that a store
// engine attached to its response. Metadata is never interpreted by
// this package; it is only carried through for the caller to read.
type Result struct {
	Entities []entity.Entity
	Grouped  map[string][]entity.Entity
	Metadata interface{}
}

// Materialize implements §4.8's result construction pipeline: filter,
// then (in the spec's stated order) uniquing by identifier, ordering,
// pagination, and optional grouping. metadata is carried through
// unchanged onto the returned Result.
func Materialize(entities []entity.Entity, q Query, metadata ...interface{}) Result {
	working := entities
	if q.Filter != nil {
		working = filterEntities(working, *q.Filter)
	}
	working = uniqueByIdentifier(working)
	working = applyOrder(working, q.Order)
	working = paginate(working, q.Offset, q.Limit)

	result := Result{Entities: working}
	if q.GroupBy != nil {
		result.Grouped = groupBy(working, *q.GroupBy)
	}
	if len(metadata) > 0 {
		result.Metadata = metadata[0]
	}
	return result
}

func filterEntities(entities []entity.Entity, f Filter) []entity.Entity {
	out := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		if f.Evaluate(e) {
			out = append(out, e)
		}
	}
	return out
}

// uniqueByIdentifier is stable and first-wins, independent of any
// distinct filter, and runs before ordering (§4.8).
func uniqueByIdentifier(entities []entity.Entity) []entity.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		key := e.ID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

func applyOrder(entities []entity.Entity, order Order) []entity.Entity {
	switch order.kind {
	case Natural:
		return entities
	case Asc, Desc:
		out := append([]entity.Entity(nil), entities...)
		sort.SliceStable(out, func(i, j int) bool {
			vi, oki := out[i].IndexValue(order.property)
			vj, okj := out[j].IndexValue(order.property)
			si, sj := "", ""
			if oki {
				si = fmt.Sprint(vi)
			}
			if okj {
				sj = fmt.Sprint(vj)
			}
			if order.kind == Desc {
				return si > sj
			}
			return si < sj
		})
		return out
	case Identifiers:
		return orderByIdentifiers(entities, order.identifiers)
	default:
		return entities
	}
}

func orderByIdentifiers(entities []entity.Entity, ids []entity.Identifier) []entity.Entity {
	byKey := make(map[string]entity.Entity, len(entities))
	present := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		byKey[e.ID.String()] = e
		present[e.ID.String()] = struct{}{}
	}

	out := make([]entity.Entity, 0, len(entities))
	used := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := id.String()
		if e, ok := byKey[key]; ok {
			out = append(out, e)
			used[key] = struct{}{}
		}
	}
	for _, e := range entities {
		key := e.ID.String()
		if _, ok := used[key]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func paginate(entities []entity.Entity, offset, limit int) []entity.Entity {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entities) {
		return nil
	}
	entities = entities[offset:]
	if limit > 0 && limit < len(entities) {
		entities = entities[:limit]
	}
	return entities
}

func groupBy(entities []entity.Entity, property entity.IndexName) map[string][]entity.Entity {
	out := make(map[string][]entity.Entity)
	for _, e := range entities {
		key := ""
		if v, ok := e.IndexValue(property); ok {
			key = fmt.Sprint(v)
		}
		out[key] = append(out[key], e)
	}
	return out
}
