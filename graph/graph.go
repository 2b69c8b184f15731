// Package graph is C10: the relationship controller that fills a graph
// of entities from a root set by recursively resolving typed
// relationship paths, fanning concurrent fetches out per index level
// (§4.10) the same way the teacher's own graph package reasoned about
// a dependency DAG — but built from entity relationships and bounded by
// a depth ceiling instead of a workflow action graph checked for
// cycles.
package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evalgo/entitysync/config"
	"github.com/evalgo/entitysync/corelog"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/manager"
)

// anomalyThreshold is §4.10's abnormal-fetch log threshold.
const anomalyThreshold = 500 * time.Millisecond

// Graph is §3's mutable container: a root set, an identifier->entity
// map, and the endpoint metadata recorded once when the root set was
// seeded (§4.10 step 1). A mutex is enough to guard it since insertion
// is a single map write with no follow-on dependent state, unlike the
// actor-owned components elsewhere in this module.
type Graph struct {
	mu       sync.Mutex
	nodes    map[string]entity.Entity
	roots    map[string]struct{}
	metadata interface{}
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[string]entity.Entity), roots: make(map[string]struct{})}
}

// seedRoots records the root set and its endpoint metadata exactly
// once, at the start of Build.
func (g *Graph) seedRoots(entities []entity.Entity, metadata interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metadata = metadata
	for _, e := range entities {
		key := e.ID.String()
		g.nodes[key] = e
		g.roots[key] = struct{}{}
	}
}

func (g *Graph) insert(entities []entity.Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entities {
		g.nodes[e.ID.String()] = e
	}
}

// Roots returns the entities the graph was seeded with.
func (g *Graph) Roots() []entity.Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]entity.Entity, 0, len(g.roots))
	for key := range g.roots {
		out = append(out, g.nodes[key])
	}
	return out
}

// Metadata returns the endpoint metadata captured when the root set
// was seeded, or nil if the source that produced the roots carried
// none.
func (g *Graph) Metadata() interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metadata
}

func (g *Graph) filterMissing(ids []entity.Identifier) []entity.Identifier {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]entity.Identifier, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.nodes[id.String()]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Entities returns every entity currently in the graph, in no
// particular order.
func (g *Graph) Entities() []entity.Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]entity.Entity, 0, len(g.nodes))
	for _, e := range g.nodes {
		out = append(out, e)
	}
	return out
}

func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Controller builds graphs against a configured global depth ceiling
// and debug-instrumentation toggle (config.Global).
type Controller struct {
	maxDepth int
	debug    bool
	log      *corelog.ContextLogger
}

func New(cfg config.Global) *Controller {
	return &Controller{maxDepth: cfg.GraphMaxDepth, debug: cfg.GraphDebug, log: corelog.Scoped("graph")}
}

// Build implements §4.10 steps 1-6: seed the graph with the root set
// and its endpoint metadata (recorded once), then recursively
// group-fetch-insert relationship identifiers by index, fanning the
// per-index fetches at each level out concurrently. metadata, when
// given, is the opaque endpoint metadata that accompanied the roots
// (e.g. a server-side pagination cursor from the query that produced
// them).
func (c *Controller) Build(ctx context.Context, roots []entity.Entity, spec *Spec, fetchers map[entity.IndexName]Fetcher, rc manager.ReadContext, metadata ...interface{}) (*Graph, error) {
	g := newGraph()
	var md interface{}
	if len(metadata) > 0 {
		md = metadata[0]
	}
	g.seedRoots(roots, md)

	table := &fetcherTable{spec: spec, byIndex: fetchers}
	if err := c.fill(ctx, g, roots, table, "", Recursive{}, 0, 0, rc); err != nil {
		return nil, err
	}
	return g, nil
}

func (c *Controller) fill(ctx context.Context, g *Graph, frontier []entity.Entity, table *fetcherTable, prefix string, inherited Recursive, inheritedRemaining, globalDepth int, rc manager.ReadContext) error {
	if globalDepth >= c.maxDepth || len(frontier) == 0 {
		return nil
	}

	groups := groupRelationshipsByIndex(frontier)
	indices := make([]string, 0, len(groups))
	for idx := range groups {
		indices = append(indices, string(idx))
	}
	sort.Strings(indices) // §4.10 step 3: lexicographic by index name

	eg, egctx := errgroup.WithContext(ctx)
	for _, idxStr := range indices {
		idx := entity.IndexName(idxStr)
		ids := groups[idx]
		path := joinPath(prefix, idxStr)

		recurse, remaining, included := table.spec.resolveChild(path, inherited, inheritedRemaining)
		if !included {
			continue
		}

		eg.Go(func() error {
			return c.fillOne(egctx, g, idx, ids, table, path, recurse, remaining, globalDepth, rc)
		})
	}
	return eg.Wait()
}

func (c *Controller) fillOne(ctx context.Context, g *Graph, idx entity.IndexName, ids []entity.Identifier, table *fetcherTable, path string, recurse Recursive, remaining, globalDepth int, rc manager.ReadContext) error {
	fresh := g.filterMissing(ids)
	if len(fresh) == 0 {
		return nil
	}

	fetcher, ok := table.resolve(path, idx)
	if !ok {
		return nil // no fetcher registered for this index: nothing to do
	}

	start := time.Now()
	fetched, err := fetcher(ctx, fresh, rc)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}
	g.insert(fetched)

	if c.debug && elapsed > anomalyThreshold {
		c.log.WithFields(map[string]interface{}{
			"path":        path,
			"index":       string(idx),
			"identifiers": len(fresh),
			"elapsed_ms":  elapsed.Milliseconds(),
		}).Warn("relationship fetch exceeded anomaly threshold")
	}

	if remaining == 0 && recurse.kind != recurseFull {
		return nil
	}
	return c.fill(ctx, g, fetched, table, path, recurse, remaining, globalDepth+1, rc)
}

// groupRelationshipsByIndex implements §4.10 step 2: every relationship
// identifier across frontier, deduplicated, keyed by its index name.
func groupRelationshipsByIndex(frontier []entity.Entity) map[entity.IndexName][]entity.Identifier {
	seen := make(map[entity.IndexName]map[string]struct{})
	groups := make(map[entity.IndexName][]entity.Identifier)
	for _, e := range frontier {
		for _, rel := range e.Relationships {
			if seen[rel.Index] == nil {
				seen[rel.Index] = make(map[string]struct{})
			}
			for _, id := range rel.Identifiers {
				key := id.String()
				if _, dup := seen[rel.Index][key]; dup {
					continue
				}
				seen[rel.Index][key] = struct{}{}
				groups[rel.Index] = append(groups[rel.Index], id)
			}
		}
	}
	return groups
}
