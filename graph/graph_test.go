package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/entitysync/config"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/manager"
)

func withRelationship(e entity.Entity, name entity.RelationshipIdentifier, index entity.IndexName, ids ...entity.Identifier) entity.Entity {
	e.Relationships = append(e.Relationships, entity.Relationship{Name: name, Index: index, Identifiers: ids})
	return e
}

func TestGroupRelationshipsByIndexDedupesAcrossEntities(t *testing.T) {
	shared := entity.Local("u1")
	e1 := withRelationship(entity.New(entity.Local("p1"), "post"), "author", "user", shared)
	e2 := withRelationship(entity.New(entity.Local("p2"), "post"), "editor", "user", shared, entity.Local("u2"))

	groups := groupRelationshipsByIndex([]entity.Entity{e1, e2})
	require.Contains(t, groups, entity.IndexName("user"))
	assert.Len(t, groups["user"], 2, "shared identifier must be deduplicated")
}

func TestResolveChildExplicitExcludeOverridesDefault(t *testing.T) {
	s := NewSpec().IncludeAll(RecurseFull()).Exclude("author")
	_, _, included := s.resolveChild("author", Recursive{}, 0)
	assert.False(t, included)
}

func TestResolveChildInheritsFullFromParent(t *testing.T) {
	s := NewSpec()
	recurse, remaining, included := s.resolveChild("comments.author", RecurseFull(), -1)
	assert.True(t, included)
	assert.Equal(t, recurseFull, recurse.kind)
	assert.Equal(t, -1, remaining)
}

func TestResolveChildDepthLimitExhausts(t *testing.T) {
	s := NewSpec()
	_, _, included := s.resolveChild("comments.author", RecurseDepthLimit(2), 0)
	assert.False(t, included, "zero remaining budget must stop recursion")
}

func TestResolveChildFallsBackToIncludeAllAtRootLevel(t *testing.T) {
	s := NewSpec().IncludeAll(RecurseDepthLimit(3))
	recurse, remaining, included := s.resolveChild("author", Recursive{}, 0)
	require.True(t, included)
	assert.Equal(t, recurseDepthLimit, recurse.kind)
	assert.Equal(t, 2, remaining)
}

func fakeFetcher(results map[string]entity.Entity) Fetcher {
	return func(_ context.Context, ids []entity.Identifier, _ manager.ReadContext) ([]entity.Entity, error) {
		out := make([]entity.Entity, 0, len(ids))
		for _, id := range ids {
			if e, ok := results[id.String()]; ok {
				out = append(out, e)
			}
		}
		return out, nil
	}
}

func TestBuildFetchesOneLevelAndStopsUnderNoneRecursion(t *testing.T) {
	userID := entity.Local("u1")
	user := entity.New(userID, "user")
	user = withRelationship(user, "profile", "profile", entity.Local("pr1"))

	root := withRelationship(entity.New(entity.Local("p1"), "post"), "author", "user", userID)

	c := New(config.Global{GraphMaxDepth: 10})
	spec := NewSpec().Include("user", RecurseNone())
	fetchers := map[entity.IndexName]Fetcher{
		"user":    fakeFetcher(map[string]entity.Entity{userID.String(): user}),
		"profile": fakeFetcher(map[string]entity.Entity{}),
	}

	g, err := c.Build(context.Background(), []entity.Entity{root}, spec, fetchers, manager.Local())
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len(), "root + fetched user, but not the user's own relationship")
}

func TestBuildRecursesUnderFullMode(t *testing.T) {
	userID := entity.Local("u1")
	profileID := entity.Local("pr1")
	user := withRelationship(entity.New(userID, "user"), "profile", "profile", profileID)
	profile := entity.New(profileID, "profile")

	root := withRelationship(entity.New(entity.Local("p1"), "post"), "author", "user", userID)

	c := New(config.Global{GraphMaxDepth: 10})
	spec := NewSpec().IncludeAll(RecurseFull())
	fetchers := map[entity.IndexName]Fetcher{
		"user":    fakeFetcher(map[string]entity.Entity{userID.String(): user}),
		"profile": fakeFetcher(map[string]entity.Entity{profileID.String(): profile}),
	}

	g, err := c.Build(context.Background(), []entity.Entity{root}, spec, fetchers, manager.Local())
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len(), "root, user, and user's profile should all be present")
}

func TestBuildStopsAtGlobalMaxDepth(t *testing.T) {
	userID := entity.Local("u1")
	profileID := entity.Local("pr1")
	user := withRelationship(entity.New(userID, "user"), "profile", "profile", profileID)
	profile := entity.New(profileID, "profile")

	root := withRelationship(entity.New(entity.Local("p1"), "post"), "author", "user", userID)

	c := New(config.Global{GraphMaxDepth: 1})
	spec := NewSpec().IncludeAll(RecurseFull())
	fetchers := map[entity.IndexName]Fetcher{
		"user":    fakeFetcher(map[string]entity.Entity{userID.String(): user}),
		"profile": fakeFetcher(map[string]entity.Entity{profileID.String(): profile}),
	}

	g, err := c.Build(context.Background(), []entity.Entity{root}, spec, fetchers, manager.Local())
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len(), "global depth ceiling of 1 must stop before the profile level")
}

func TestBuildSkipsIdentifiersAlreadyInGraph(t *testing.T) {
	rootID := entity.Local("p1")
	otherID := entity.Local("p2")
	// root references itself and a sibling already seeded alongside it;
	// both are already in the graph before any fetch runs.
	root := withRelationship(entity.New(rootID, "post"), "related", "post", rootID, otherID)
	other := entity.New(otherID, "post")

	calls := 0
	fetcher := func(_ context.Context, ids []entity.Identifier, _ manager.ReadContext) ([]entity.Entity, error) {
		calls++
		return nil, nil
	}

	c := New(config.Global{GraphMaxDepth: 10})
	spec := NewSpec().Include("post", RecurseNone())
	fetchers := map[entity.IndexName]Fetcher{"post": fetcher}

	g, err := c.Build(context.Background(), []entity.Entity{root, other}, spec, fetchers, manager.Local())
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 0, calls, "both referenced identifiers are already seeded, so no fetch should run")
}

func TestBuildRecordsRootsAndMetadataOnce(t *testing.T) {
	userID := entity.Local("u1")
	user := entity.New(userID, "user")
	root := withRelationship(entity.New(entity.Local("p1"), "post"), "author", "user", userID)

	c := New(config.Global{GraphMaxDepth: 10})
	spec := NewSpec().Include("user", RecurseNone())
	fetchers := map[entity.IndexName]Fetcher{
		"user": fakeFetcher(map[string]entity.Entity{userID.String(): user}),
	}

	cursor := "bookmark-123"
	g, err := c.Build(context.Background(), []entity.Entity{root}, spec, fetchers, manager.Local(), cursor)
	require.NoError(t, err)

	roots := g.Roots()
	require.Len(t, roots, 1)
	assert.True(t, roots[0].ID.Equal(root.ID))
	assert.Equal(t, cursor, g.Metadata())
	assert.Equal(t, 2, g.Len(), "root and fetched user are both in the node map, but only root is a root")
}
