package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEdges(t *testing.T) {
	t.Run("typed and untyped references", func(t *testing.T) {
		engine := newTestEngine(t)
		target := NewNode(CollectionFeature, "Target")
		require.NoError(t, engine.CreateNode(target))

		source := NewNode(CollectionSession, "Source")
		source.Content = fmt.Sprintf("Depends on [[blocks:%s]] and also see [[%s]].", target.ID, target.ID)
		require.NoError(t, engine.CreateNode(source))

		edges := engine.ExtractEdges(source)
		require.Len(t, edges, 2)

		assert.Equal(t, source.ID, edges[0].From)
		assert.Equal(t, target.ID, edges[0].To)
		assert.Equal(t, "blocks", edges[0].Type)
		assert.False(t, edges[0].Dangling)

		assert.Equal(t, DefaultEdgeType, edges[1].Type)
		assert.False(t, edges[1].Dangling)
	})

	t.Run("dangling reference is data, not an error", func(t *testing.T) {
		engine := newTestEngine(t)

		source := NewNode(CollectionFeature, "Orphan pointer")
		source.Content = "Blocked by [[blocked-by:feat-aaaaaaaaaaaa]]"
		require.NoError(t, engine.CreateNode(source))

		edges := engine.ExtractEdges(source)
		require.Len(t, edges, 1)
		assert.True(t, edges[0].Dangling)
		assert.Equal(t, NodeID("feat-aaaaaaaaaaaa"), edges[0].To)
		assert.Equal(t, "blocked-by", edges[0].Type)
	})

	t.Run("repeated mentions collapse", func(t *testing.T) {
		engine := newTestEngine(t)
		source := NewNode(CollectionTrack, "Repeats")
		source.Content = "[[feat-bbbbbbbbbbbb]] again [[feat-bbbbbbbbbbbb]]"
		require.NoError(t, engine.CreateNode(source))

		assert.Len(t, engine.ExtractEdges(source), 1)
	})

	t.Run("no references", func(t *testing.T) {
		engine := newTestEngine(t)
		source := NewNode(CollectionTrack, "Plain")
		source.Content = "Nothing linked here, just [brackets] and [[not-an-id]]."
		require.NoError(t, engine.CreateNode(source))

		assert.Empty(t, engine.ExtractEdges(source))
	})

	t.Run("edges recomputed on reload", func(t *testing.T) {
		engine := newTestEngine(t)

		source := NewNode(CollectionFeature, "Late binding")
		source.Content = "Needs [[blocks:sess-cccccccccccc]]"
		require.NoError(t, engine.CreateNode(source))

		edges := engine.ExtractEdges(source)
		require.Len(t, edges, 1)
		assert.True(t, edges[0].Dangling)

		// Once the target exists, the same content resolves.
		target := &Node{
			ID:         "sess-cccccccccccc",
			Collection: CollectionSession,
			Title:      "Now exists",
		}
		require.NoError(t, engine.CreateNode(target))

		edges = engine.ExtractEdges(source)
		require.Len(t, edges, 1)
		assert.False(t, edges[0].Dangling)
	})
}

func TestUnresolvedEdges(t *testing.T) {
	engine := newTestEngine(t)

	a := NewNode(CollectionFeature, "A")
	a.Content = "[[blocks:feat-000000000001]]"
	require.NoError(t, engine.CreateNode(a))

	b := NewNode(CollectionFeature, "B")
	require.NoError(t, engine.CreateNode(b))

	c := NewNode(CollectionFeature, "C")
	c.Content = fmt.Sprintf("[[%s]]", b.ID)
	require.NoError(t, engine.CreateNode(c))

	unresolved := engine.UnresolvedEdges()
	require.Len(t, unresolved, 1)
	assert.Equal(t, a.ID, unresolved[0].From)
	assert.Equal(t, NodeID("feat-000000000001"), unresolved[0].To)
}
