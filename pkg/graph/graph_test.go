package graph

import (
	"context"
	"testing"

	"github.com/soulcraft-research/brainy/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddVerbCreatesPlaceholderNouns(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)

	_, err := g.AddVerb(ctx, "v1", "n1", "n2", "related_to", nil, nil)
	require.NoError(t, err)

	_, found, err := eng.Get(ctx, "nouns/n1")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = eng.Get(ctx, "nouns/n2")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetVerbRoundTrips(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)

	_, err := g.AddVerb(ctx, "v1", "n1", "n2", "related_to", nil, map[string]any{"weight": 1.0})
	require.NoError(t, err)

	v, err := g.GetVerb(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, store.NounID("n1"), v.Source)
	assert.Equal(t, store.NounID("n2"), v.Target)
	assert.Equal(t, "related_to", v.VerbType)
}

func TestAdjacencyOutgoingIncomingBoth(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)

	_, err := g.AddVerb(ctx, "v1", "n1", "n2", "likes", nil, nil)
	require.NoError(t, err)
	_, err = g.AddVerb(ctx, "v2", "n3", "n1", "likes", nil, nil)
	require.NoError(t, err)

	out, err := g.Adjacency(ctx, "n1", Outgoing, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, store.VerbID("v1"), out[0].ID)

	in, err := g.Adjacency(ctx, "n1", Incoming, "")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, store.VerbID("v2"), in[0].ID)

	both, err := g.Adjacency(ctx, "n1", Both, "")
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestAdjacencyFiltersByVerbType(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)

	_, err := g.AddVerb(ctx, "v1", "n1", "n2", "likes", nil, nil)
	require.NoError(t, err)
	_, err = g.AddVerb(ctx, "v2", "n1", "n3", "dislikes", nil, nil)
	require.NoError(t, err)

	likes, err := g.Adjacency(ctx, "n1", Outgoing, "likes")
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, store.VerbID("v1"), likes[0].ID)
}

func TestDeleteVerbRemovesFromAdjacency(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)

	_, err := g.AddVerb(ctx, "v1", "n1", "n2", "likes", nil, nil)
	require.NoError(t, err)

	require.NoError(t, g.DeleteVerb(ctx, "v1"))

	out, err := g.Adjacency(ctx, "n1", Outgoing, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = g.GetVerb(ctx, "v1")
	assert.Error(t, err)
}

func TestDeleteVerbMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	g := New(eng)
	assert.NoError(t, g.DeleteVerb(ctx, "missing"))
}
