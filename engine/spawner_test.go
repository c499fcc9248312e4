package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/errors"
)

func TestSpawnerQueuesRequests(t *testing.T) {
	s := newSpawner(0, 0, nil)

	require.NoError(t, s.Spawn("voices/voice", "v1"))
	require.NoError(t, s.Spawn("voice", "v1"))
	ops := s.drain()
	require.Len(t, ops, 2)
	assert.Equal(t, spawnOp{template: "voices/voice", name: "v1"}, ops[0])
	assert.Empty(t, s.drain())
	assert.False(t, s.Spawned("voice", "v1"), "queued, not yet applied")

	err := s.Despawn("voice", "v1")
	require.Error(t, err, "nothing has been spawned yet")
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, s.drain())
}

func TestSpawnerOwnership(t *testing.T) {
	s := newSpawner(0, 0, nil)
	d := &description.Graph{Subgraphs: []description.Subgraph{
		{Name: "voice"}, {Name: "v1"},
		{Name: "voices", Graph: description.Graph{Subgraphs: []description.Subgraph{{Name: "voice"}, {Name: "v1"}}}},
	}}

	s.settle(Transaction{spawnOp{template: "voices/voice", name: "v1"}}, d)
	assert.True(t, s.Spawned("voices/voice", "v1"))
	assert.False(t, s.Spawned("voice", "v1"), "same name under another parent is not owned")
	assert.Error(t, s.Despawn("voice", "v1"))

	require.NoError(t, s.Despawn("voices/voice", "v1"))
	assert.Equal(t, []Op{newDespawnOp("voices/v1")}, s.drain())
	s.settle(Transaction{newDespawnOp("voices/v1")}, d)
	assert.False(t, s.Spawned("voices/voice", "v1"))

	s.settle(Transaction{spawnOp{template: "voice", name: "v1"}}, d)
	s.settle(Transaction{RemoveSubgraph{Name: "v1"}, AddSubgraph{Subgraph: description.Subgraph{Name: "v1"}}}, d)
	assert.False(t, s.Spawned("voice", "v1"), "a user edit takes the name over")

	s.settle(Transaction{spawnOp{template: "voice", name: "v2"}}, d)
	assert.False(t, s.Spawned("voice", "v2"), "paths missing from the description are dropped")

	s.settle(Transaction{spawnOp{template: "voice", name: "v1"}}, d)
	s.reset()
	assert.False(t, s.Spawned("voice", "v1"))
}

func TestSpawnerRejectsBadNames(t *testing.T) {
	s := newSpawner(0, 0, nil)
	err := s.Spawn("voice", "v.1")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, s.drain())
}

func TestSpawnerRateLimit(t *testing.T) {
	s := newSpawner(0.001, 2, nil)

	require.NoError(t, s.Spawn("voice", "v1"))
	require.NoError(t, s.Spawn("voice", "v2"))
	err := s.Spawn("voice", "v3")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRateLimited)
	assert.True(t, errors.IsTransient(err))
	assert.Len(t, s.drain(), 2)
}
