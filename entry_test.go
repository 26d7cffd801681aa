package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryStoreBindAcrossTrees(t *testing.T) {
	candidate := NewTree()
	n, err := candidate.Set(testNeighbor+"/priority", "5")
	require.NoError(t, err)
	neighbor := &Neighbor{Priority: 5}
	s := NewEntryStore()
	require.NoError(t, s.Bind(n.Parent(), neighbor))
	require.NoError(t, s.Bind(n.Parent(), neighbor))
	assert.Equal(t, 1, s.Len())

	// The running tree holds different nodes for the same data path.
	running := candidate.Copy()
	found, err := GetEntry[*Neighbor](s, running.Get(testNeighbor+"/priority"), true)
	require.NoError(t, err)
	assert.Same(t, neighbor, found)

	err = s.Bind(n.Parent(), &Neighbor{})
	assert.Error(t, err)
}

func TestEntryStoreTypedLookup(t *testing.T) {
	tree := NewTree()
	leaf, err := tree.Set(testNeighbor+"/priority", "5")
	require.NoError(t, err)
	ospf := tree.Get(testOSPF)
	require.NotNil(t, ospf)

	s := NewEntryStore()
	o := &Instance{}
	require.NoError(t, s.Bind(ospf, o))

	found, err := GetEntry[*Instance](s, leaf, true)
	require.NoError(t, err)
	assert.Same(t, o, found)

	missing, err := GetEntry[*Neighbor](s, leaf, false)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = GetEntry[*Neighbor](s, leaf, true)
	assert.True(t, errors.Is(err, ErrEntryMissing))

	v, err := s.Lookup(leaf, true)
	require.NoError(t, err)
	assert.Same(t, o, v)
}

func TestEntryStoreUnbindSubtree(t *testing.T) {
	tree := NewTree()
	leaf, err := tree.Set(testNeighbor+"/priority", "5")
	require.NoError(t, err)
	entry := leaf.Parent()
	ospf := entry.Parent().Parent()

	s := NewEntryStore()
	o := &Instance{}
	require.NoError(t, s.Bind(ospf, o))
	require.NoError(t, s.Bind(entry, &Neighbor{}))
	assert.Equal(t, 2, s.Len())

	assert.Same(t, o, s.UnbindSubtree(ospf))
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Unbind(entry))

	// An entry bound at several nodes lives until the last one is unbound.
	require.NoError(t, s.Bind(ospf, o))
	require.NoError(t, s.Bind(entry, o))
	assert.Same(t, o, s.Unbind(entry))
	found, err := GetEntry[*Instance](s, leaf, true)
	require.NoError(t, err)
	assert.Same(t, o, found)
}
