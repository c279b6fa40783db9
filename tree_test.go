package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTree_CreateRootS1(t *testing.T) {
	// S1: mesh 16x16x16, block 8x8x8 -> nrbx = 2 per axis, root_level = 1,
	// nbtotal = 8, no further refinement.
	tree := NewBlockTree(3, 1, 2, 2, 2)
	require.NoError(t, tree.CreateRoot())
	assert.Equal(t, 8, tree.CountLeaves())
}

func TestBlockTree_AddLeafCreatesSiblingGroup(t *testing.T) {
	// root_level=1 exactly covers nrbx=2 per axis (the general construction
	// rule: 2^root_level >= max(nrbx1,nrbx2,nrbx3)).
	tree := NewBlockTree(2, 1, 2, 2, 1)
	require.NoError(t, tree.CreateRoot())
	before := tree.CountLeaves()

	require.NoError(t, tree.AddLeaf(LogicalLocation{Level: 2, Lx1: 0, Lx2: 0}))

	// Splitting one root leaf into its full 2^dim=4 child sibling group
	// replaces 1 leaf with 4, a net +3.
	assert.Equal(t, before+3, tree.CountLeaves())
}

func TestLocation_ValidBounds(t *testing.T) {
	loc := LogicalLocation{Level: 2, Lx1: 3, Lx2: 0, Lx3: 0}
	assert.True(t, loc.Valid(2, 1, 1))
	bad := LogicalLocation{Level: 2, Lx1: 8, Lx2: 0, Lx3: 0}
	assert.False(t, bad.Valid(2, 1, 1))
}

func TestLocation_ChildParentRoundTrip(t *testing.T) {
	loc := LogicalLocation{Level: 3, Lx1: 5, Lx2: 2, Lx3: 1}
	child := loc.Child(1, 0, 1)
	assert.Equal(t, loc, child.Parent())
}

func TestLocation_SiblingsShareParent(t *testing.T) {
	a := LogicalLocation{Level: 2, Lx1: 4, Lx2: 4, Lx3: 0}
	b := LogicalLocation{Level: 2, Lx1: 5, Lx2: 5, Lx3: 0}
	assert.True(t, a.SameParent(b))
}
