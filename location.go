package mesh

import "fmt"

// MaxLevel is the deepest logical refinement level a LogicalLocation may
// name. The level field is stored in 6 bits' worth of range (0..63).
const MaxLevel = 63

// LogicalLocation names a block's position in the refinement tree: its
// level and its integer coordinates within the 2^level-scaled root grid.
type LogicalLocation struct {
	Level            int64
	Lx1, Lx2, Lx3 int64
}

// Root is the location of the (virtual) level-0 root node.
var Root = LogicalLocation{}

// Valid reports whether the location's level is in range and its
// coordinates lie within the 2^level * nrbx_d bound for each active
// dimension (nrbx2/nrbx3 of 1 signal an inactive dimension).
func (l LogicalLocation) Valid(nrbx1, nrbx2, nrbx3 int64) bool {
	if l.Level < 0 || l.Level > MaxLevel {
		return false
	}
	span := int64(1) << uint(l.Level)
	if l.Lx1 < 0 || l.Lx1 >= span*nrbx1 {
		return false
	}
	if l.Lx2 < 0 || l.Lx2 >= span*nrbx2 {
		return false
	}
	if l.Lx3 < 0 || l.Lx3 >= span*nrbx3 {
		return false
	}
	return true
}

// Parent returns the location of l's parent (level-1 location whose
// octant contains l). Calling Parent on the root is undefined.
func (l LogicalLocation) Parent() LogicalLocation {
	return LogicalLocation{
		Level: l.Level - 1,
		Lx1:   l.Lx1 >> 1,
		Lx2:   l.Lx2 >> 1,
		Lx3:   l.Lx3 >> 1,
	}
}

// Child returns the location of l's child occupying octant (i,j,k), each
// in {0,1}. Inactive dimensions (k or j unused) must be passed as 0.
func (l LogicalLocation) Child(i, j, k int) LogicalLocation {
	return LogicalLocation{
		Level: l.Level + 1,
		Lx1:   l.Lx1<<1 | int64(i&1),
		Lx2:   l.Lx2<<1 | int64(j&1),
		Lx3:   l.Lx3<<1 | int64(k&1),
	}
}

// SameParent reports whether a and b are siblings (both children of the
// same parent location).
func (a LogicalLocation) SameParent(b LogicalLocation) bool {
	return a.Level == b.Level && a.Parent() == b.Parent()
}

// mortonKey bit-interleaves (lx3, lx2, lx1), most significant dimension
// first, producing the within-level Morton total order named in §3.
func mortonKey(lx1, lx2, lx3 int64, level int64) uint64 {
	var key uint64
	for b := int64(0); b < level; b++ {
		bit1 := uint64((lx1 >> uint(b)) & 1)
		bit2 := uint64((lx2 >> uint(b)) & 1)
		bit3 := uint64((lx3 >> uint(b)) & 1)
		key |= bit1 << uint(3*b)
		key |= bit2 << uint(3*b+1)
		key |= bit3 << uint(3*b+2)
	}
	return key
}

// MortonKey returns l's within-level Morton key.
func (l LogicalLocation) MortonKey() uint64 {
	return mortonKey(l.Lx1, l.Lx2, l.Lx3, l.Level)
}

// lessLevelDescending implements the total order named in §3: levels
// descending (finer first), Morton order within a level. It is used only
// for the explicit derefinement-candidate sort in the refinement cycle;
// BlockTree.EnumerateLeaves produces the global Morton order via tree
// descent, which naturally nests finer octants within their parent's
// traversal position.
func lessLevelDescending(a, b LogicalLocation) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.MortonKey() < b.MortonKey()
}

func (l LogicalLocation) String() string {
	return fmt.Sprintf("(L%d,%d,%d,%d)", l.Level, l.Lx1, l.Lx2, l.Lx3)
}
