package mesh

import "fmt"

// NeighborType classifies a neighbor relationship by how many of the three
// offset components are nonzero.
type NeighborType int

const (
	NeighborFace NeighborType = iota
	NeighborEdge
	NeighborCorner
)

// NeighborBlock describes one boundary-exchange peer of a MeshBlock, per
// §3/§4.2.
type NeighborBlock struct {
	Rank, Level    int
	Gid, Lid       int
	Ox1, Ox2, Ox3  int
	Type           NeighborType
	BufID          int
	TargetBufID    int
	FI1, FI2       int
}

// FaceID and EdgeID give the opposing-side encoding used for fast
// dispatch, per §3's "Derived face-id or edge-id encodes which side".
func (n NeighborBlock) FaceID() int {
	switch {
	case n.Ox1 != 0 && n.Ox2 == 0 && n.Ox3 == 0:
		if n.Ox1 > 0 {
			return int(FaceOuterX1)
		}
		return int(FaceInnerX1)
	case n.Ox2 != 0 && n.Ox1 == 0 && n.Ox3 == 0:
		if n.Ox2 > 0 {
			return int(FaceOuterX2)
		}
		return int(FaceInnerX2)
	case n.Ox3 != 0 && n.Ox1 == 0 && n.Ox2 == 0:
		if n.Ox3 > 0 {
			return int(FaceOuterX3)
		}
		return int(FaceInnerX3)
	}
	return -1
}

// maxneighbor bounds the NeighborBlock list: 6 faces * 4 fine children +
// 12 edges * 2 fine children + 8 corners, comfortably covering every
// populated direction even at a coarse-fine interface.
const MaxNeighbor = 6*4 + 12*2 + 8

// directions enumerates the 26 face/edge/corner offsets in a fixed order;
// the center offset (0,0,0) is skipped.
func directions() [][3]int {
	dirs := make([][3]int, 0, 26)
	for ox3 := -1; ox3 <= 1; ox3++ {
		for ox2 := -1; ox2 <= 1; ox2++ {
			for ox1 := -1; ox1 <= 1; ox1++ {
				if ox1 == 0 && ox2 == 0 && ox3 == 0 {
					continue
				}
				dirs = append(dirs, [3]int{ox1, ox2, ox3})
			}
		}
	}
	return dirs
}

func neighborType(ox1, ox2, ox3 int) NeighborType {
	n := 0
	if ox1 != 0 {
		n++
	}
	if ox2 != 0 {
		n++
	}
	if ox3 != 0 {
		n++
	}
	switch n {
	case 1:
		return NeighborFace
	case 2:
		return NeighborEdge
	default:
		return NeighborCorner
	}
}

// BufferID assigns the canonical buffer slot for direction (ox1,ox2,ox3)
// and, for a finer sender, its child index (fi1,fi2). faceOnly drops edge
// and corner directions; multilevel and dim set how many fine-child slots
// each direction reserves. All 26 directions get slots whatever dim is.
func BufferID(ox1, ox2, ox3, fi1, fi2 int, dim int, multilevel, faceOnly bool) int {
	nt := neighborType(ox1, ox2, ox3)
	if faceOnly && nt != NeighborFace {
		return -1
	}
	base := 0
	for _, d := range directions() {
		dt := neighborType(d[0], d[1], d[2])
		if faceOnly && dt != NeighborFace {
			continue
		}
		if d[0] == ox1 && d[1] == ox2 && d[2] == ox3 {
			if !multilevel {
				return base
			}
			return base + fi1 + fi2*2
		}
		if multilevel {
			base += finestChildSlots(dt, dim)
		} else {
			base++
		}
	}
	return -1
}

func finestChildSlots1D(nt NeighborType, dim int) int {
	switch nt {
	case NeighborFace:
		if dim == 3 {
			return 2
		}
		return 1
	default:
		return 1
	}
}

// finestChildSlots returns how many fine-child buffer slots direction type
// nt reserves: 2^(d-1) for a face, 2 for an edge, 1 for a corner.
func finestChildSlots(nt NeighborType, dim int) int {
	switch nt {
	case NeighborFace:
		return 1 << uint(maxInt(0, dim-1))
	case NeighborEdge:
		return 2
	default:
		return 1
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// FindBufferID is the external-facing alias named in §6, delegating to
// BufferID with multilevel/face-only semantics baked into its caller.
func FindBufferID(ox1, ox2, ox3, fi1, fi2, maxneighbor int) int {
	id := BufferID(ox1, ox2, ox3, fi1, fi2, 3, true, false)
	if id < 0 || id >= maxneighbor {
		return -1
	}
	return id
}

// NeighborTable holds a block's complete neighbor list and the dense
// 3x3x3 level map used by physics kernels to widen ghost-zone loops.
type NeighborTable struct {
	Neighbors []NeighborBlock
	NBLevel   [3][3][3]int
}

// wrapFace resolves a candidate logical coordinate against one face's
// boundary condition pair, returning the wrapped/clamped coordinate and
// whether a neighbor exists at all in that direction.
func wrapFace(lx, span int64, lowTag, highTag BoundaryTag) (int64, bool) {
	if lx < 0 {
		if lowTag == BoundaryPeriodic {
			return lx + span, true
		}
		return 0, false
	}
	if lx >= span {
		if highTag == BoundaryPeriodic {
			return lx - span, true
		}
		return 0, false
	}
	return lx, true
}

// FindNeighbor implements §4.1's find_neighbor: it resolves the logical
// coordinate of the neighbor in direction (ox1,ox2,ox3), applying
// periodic wrap or rejecting the direction at a non-connecting boundary,
// then descends the tree to find the leaf or interior subtree root that
// is the answer.
func (t *BlockTree) FindNeighbor(loc LogicalLocation, ox1, ox2, ox3 int, bcs BoundaryTags) (treeLookup, error) {
	span1 := t.nrbx[0] << uint(loc.Level-t.rootLevel)
	nlx1, ok1 := wrapFace(loc.Lx1+int64(ox1), span1, bcs[FaceInnerX1], bcs[FaceOuterX1])
	if !ok1 {
		return treeLookup{}, nil
	}
	nlx2 := loc.Lx2
	if t.dim >= 2 && ox2 != 0 {
		span2 := t.nrbx[1] << uint(loc.Level-t.rootLevel)
		lowTag, highTag := bcs[FaceInnerX2], bcs[FaceOuterX2]
		if lowTag == BoundaryPolar || highTag == BoundaryPolar {
			nlx2, nlx1 = polarWrap(loc.Lx2+int64(ox2), nlx1, span2, span1)
		} else {
			var ok2 bool
			nlx2, ok2 = wrapFace(loc.Lx2+int64(ox2), span2, lowTag, highTag)
			if !ok2 {
				return treeLookup{}, nil
			}
		}
	} else if ox2 != 0 {
		return treeLookup{}, nil
	}
	nlx3 := loc.Lx3
	if t.dim >= 3 && ox3 != 0 {
		span3 := t.nrbx[2] << uint(loc.Level-t.rootLevel)
		var ok3 bool
		nlx3, ok3 = wrapFace(loc.Lx3+int64(ox3), span3, bcs[FaceInnerX3], bcs[FaceOuterX3])
		if !ok3 {
			return treeLookup{}, nil
		}
	} else if ox3 != 0 {
		return treeLookup{}, nil
	}
	target := LogicalLocation{Level: loc.Level, Lx1: nlx1, Lx2: nlx2, Lx3: nlx3}
	return t.locate(target)
}

// polarWrap implements the simplified pole-crossing map named in §4.1: the
// polar coordinate reflects back into range and the azimuthal coordinate
// shifts by half the domain, approximating "lx values across the pole".
func polarWrap(lx2, lx1, span2, span1 int64) (int64, int64) {
	var wrapped int64
	if lx2 < 0 {
		wrapped = -lx2 - 1
	} else {
		wrapped = 2*span2 - lx2 - 1
	}
	shifted := (lx1 + span1/2) % span1
	if shifted < 0 {
		shifted += span1
	}
	return wrapped, shifted
}

// childrenTouching enumerates the immediate children of interior node idx
// whose octant touches direction (ox1,ox2,ox3): axes with a nonzero offset
// must match the opposite octant bit; axes with a zero offset take both
// values. This realizes §4.2's "up to 2^(d-1) (face), 2 (edge), or 1
// (corner)" fine-neighbor enumeration.
func (t *BlockTree) childrenTouching(idx int32, ox1, ox2, ox3 int) []int32 {
	var out []int32
	noct := t.numOctants()
	for oct := 0; oct < noct; oct++ {
		i, j, k := t.octantFromIndex(oct)
		if ox1 != 0 && i != oppositeBit(ox1) {
			continue
		}
		if ox2 != 0 && j != oppositeBit(ox2) {
			continue
		}
		if ox3 != 0 && k != oppositeBit(ox3) {
			continue
		}
		c := t.nodes[idx].children[oct]
		if c >= 0 {
			out = append(out, c)
		}
	}
	return out
}

func oppositeBit(ox int) int {
	if ox > 0 {
		return 0
	}
	return 1
}

// siblingTouchPosition mirrors childrenTouching's own loop order, reporting
// the 0-based position the octant (ownI,ownJ,ownK) would occupy in the
// enumeration childrenTouching(ox1,ox2,ox3) produces for its parent. A
// finer block uses this to recover its own (fi1,fi2) pair relative to a
// coarser neighbor it finds across a face/edge/corner, the mirror image of
// the coarser side reading fi1/fi2 off of childrenTouching's result.
func (t *BlockTree) siblingTouchPosition(ownI, ownJ, ownK, ox1, ox2, ox3 int) int {
	noct := t.numOctants()
	pos := 0
	for oct := 0; oct < noct; oct++ {
		i, j, k := t.octantFromIndex(oct)
		if ox1 != 0 && i != oppositeBit(ox1) {
			continue
		}
		if ox2 != 0 && j != oppositeBit(ox2) {
			continue
		}
		if ox3 != 0 && k != oppositeBit(ox3) {
			continue
		}
		if i == ownI && j == ownJ && k == ownK {
			return pos
		}
		pos++
	}
	return 0
}

// finerChildFI decomposes a 0-based childrenTouching position into the
// (fi1,fi2) pair BufferID expects, matching its own fi1+fi2*2 slot
// arithmetic.
func finerChildFI(pos int) (fi1, fi2 int) {
	return pos % 2, pos / 2
}

// isUniqueCornerSibling reports whether loc is the one sibling, among its
// immediate parent's 2^dim children, whose own octant corner in direction
// (ox1,ox2,ox3) coincides with its parent's corner in that same direction.
// Per §4.2, only that sibling has a well-defined coarser neighbor across a
// true 3-axis corner; every other sibling's corner search in that exact
// direction actually crosses a face or edge of the parent instead, and
// registering it would double-claim a buffer slot the unique sibling
// already owns.
func isUniqueCornerSibling(loc LogicalLocation, dim int, ox1, ox2, ox3 int) bool {
	if loc.Level == 0 {
		return true
	}
	i, j, k := octantBits(loc, dim, loc.Level-1)
	matches := func(ox, bit int) bool {
		if ox == 0 {
			return true
		}
		if ox > 0 {
			return bit == 1
		}
		return bit == 0
	}
	return matches(ox1, i) && matches(ox2, j) && matches(ox3, k)
}

func (n NeighborType) String() string {
	switch n {
	case NeighborFace:
		return "face"
	case NeighborEdge:
		return "edge"
	case NeighborCorner:
		return "corner"
	default:
		return fmt.Sprintf("NeighborType(%d)", int(n))
	}
}
