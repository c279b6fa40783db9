package mesh

import "bitbucket.org/ctessum/sparse"

// NGHOST is the fixed ghost-zone width on every side of a block's active
// cell-index window.
const NGHOST = 2

// CellBounds names the inclusive index window of a block's active
// (interior) cells along each axis; the NGHOST ghost cells lie outside it
// on each side. An inactive axis has the window 0..0.
type CellBounds struct {
	Is, Ie int
	Js, Je int
	Ks, Ke int
}

// coarseBounds returns the coarsened window used for multilevel prolongation:
// half the interior plus (NGHOST+1)/2+1 ghosts, per §3.
func coarseBounds(nx1, nx2, nx3 int) CellBounds {
	pad := (NGHOST+1)/2 + 1
	cb := CellBounds{Is: pad, Ie: pad + nx1/2 - 1}
	if nx2 > 1 {
		cb.Js, cb.Je = pad, pad+nx2/2-1
	}
	if nx3 > 1 {
		cb.Ks, cb.Ke = pad, pad+nx3/2-1
	}
	return cb
}

// MeshBlock is the owner of one leaf of the BlockTree: its indices,
// neighbor table, task-progress bitset, and conservative-variable payload.
type MeshBlock struct {
	Gid, Lid int
	Loc      LogicalLocation
	Size     RegionSize
	BCs      BoundaryTags

	Bounds      CellBounds
	CoarseBounds CellBounds

	Cost float64

	Neighbors NeighborTable

	// Cons holds the conservative hydrodynamic variables, shaped
	// (nvar, nx3+2*NGHOST, nx2+2*NGHOST, nx1+2*NGHOST), per SPEC_FULL §3,
	// except that an inactive axis (nx2 or nx3 of 1) has extent 1.
	Cons *sparse.DenseArray
	// Prim mirrors Cons with primitive variables, populated by the
	// conserved->primitive conversion step of Initialize.
	Prim *sparse.DenseArray

	tasks taskState

	Physics Block
}

// NewMeshBlock allocates a MeshBlock's index window and conservative array
// for the given region size and variable count. ghostOnly axes (nx2/nx3==1)
// are not padded with ghost zones.
func NewMeshBlock(gid int, loc LogicalLocation, size RegionSize, bcs BoundaryTags, nvar int) *MeshBlock {
	mb := &MeshBlock{Gid: gid, Loc: loc, Size: size, BCs: bcs, Cost: 1.0}
	mb.Bounds = CellBounds{Is: NGHOST, Ie: NGHOST + size.Nx1 - 1}
	if size.Nx2 > 1 {
		mb.Bounds.Js, mb.Bounds.Je = NGHOST, NGHOST+size.Nx2-1
	}
	if size.Nx3 > 1 {
		mb.Bounds.Ks, mb.Bounds.Ke = NGHOST, NGHOST+size.Nx3-1
	}
	mb.CoarseBounds = coarseBounds(size.Nx1, size.Nx2, size.Nx3)

	shape3 := func(n int) int {
		if n <= 1 {
			return 1
		}
		return n + 2*NGHOST
	}
	mb.Cons = sparse.ZerosDense(nvar, shape3(size.Nx3), shape3(size.Nx2), shape3(size.Nx1))
	mb.Prim = sparse.ZerosDense(nvar, shape3(size.Nx3), shape3(size.Nx2), shape3(size.Nx1))
	return mb
}
