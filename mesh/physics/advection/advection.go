// Package advection provides a deterministic reference implementation of
// mesh.Block: linear upwind advection of a scalar conserved field at a
// fixed velocity. It carries no Riemann solver and no equation of state —
// it exists purely to exercise the mesh core end-to-end, not as a
// hydrodynamics solver.
package advection

import (
	"fmt"
	"math"

	"github.com/fluxmesh/meshcore"
)

// Solver implements mesh.Block for one scalar field advected at constant
// velocity (Vx1, Vx2, Vx3), with CFL number cfl controlling CFLTimeStep.
type Solver struct {
	Vx1, Vx2, Vx3 float64
	CFL           float64
	// InitialCondition seeds mb.Cons given a block's physical coordinates;
	// nil defaults to a centered Gaussian pulse.
	InitialCondition func(x1, x2, x3 float64) float64
}

func (s Solver) cellSize(mb *mesh.MeshBlock) (dx1, dx2, dx3 float64) {
	dx1 = (mb.Size.X1Max - mb.Size.X1Min) / float64(mb.Size.Nx1)
	if mb.Size.Nx2 > 1 {
		dx2 = (mb.Size.X2Max - mb.Size.X2Min) / float64(mb.Size.Nx2)
	}
	if mb.Size.Nx3 > 1 {
		dx3 = (mb.Size.X3Max - mb.Size.X3Min) / float64(mb.Size.Nx3)
	}
	return
}

func (s Solver) cellCenter(mb *mesh.MeshBlock, i, j, k int) (x1, x2, x3 float64) {
	dx1, dx2, dx3 := s.cellSize(mb)
	x1 = mb.Size.X1Min + (float64(i-mesh.NGHOST)+0.5)*dx1
	if mb.Size.Nx2 > 1 {
		x2 = mb.Size.X2Min + (float64(j-mesh.NGHOST)+0.5)*dx2
	}
	if mb.Size.Nx3 > 1 {
		x3 = mb.Size.X3Min + (float64(k-mesh.NGHOST)+0.5)*dx3
	}
	return
}

// ProblemInit fills the interior cells of mb.Cons variable 0 with the
// initial condition, per mesh.Block.
func (s Solver) ProblemInit(mb *mesh.MeshBlock) error {
	ic := s.InitialCondition
	if ic == nil {
		ic = func(x1, x2, x3 float64) float64 {
			cx := (mb.Size.X1Max + mb.Size.X1Min) / 2
			sigma := (mb.Size.X1Max - mb.Size.X1Min) / 8
			return math.Exp(-((x1 - cx) * (x1 - cx)) / (2 * sigma * sigma))
		}
	}
	ke, je := mb.Bounds.Ke, mb.Bounds.Je
	if ke < mb.Bounds.Ks {
		ke = mb.Bounds.Ks
	}
	if je < mb.Bounds.Js {
		je = mb.Bounds.Js
	}
	for k := mb.Bounds.Ks; k <= ke; k++ {
		for j := mb.Bounds.Js; j <= je; j++ {
			for i := mb.Bounds.Is; i <= mb.Bounds.Ie; i++ {
				x1, x2, x3 := s.cellCenter(mb, i, j, k)
				mb.Cons.Set(ic(x1, x2, x3), 0, k, j, i)
			}
		}
	}
	return nil
}

// StepAdvance applies one forward-Euler upwind update along x1 (and x2/x3
// when active) to variable 0.
func (s Solver) StepAdvance(mb *mesh.MeshBlock, dt float64, stage int) error {
	dx1, dx2, dx3 := s.cellSize(mb)
	ke, je := mb.Bounds.Ke, mb.Bounds.Je
	if ke < mb.Bounds.Ks {
		ke = mb.Bounds.Ks
	}
	if je < mb.Bounds.Js {
		je = mb.Bounds.Js
	}
	snapshot := make([]float64, len(mb.Cons.Elements))
	copy(snapshot, mb.Cons.Elements)
	shape := mb.Cons.Shape

	get := func(k, j, i int) float64 {
		idx := ((0*shape[1]+k)*shape[2]+j)*shape[3] + i
		return snapshot[idx]
	}

	for k := mb.Bounds.Ks; k <= ke; k++ {
		for j := mb.Bounds.Js; j <= je; j++ {
			for i := mb.Bounds.Is; i <= mb.Bounds.Ie; i++ {
				u := get(k, j, i)
				du := 0.0
				if s.Vx1 >= 0 {
					du -= s.Vx1 * (u - get(k, j, i-1)) / dx1
				} else {
					du -= s.Vx1 * (get(k, j, i+1) - u) / dx1
				}
				if mb.Size.Nx2 > 1 {
					if s.Vx2 >= 0 {
						du -= s.Vx2 * (u - get(k, j-1, i)) / dx2
					} else {
						du -= s.Vx2 * (get(k, j+1, i) - u) / dx2
					}
				}
				if mb.Size.Nx3 > 1 {
					if s.Vx3 >= 0 {
						du -= s.Vx3 * (u - get(k-1, j, i)) / dx3
					} else {
						du -= s.Vx3 * (get(k+1, j, i) - u) / dx3
					}
				}
				mb.Cons.Set(u+dt*du, 0, k, j, i)
			}
		}
	}
	return nil
}

// CFLTimeStep returns the CFL-limited stable dt for the configured
// velocity and this block's cell size.
func (s Solver) CFLTimeStep(mb *mesh.MeshBlock) (float64, error) {
	dx1, dx2, dx3 := s.cellSize(mb)
	speed := math.Abs(s.Vx1) / dx1
	if mb.Size.Nx2 > 1 {
		speed += math.Abs(s.Vx2) / dx2
	}
	if mb.Size.Nx3 > 1 {
		speed += math.Abs(s.Vx3) / dx3
	}
	if speed == 0 {
		return math.MaxFloat64, nil
	}
	cfl := s.CFL
	if cfl <= 0 {
		cfl = 0.3
	}
	return cfl / speed, nil
}

// PackBoundary copies the NGHOST-deep interior layer of mb.Cons facing nb
// into buf -- the data nb's own ghost zone needs, not mb's own ghost zone.
func (s Solver) PackBoundary(mb *mesh.MeshBlock, nb mesh.NeighborBlock, buf []float64) (int, error) {
	lo, hi := interiorLayerRange(mb, nb)
	n := 0
	for k := lo[2]; k <= hi[2]; k++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for i := lo[0]; i <= hi[0]; i++ {
				if n >= len(buf) {
					return n, fmt.Errorf("advection: pack boundary: buffer too small")
				}
				buf[n] = mb.Cons.Get(0, k, j, i)
				n++
			}
		}
	}
	return n, nil
}

// UnpackBoundary writes buf into mb's ghost layer facing nb, the inverse
// of the sender's PackBoundary.
func (s Solver) UnpackBoundary(mb *mesh.MeshBlock, nb mesh.NeighborBlock, buf []float64) error {
	lo, hi := ghostLayerRange(mb, nb)
	n := 0
	for k := lo[2]; k <= hi[2]; k++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for i := lo[0]; i <= hi[0]; i++ {
				if n >= len(buf) {
					return fmt.Errorf("advection: unpack boundary: buffer too short")
				}
				mb.Cons.Set(buf[n], 0, k, j, i)
				n++
			}
		}
	}
	return nil
}

// Prolongate fills mb's ghost zones facing a coarser neighbor by
// nearest-neighbor (zeroth-order) interpolation from buf, the simplest
// scheme consistent with this solver's first-order accuracy.
func (s Solver) Prolongate(mb *mesh.MeshBlock, nb mesh.NeighborBlock, buf []float64) error {
	lo, hi := ghostLayerRange(mb, nb)
	if len(buf) == 0 {
		return nil
	}
	n := 0
	for k := lo[2]; k <= hi[2]; k++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for i := lo[0]; i <= hi[0]; i++ {
				v := buf[n/2%len(buf)]
				mb.Cons.Set(v, 0, k, j, i)
				n++
			}
		}
	}
	return nil
}

// Restrict volume-averages mb's interior 2x2(x2) cell groups down into
// mb.CoarseBounds, per mesh.Block's contract.
func (s Solver) Restrict(mb *mesh.MeshBlock) error {
	cb := mb.CoarseBounds
	nj, nk := 1, 1
	if mb.Size.Nx2 > 1 {
		nj = 2
	}
	if mb.Size.Nx3 > 1 {
		nk = 2
	}
	for k := cb.Ks; k <= maxOr(cb.Ke, cb.Ks); k++ {
		for j := cb.Js; j <= maxOr(cb.Je, cb.Js); j++ {
			for i := cb.Is; i <= cb.Ie; i++ {
				fi := mb.Bounds.Is + (i-cb.Is)*2
				fj := mb.Bounds.Js + (j-cb.Js)*nj
				fk := mb.Bounds.Ks + (k-cb.Ks)*nk
				sum, count := 0.0, 0
				for dk := 0; dk < nk; dk++ {
					for dj := 0; dj < nj; dj++ {
						for di := 0; di < 2; di++ {
							sum += mb.Cons.Get(0, fk+dk, fj+dj, fi+di)
							count++
						}
					}
				}
				mb.Prim.Set(sum/float64(count), 0, k, j, i)
			}
		}
	}
	return nil
}

func maxOr(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// ghostLayerRange locates the NGHOST-deep ghost-zone window mb itself owns
// in direction nb -- where a neighbor's packed data is unpacked into, or a
// coarser neighbor's data is prolongated into.
func ghostLayerRange(mb *mesh.MeshBlock, nb mesh.NeighborBlock) (lo, hi [3]int) {
	lo, hi = [3]int{mb.Bounds.Is, mb.Bounds.Js, mb.Bounds.Ks}, [3]int{mb.Bounds.Ie, mb.Bounds.Je, mb.Bounds.Ke}
	applyOffset(&lo[0], &hi[0], nb.Ox1, mb.Bounds.Is, mb.Bounds.Ie)
	applyOffset(&lo[1], &hi[1], nb.Ox2, mb.Bounds.Js, mb.Bounds.Je)
	applyOffset(&lo[2], &hi[2], nb.Ox3, mb.Bounds.Ks, mb.Bounds.Ke)
	return
}

// interiorLayerRange locates the NGHOST-deep interior window mb must send
// toward a neighbor in direction nb -- the mirror image of ghostLayerRange,
// one layer inward from the face/edge/corner instead of one layer outward.
func interiorLayerRange(mb *mesh.MeshBlock, nb mesh.NeighborBlock) (lo, hi [3]int) {
	lo, hi = [3]int{mb.Bounds.Is, mb.Bounds.Js, mb.Bounds.Ks}, [3]int{mb.Bounds.Ie, mb.Bounds.Je, mb.Bounds.Ke}
	applyInteriorOffset(&lo[0], &hi[0], nb.Ox1, mb.Bounds.Is, mb.Bounds.Ie)
	applyInteriorOffset(&lo[1], &hi[1], nb.Ox2, mb.Bounds.Js, mb.Bounds.Je)
	applyInteriorOffset(&lo[2], &hi[2], nb.Ox3, mb.Bounds.Ks, mb.Bounds.Ke)
	return
}

func applyOffset(lo, hi *int, ox, is, ie int) {
	if ox > 0 {
		*lo, *hi = ie+1, ie+mesh.NGHOST
	} else if ox < 0 {
		*lo, *hi = is-mesh.NGHOST, is-1
	}
}

func applyInteriorOffset(lo, hi *int, ox, is, ie int) {
	if ox > 0 {
		*lo, *hi = ie-mesh.NGHOST+1, ie
	} else if ox < 0 {
		*lo, *hi = is, is+mesh.NGHOST-1
	}
}
