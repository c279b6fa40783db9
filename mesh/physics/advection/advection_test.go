package advection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/meshcore"
)

func newTestBlock(nx1 int) *mesh.MeshBlock {
	size := mesh.RegionSize{X1Min: 0, X1Max: 1, Nx1: nx1, X1Rat: 1.0, Nx2: 1, Nx3: 1}
	return mesh.NewMeshBlock(0, mesh.LogicalLocation{}, size, mesh.BoundaryTags{}, 1)
}

func TestSolver_ProblemInit(t *testing.T) {
	mb := newTestBlock(8)
	s := Solver{Vx1: 1.0, CFL: 0.3, InitialCondition: func(x1, x2, x3 float64) float64 { return 5.0 }}
	require.NoError(t, s.ProblemInit(mb))

	for i := mb.Bounds.Is; i <= mb.Bounds.Ie; i++ {
		assert.Equal(t, 5.0, mb.Cons.Get(0, mb.Bounds.Ks, mb.Bounds.Js, i))
	}
}

func TestSolver_StepAdvance_ConstantFieldIsStationary(t *testing.T) {
	mb := newTestBlock(8)
	for i := range mb.Cons.Elements {
		mb.Cons.Elements[i] = 3.0
	}
	s := Solver{Vx1: 1.0, CFL: 0.3}
	require.NoError(t, s.StepAdvance(mb, 0.1, 0))

	for i := mb.Bounds.Is; i <= mb.Bounds.Ie; i++ {
		assert.InDelta(t, 3.0, mb.Cons.Get(0, mb.Bounds.Ks, mb.Bounds.Js, i), 1e-12)
	}
}

func TestSolver_CFLTimeStep(t *testing.T) {
	mb := newTestBlock(8)
	s := Solver{Vx1: 2.0, CFL: 0.5}
	dt, err := s.CFLTimeStep(mb)
	require.NoError(t, err)

	dx1 := (mb.Size.X1Max - mb.Size.X1Min) / float64(mb.Size.Nx1)
	want := 0.5 / (2.0 / dx1)
	assert.InDelta(t, want, dt, 1e-12)
}

func TestSolver_CFLTimeStep_ZeroVelocity(t *testing.T) {
	mb := newTestBlock(8)
	s := Solver{CFL: 0.5}
	dt, err := s.CFLTimeStep(mb)
	require.NoError(t, err)
	assert.True(t, dt > 1e300, "zero velocity should yield an unbounded stable step")
}
