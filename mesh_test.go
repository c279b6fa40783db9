package mesh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformBCs() BoundaryTags {
	return BoundaryTags{
		BoundaryPeriodic, BoundaryPeriodic,
		BoundaryPeriodic, BoundaryPeriodic,
		BoundaryPeriodic, BoundaryPeriodic,
	}
}

func unitRatSize(nx1, nx2, nx3 int) RegionSize {
	return RegionSize{
		X1Min: 0, X1Max: 1, Nx1: nx1, X1Rat: 1.0,
		X2Min: 0, X2Max: 1, Nx2: nx2, X2Rat: 1.0,
		X3Min: 0, X3Max: 1, Nx3: nx3, X3Rat: 1.0,
	}
}

// S1: mesh 16x16x16, block 8x8x8 -> nrbx=2 per axis, root_level=1,
// nbtotal=8, not multilevel.
func TestMesh_UniformS1(t *testing.T) {
	in := MeshInput{
		Size: unitRatSize(16, 16, 16), BCs: uniformBCs(), NumThreads: 1,
		BlockNx1: 8, BlockNx2: 8, BlockNx3: 8, Refinement: "none",
	}
	ti := TimeInput{Tlim: 1.0, CFLNumber: 0.4}
	m, err := NewMesh(in, ti, RankContext{Rank: 0, NRanks: 1}, 1, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, m.NbTotal)
	assert.Equal(t, int64(1), m.RootLevel)
	assert.False(t, m.Multilevel)

	require.NoError(t, m.Initialize(ResFlagCold, nil))
	for _, mb := range m.Blocks {
		faces := 0
		for _, nb := range mb.Neighbors.Neighbors {
			if nb.Type == NeighborFace {
				faces++
			}
		}
		assert.Equal(t, 6, faces, "gid=%d expected 6 face neighbors under periodic BCs", mb.Gid)
	}
}

// S2: mesh 64x1x1, block 16x1x1, dim=1. CFL 0.8 must build; CFL 1.1 must
// fail; each interior block has 2 face neighbors.
func TestMesh_OneDimensionalS2(t *testing.T) {
	in := MeshInput{
		Size: unitRatSize(64, 1, 1), BCs: uniformBCs(), NumThreads: 1,
		BlockNx1: 16, BlockNx2: 0, BlockNx3: 0, Refinement: "none",
	}
	ti := TimeInput{Tlim: 1.0, CFLNumber: 0.8}
	m, err := NewMesh(in, ti, RankContext{Rank: 0, NRanks: 1}, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Size.Dim())
	assert.Equal(t, 4, m.NbTotal)

	require.NoError(t, m.Initialize(ResFlagCold, nil))
	for _, mb := range m.Blocks {
		faces := 0
		for _, nb := range mb.Neighbors.Neighbors {
			if nb.Type == NeighborFace {
				faces++
			}
		}
		assert.Equal(t, 2, faces)
	}

	bad := TimeInput{Tlim: 1.0, CFLNumber: 1.1}
	_, err = NewMesh(in, bad, RankContext{Rank: 0, NRanks: 1}, 1, nil, nil)
	assert.Error(t, err)
}

// S3: mesh 32x32, block 8x8, one refinement region covering [0.25,0.75]^2
// at level 1. 16 root leaves minus the 4 covered plus 16 finer = 28 leaves;
// neighbor level differences across the coarse-fine interface are exactly 1.
func TestMesh_StaticRefinementS3(t *testing.T) {
	in := MeshInput{
		Size: unitRatSize(32, 32, 1), BCs: uniformBCs(), NumThreads: 1,
		BlockNx1: 8, BlockNx2: 8, BlockNx3: 0, Refinement: "static",
		Regions: []RefinementRegion{
			{X1Min: 0.25, X1Max: 0.75, X2Min: 0.25, X2Max: 0.75, Level: 1},
		},
	}
	ti := TimeInput{Tlim: 1.0, CFLNumber: 0.4}
	m, err := NewMesh(in, ti, RankContext{Rank: 0, NRanks: 1}, 1, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), m.RootLevel)
	assert.Equal(t, 28, m.NbTotal)

	require.NoError(t, m.Initialize(ResFlagCold, nil))
	for _, mb := range m.Blocks {
		for _, nb := range mb.Neighbors.Neighbors {
			diff := nb.Level - int(mb.Loc.Level)
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, 1, "gid=%d neighbor level jump too large", mb.Gid)
		}
	}
}

// S5: run S3 to cycle 0, write a restart, reconstruct it, and assert the
// round-trip preserves nbtotal, the root level, the set of leaf locations
// and every block's conserved data.
func TestMesh_RestartRoundTripS5(t *testing.T) {
	in := MeshInput{
		Size: unitRatSize(32, 32, 1), BCs: uniformBCs(), NumThreads: 1,
		BlockNx1: 8, BlockNx2: 8, BlockNx3: 0, Refinement: "static",
		Regions: []RefinementRegion{
			{X1Min: 0.25, X1Max: 0.75, X2Min: 0.25, X2Max: 0.75, Level: 1},
		},
	}
	ti := TimeInput{Tlim: 1.0, CFLNumber: 0.4}
	newPhysics := func(mb *MeshBlock) Block { return testFillSolver{} }
	m, err := NewMesh(in, ti, RankContext{Rank: 0, NRanks: 1}, 1, nil, newPhysics)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ResFlagCold, nil))

	var buf bytes.Buffer
	require.NoError(t, m.WriteRestart(&buf))

	m2, err := NewMeshFromRestart(bytes.NewReader(buf.Bytes()), RankContext{Rank: 0, NRanks: 1}, "static", 0, 1, nil, newPhysics)
	require.NoError(t, err)

	assert.Equal(t, m.NbTotal, m2.NbTotal)
	assert.Equal(t, m.RootLevel, m2.RootLevel)
	assert.ElementsMatch(t, m.LocList, m2.LocList)
	for _, mb2 := range m2.Blocks {
		mb1 := m.FindBlock(mb2.Gid)
		require.NotNil(t, mb1)
		assert.Equal(t, mb1.Cons.Elements, mb2.Cons.Elements)
	}
}

// testFillSolver seeds a distinguishable conserved value per block so the
// restart round-trip test can assert the payload, not just the shape,
// survived.
type testFillSolver struct{}

func (testFillSolver) ProblemInit(mb *MeshBlock) error {
	for i := range mb.Cons.Elements {
		mb.Cons.Elements[i] = float64(mb.Gid) + float64(i)*0.001
	}
	return nil
}
func (testFillSolver) StepAdvance(mb *MeshBlock, dt float64, stage int) error { return nil }
func (testFillSolver) PackBoundary(mb *MeshBlock, nb NeighborBlock, buf []float64) (int, error) {
	return 0, nil
}
func (testFillSolver) UnpackBoundary(mb *MeshBlock, nb NeighborBlock, buf []float64) error {
	return nil
}
func (testFillSolver) Prolongate(mb *MeshBlock, nb NeighborBlock, buf []float64) error { return nil }
func (testFillSolver) Restrict(mb *MeshBlock) error                                    { return nil }
func (testFillSolver) CFLTimeStep(mb *MeshBlock) (float64, error)                      { return 0.1, nil }

// S6: mark one of four siblings for derefinement; after a cycle the four
// siblings remain unchanged and no tree mutation occurs, since derefinement
// only proceeds when a complete sibling group agrees.
func TestMesh_DerefinementRejectionS6(t *testing.T) {
	in := MeshInput{
		Size: unitRatSize(32, 32, 1), BCs: uniformBCs(), NumThreads: 1,
		BlockNx1: 8, BlockNx2: 8, BlockNx3: 0, Refinement: "adaptive", MaxLevel: 2,
		Regions: []RefinementRegion{
			{X1Min: 0.25, X1Max: 0.75, X2Min: 0.25, X2Max: 0.75, Level: 1},
		},
	}
	ti := TimeInput{Tlim: 1.0, CFLNumber: 0.4}
	m, err := NewMesh(in, ti, RankContext{Rank: 0, NRanks: 1}, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ResFlagCold, nil))

	before := append([]LogicalLocation(nil), m.LocList...)

	// Flag exactly one sibling per distinct parent, across enough parent
	// groups to clear AdaptMesh's "not worth a pass" threshold (one full
	// sibling group's worth of derefine requests) while leaving every
	// individual group incomplete, so the rejection actually exercises the
	// sibling-completeness filter rather than that early-out.
	seenParent := make(map[LogicalLocation]bool)
	flagged := make(map[LogicalLocation]bool)
	for _, loc := range m.LocList {
		if loc.Level <= m.RootLevel {
			continue
		}
		p := loc.Parent()
		if seenParent[p] {
			continue
		}
		seenParent[p] = true
		flagged[loc] = true
	}
	require.GreaterOrEqual(t, len(flagged), 4, "expected at least 4 distinct sibling groups from the S3 region")

	decider := oneShotDeferDecider{locs: flagged}
	require.NoError(t, m.AdaptMesh(decider, nil))

	assert.ElementsMatch(t, before, m.LocList, "an incomplete sibling group must not trigger a tree mutation")
}

type oneShotDeferDecider struct {
	locs map[LogicalLocation]bool
}

func (d oneShotDeferDecider) RefineFlag(mb *MeshBlock) RefineFlag {
	if d.locs[mb.Loc] {
		return RefineDerefine
	}
	return RefineKeep
}
