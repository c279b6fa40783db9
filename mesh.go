package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// RankContext carries the distributed-process identity into Mesh
// construction and the refinement cycle, replacing the ambient globals
// named in design note §9.
type RankContext struct {
	Rank   int
	NRanks int
}

// RefinementRegion names one <refinementN> input block: a static
// refinement target region and the level it should be refined to.
type RefinementRegion struct {
	X1Min, X1Max float64
	X2Min, X2Max float64
	X3Min, X3Max float64
	Level        int
}

// MeshInput is the validated form of the §6 input configuration.
type MeshInput struct {
	Size       RegionSize
	BCs        BoundaryTags
	NumThreads int

	BlockNx1, BlockNx2, BlockNx3 int

	Refinement string // "static" or "adaptive"
	MaxLevel   int    // user_max, meaningful only when Refinement == "adaptive"

	Regions []RefinementRegion
}

// TimeInput is the validated form of the §6 <time> input block.
type TimeInput struct {
	StartTime float64
	Tlim      float64
	CFLNumber float64
	Nlim      int
}

// Mesh is the process-wide owner of the tree, the local block list, the
// global arrays, and the global time/step state, per §3/§4.4.
type Mesh struct {
	Tree      *BlockTree
	Size      RegionSize
	BCs       BoundaryTags
	RootLevel int64
	MaxLevel  int64
	Multilevel bool
	Adaptive  bool
	NumThreads int

	NRBX [3]int64

	BlockNx1, BlockNx2, BlockNx3 int

	LocList  []LogicalLocation
	CostList []float64
	RankList []int
	NsList   []int
	NbList   []int
	NbTotal  int

	Rank   RankContext
	Blocks []*MeshBlock
	NbStart, NbEnd int

	Time, Dt, DtPrev float64
	Tlim             float64
	CFLNumber        float64
	Nlim             int
	Ncycle           int

	Balancer LoadBalancer
	Gen      MeshGenerator
	NVar     int

	// NewPhysics constructs the opaque per-block physics capability set;
	// nil leaves MeshBlock.Physics unset (e.g. for pure tree/balancer
	// tests that never run a TaskList).
	NewPhysics func(*MeshBlock) Block
}

func ceilLog2(n int64) int64 {
	if n <= 1 {
		return 0
	}
	l := int64(0)
	v := int64(1)
	for v < n {
		v <<= 1
		l++
	}
	return l
}

// validateMeshInput implements §4.4 step 1.
func validateMeshInput(in MeshInput, t TimeInput) error {
	dim := in.Size.Dim()
	if dim == 1 {
		if t.CFLNumber <= 0 || t.CFLNumber > 1.0 {
			return &ConfigError{Msg: "cfl_number must be in (0,1.0] for 1D"}
		}
	} else {
		if t.CFLNumber <= 0 || t.CFLNumber > 0.5 {
			return &ConfigError{Msg: "cfl_number must be in (0,0.5] for 2D/3D"}
		}
	}
	if t.Tlim <= t.StartTime {
		return &ConfigError{Msg: "time.tlim must be greater than time.start_time"}
	}
	if in.NumThreads < 1 {
		return &ConfigError{Msg: "mesh.num_threads must be >= 1"}
	}
	if err := in.Size.Validate(); err != nil {
		return err
	}
	if in.BlockNx1 <= 0 || in.Size.Nx1%in.BlockNx1 != 0 || in.BlockNx1 < 4 {
		return &ConfigError{Msg: "meshblock.nx1 must divide mesh.nx1 and be >= 4"}
	}
	if in.Size.Nx2 > 1 {
		if in.BlockNx2 <= 0 || in.Size.Nx2%in.BlockNx2 != 0 || in.BlockNx2 < 4 {
			return &ConfigError{Msg: "meshblock.nx2 must divide mesh.nx2 and be >= 4"}
		}
	}
	if in.Size.Nx3 > 1 {
		if in.BlockNx3 <= 0 || in.Size.Nx3%in.BlockNx3 != 0 || in.BlockNx3 < 4 {
			return &ConfigError{Msg: "meshblock.nx3 must divide mesh.nx3 and be >= 4"}
		}
	}
	if in.Refinement == "static" || in.Refinement == "adaptive" {
		if in.BlockNx1%2 != 0 {
			return &ConfigError{Msg: "multilevel requires even meshblock.nx1"}
		}
		if in.Size.Nx2 > 1 && in.BlockNx2%2 != 0 {
			return &ConfigError{Msg: "multilevel requires even meshblock.nx2"}
		}
		if in.Size.Nx3 > 1 && in.BlockNx3%2 != 0 {
			return &ConfigError{Msg: "multilevel requires even meshblock.nx3"}
		}
	}
	return nil
}

// NewMesh builds a fresh Mesh from validated input, per §4.4 steps 2-6.
func NewMesh(in MeshInput, t TimeInput, rc RankContext, nvar int, gen MeshGenerator, newPhysics func(*MeshBlock) Block) (*Mesh, error) {
	if err := validateMeshInput(in, t); err != nil {
		return nil, err
	}
	if gen == nil {
		gen = UniformGenerator{}
	}

	dim := in.Size.Dim()
	nrbx1 := int64(in.Size.Nx1 / in.BlockNx1)
	nrbx2 := int64(1)
	if in.Size.Nx2 > 1 {
		nrbx2 = int64(in.Size.Nx2 / in.BlockNx2)
	}
	nrbx3 := int64(1)
	if in.Size.Nx3 > 1 {
		nrbx3 = int64(in.Size.Nx3 / in.BlockNx3)
	}
	maxNrbx := nrbx1
	if nrbx2 > maxNrbx {
		maxNrbx = nrbx2
	}
	if nrbx3 > maxNrbx {
		maxNrbx = nrbx3
	}
	rootLevel := ceilLog2(maxNrbx)

	multilevel := in.Refinement == "static" || in.Refinement == "adaptive"
	adaptive := in.Refinement == "adaptive"

	var maxLevel int64 = MaxLevel
	if adaptive {
		maxLevel = rootLevel + int64(in.MaxLevel) - 1
		if maxLevel > MaxLevel {
			maxLevel = MaxLevel
		}
	}

	tree := NewBlockTree(dim, rootLevel, nrbx1, nrbx2, nrbx3)
	if err := tree.CreateRoot(); err != nil {
		return nil, err
	}

	for _, reg := range in.Regions {
		if err := addRefinementRegion(tree, in.Size, nrbx1, nrbx2, nrbx3, dim, rootLevel, gen, reg); err != nil {
			return nil, err
		}
	}

	m := &Mesh{
		Tree: tree, Size: in.Size, BCs: in.BCs, RootLevel: rootLevel, MaxLevel: maxLevel,
		Multilevel: multilevel, Adaptive: adaptive, NumThreads: in.NumThreads,
		NRBX: [3]int64{nrbx1, nrbx2, nrbx3},
		BlockNx1: in.BlockNx1, BlockNx2: in.BlockNx2, BlockNx3: in.BlockNx3,
		Rank: rc, Gen: gen, NVar: nvar, NewPhysics: newPhysics,
		Tlim: t.Tlim, CFLNumber: t.CFLNumber, Nlim: t.Nlim, Time: t.StartTime,
	}

	m.LocList = tree.EnumerateLeaves()
	m.NbTotal = len(m.LocList)
	m.CostList = make([]float64, m.NbTotal)
	for i := range m.CostList {
		m.CostList[i] = 1.0
	}

	if err := m.rebalance(); err != nil {
		return nil, err
	}
	m.buildLocalBlocks()
	return m, nil
}

// addRefinementRegion implements §4.4 step 4: clamp the region inside the
// mesh, compute its logical extent at the requested level via the
// coordinate generator, snap to an even/odd aligned rectangle, and add
// leaves in strides of 2 so every added leaf has a complete sibling set.
func addRefinementRegion(tree *BlockTree, size RegionSize, nrbx1, nrbx2, nrbx3 int64, dim int, rootLevel int64, gen MeshGenerator, reg RefinementRegion) error {
	level := rootLevel + int64(reg.Level)
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x1lo := clamp(reg.X1Min, size.X1Min, size.X1Max)
	x1hi := clamp(reg.X1Max, size.X1Min, size.X1Max)

	span1 := nrbx1 << uint(reg.Level)
	rLo1 := inverseMonotonic(func(r float64) float64 { return gen.X1(r, size) }, x1lo)
	rHi1 := inverseMonotonic(func(r float64) float64 { return gen.X1(r, size) }, x1hi)
	lo1, hi1 := snapRange(rLo1, rHi1, span1)

	lo2, hi2, stride2 := int64(0), int64(0), int64(1)
	if dim >= 2 {
		x2lo := clamp(reg.X2Min, size.X2Min, size.X2Max)
		x2hi := clamp(reg.X2Max, size.X2Min, size.X2Max)
		span2 := nrbx2 << uint(reg.Level)
		rLo2 := inverseMonotonic(func(r float64) float64 { return gen.X2(r, size) }, x2lo)
		rHi2 := inverseMonotonic(func(r float64) float64 { return gen.X2(r, size) }, x2hi)
		lo2, hi2 = snapRange(rLo2, rHi2, span2)
		stride2 = 2
	}
	lo3, hi3, stride3 := int64(0), int64(0), int64(1)
	if dim >= 3 {
		x3lo := clamp(reg.X3Min, size.X3Min, size.X3Max)
		x3hi := clamp(reg.X3Max, size.X3Min, size.X3Max)
		span3 := nrbx3 << uint(reg.Level)
		rLo3 := inverseMonotonic(func(r float64) float64 { return gen.X3(r, size) }, x3lo)
		rHi3 := inverseMonotonic(func(r float64) float64 { return gen.X3(r, size) }, x3hi)
		lo3, hi3 = snapRange(rLo3, rHi3, span3)
		stride3 = 2
	}

	for k := lo3; k <= hi3; k += stride3 {
		for j := lo2; j <= hi2; j += stride2 {
			for i := lo1; i <= hi1; i += 2 {
				if err := tree.AddLeaf(LogicalLocation{Level: level, Lx1: i, Lx2: j, Lx3: k}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func snapRange(rLo, rHi float64, span int64) (int64, int64) {
	lo := int64(math.Floor(rLo * float64(span)))
	hi := int64(math.Ceil(rHi*float64(span))) - 1
	if lo%2 != 0 {
		lo--
	}
	if hi%2 == 0 {
		hi++
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= span {
		hi = span - 1
	}
	if hi < lo {
		hi = lo + 1
	}
	return lo, hi
}

// rebalance runs the LoadBalancer over m.CostList and updates RankList/
// NsList/NbList, then recomputes this rank's [NbStart,NbEnd] window.
func (m *Mesh) rebalance() error {
	res, err := m.Balancer.Balance(m.CostList, m.Rank.NRanks)
	if err != nil {
		return err
	}
	m.RankList, m.NsList, m.NbList = res.RankList, res.NsList, res.NbList
	m.NbStart = m.NsList[m.Rank.Rank]
	m.NbEnd = m.NbStart + m.NbList[m.Rank.Rank] - 1
	return nil
}

// blockRegionSize computes the physical extent of the block at loc using
// the coordinate generator.
func (m *Mesh) blockRegionSize(loc LogicalLocation) RegionSize {
	span1 := m.NRBX[0] << uint(loc.Level-m.RootLevel)
	r0 := float64(loc.Lx1) / float64(span1)
	r1 := float64(loc.Lx1+1) / float64(span1)
	rs := RegionSize{
		X1Min: m.Gen.X1(r0, m.Size), X1Max: m.Gen.X1(r1, m.Size),
		Nx1: m.BlockNx1, X1Rat: m.Size.X1Rat,
		X2Min: m.Size.X2Min, X2Max: m.Size.X2Max, Nx2: 1, X2Rat: m.Size.X2Rat,
		X3Min: m.Size.X3Min, X3Max: m.Size.X3Max, Nx3: 1, X3Rat: m.Size.X3Rat,
	}
	if m.Size.Nx2 > 1 {
		span2 := m.NRBX[1] << uint(loc.Level-m.RootLevel)
		r0 := float64(loc.Lx2) / float64(span2)
		r1 := float64(loc.Lx2+1) / float64(span2)
		rs.X2Min, rs.X2Max, rs.Nx2 = m.Gen.X2(r0, m.Size), m.Gen.X2(r1, m.Size), m.BlockNx2
	}
	if m.Size.Nx3 > 1 {
		span3 := m.NRBX[2] << uint(loc.Level-m.RootLevel)
		r0 := float64(loc.Lx3) / float64(span3)
		r1 := float64(loc.Lx3+1) / float64(span3)
		rs.X3Min, rs.X3Max, rs.Nx3 = m.Gen.X3(r0, m.Size), m.Gen.X3(r1, m.Size), m.BlockNx3
	}
	return rs
}

// blockBCs derives the per-face BoundaryTags of a block: the mesh's own
// tag where the block touches the domain edge, BoundaryInternal otherwise.
func (m *Mesh) blockBCs(loc LogicalLocation) BoundaryTags {
	var bcs BoundaryTags
	span1 := m.NRBX[0] << uint(loc.Level-m.RootLevel)
	bcs[FaceInnerX1] = BoundaryInternal
	bcs[FaceOuterX1] = BoundaryInternal
	if loc.Lx1 == 0 {
		bcs[FaceInnerX1] = m.BCs[FaceInnerX1]
	}
	if loc.Lx1 == span1-1 {
		bcs[FaceOuterX1] = m.BCs[FaceOuterX1]
	}
	if m.Size.Nx2 > 1 {
		span2 := m.NRBX[1] << uint(loc.Level-m.RootLevel)
		bcs[FaceInnerX2] = BoundaryInternal
		bcs[FaceOuterX2] = BoundaryInternal
		if loc.Lx2 == 0 {
			bcs[FaceInnerX2] = m.BCs[FaceInnerX2]
		}
		if loc.Lx2 == span2-1 {
			bcs[FaceOuterX2] = m.BCs[FaceOuterX2]
		}
	}
	if m.Size.Nx3 > 1 {
		span3 := m.NRBX[2] << uint(loc.Level-m.RootLevel)
		bcs[FaceInnerX3] = BoundaryInternal
		bcs[FaceOuterX3] = BoundaryInternal
		if loc.Lx3 == 0 {
			bcs[FaceInnerX3] = m.BCs[FaceInnerX3]
		}
		if loc.Lx3 == span3-1 {
			bcs[FaceOuterX3] = m.BCs[FaceOuterX3]
		}
	}
	return bcs
}

// buildLocalBlocks constructs MeshBlocks for indices [NbStart,NbEnd] and
// populates their neighbor tables from the tree, per §4.4 step 6.
func (m *Mesh) buildLocalBlocks() {
	m.Blocks = make([]*MeshBlock, 0, m.NbList[m.Rank.Rank])
	for gid := m.NbStart; gid <= m.NbEnd; gid++ {
		loc := m.LocList[gid]
		size := m.blockRegionSize(loc)
		bcs := m.blockBCs(loc)
		mb := NewMeshBlock(gid, loc, size, bcs, m.NVar)
		mb.Lid = gid - m.NbStart
		mb.Cost = m.CostList[gid]
		if m.NewPhysics != nil {
			mb.Physics = m.NewPhysics(mb)
		}
		m.Blocks = append(m.Blocks, mb)
	}
	for _, mb := range m.Blocks {
		m.populateNeighbors(mb)
	}
}

// populateNeighbors fills mb.Neighbors from the tree, per §4.2. Buffer ids
// come from BufferID/FindBufferID's canonical per-direction slot
// arithmetic rather than a visitation counter, so BufID is unique per
// finer child and TargetBufID always names the exact slot the peer's own
// populateNeighbors call will have assigned to this relationship.
func (m *Mesh) populateNeighbors(mb *MeshBlock) {
	faceOnly := !(m.Multilevel)
	dim := m.Size.Dim()
	var nt NeighborTable
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				nt.NBLevel[k][j][i] = -1
			}
		}
	}
	nt.NBLevel[1][1][1] = int(mb.Loc.Level)

	for _, d := range directions() {
		ox1, ox2, ox3 := d[0], d[1], d[2]
		nty := neighborType(ox1, ox2, ox3)
		if faceOnly && nty != NeighborFace {
			continue
		}
		lookup, err := m.Tree.FindNeighbor(mb.Loc, ox1, ox2, ox3, mb.BCs)
		if err != nil {
			Logger.Warnf("mesh: neighbor search failed for %s dir(%d,%d,%d): %v", mb.Loc, ox1, ox2, ox3, err)
			continue
		}
		if !lookup.Found {
			continue
		}
		if lookup.Leaf {
			level := int(lookup.Loc.Level)
			if level > int(mb.Loc.Level) {
				continue
			}
			coarser := level < int(mb.Loc.Level)
			if nty == NeighborCorner && coarser && !isUniqueCornerSibling(mb.Loc, dim, ox1, ox2, ox3) {
				continue
			}
			bufID := BufferID(ox1, ox2, ox3, 0, 0, dim, m.Multilevel, faceOnly)
			targetFI1, targetFI2 := 0, 0
			if coarser {
				ownI, ownJ, ownK := octantBits(mb.Loc, dim, mb.Loc.Level-1)
				pos := m.Tree.siblingTouchPosition(ownI, ownJ, ownK, -ox1, -ox2, -ox3)
				targetFI1, targetFI2 = finerChildFI(pos)
			}
			targetBufID := BufferID(-ox1, -ox2, -ox3, targetFI1, targetFI2, dim, m.Multilevel, faceOnly)
			gid := m.findGidByLoc(lookup.Loc)
			nb := NeighborBlock{
				Rank: m.rankOf(gid), Level: level, Gid: gid, Lid: gid - m.NsList[m.rankOf(gid)],
				Ox1: ox1, Ox2: ox2, Ox3: ox3, Type: nty, BufID: bufID, TargetBufID: targetBufID,
			}
			nt.Neighbors = append(nt.Neighbors, nb)
			setNBLevel(&nt, ox1, ox2, ox3, level)
		} else {
			children := m.Tree.childrenTouching(lookup.NodeIndex, ox1, ox2, ox3)
			for ci, c := range children {
				if !m.Tree.NodeIsLeaf(c) {
					continue
				}
				cloc := m.Tree.NodeLoc(c)
				fi1, fi2 := finerChildFI(ci)
				bufID := BufferID(ox1, ox2, ox3, fi1, fi2, dim, m.Multilevel, faceOnly)
				targetBufID := BufferID(-ox1, -ox2, -ox3, 0, 0, dim, m.Multilevel, faceOnly)
				gid := m.findGidByLoc(cloc)
				nb := NeighborBlock{
					Rank: m.rankOf(gid), Level: int(cloc.Level), Gid: gid, Lid: gid - m.NsList[m.rankOf(gid)],
					Ox1: ox1, Ox2: ox2, Ox3: ox3, Type: nty, BufID: bufID, TargetBufID: targetBufID, FI1: fi1, FI2: fi2,
				}
				nt.Neighbors = append(nt.Neighbors, nb)
				setNBLevel(&nt, ox1, ox2, ox3, int(cloc.Level))
			}
		}
	}
	mb.Neighbors = nt
}

func setNBLevel(nt *NeighborTable, ox1, ox2, ox3, level int) {
	if nt.NBLevel[ox3+1][ox2+1][ox1+1] < level {
		nt.NBLevel[ox3+1][ox2+1][ox1+1] = level
	}
}

// findGidByLoc linearly searches the global location list; acceptable
// since nbtotal is small in the systems this package targets.
func (m *Mesh) findGidByLoc(loc LogicalLocation) int {
	for i, l := range m.LocList {
		if l == loc {
			return i
		}
	}
	return -1
}

func (m *Mesh) rankOf(gid int) int {
	if gid < 0 || gid >= len(m.RankList) {
		return -1
	}
	return m.RankList[gid]
}

// FindBlock performs a linear walk over the local block list, per §4.7.
func (m *Mesh) FindBlock(gid int) *MeshBlock {
	for _, mb := range m.Blocks {
		if mb.Gid == gid {
			return mb
		}
	}
	return nil
}

// GetTotalCells implements §4.7: nbtotal * nx1 * nx2 * nx3, assuming
// homogeneous blocks.
func (m *Mesh) GetTotalCells() uint64 {
	nx2 := m.BlockNx2
	if nx2 < 1 {
		nx2 = 1
	}
	nx3 := m.BlockNx3
	if nx3 < 1 {
		nx3 = 1
	}
	return uint64(m.NbTotal) * uint64(m.BlockNx1) * uint64(nx2) * uint64(nx3)
}

// NewTimeStep implements §4.7: min-reduce each local block's CFL dt, clamp
// to 2*dt_prev and tlim-time.
func (m *Mesh) NewTimeStep(collective Collective) error {
	dt := math.MaxFloat64
	for _, mb := range m.Blocks {
		if mb.Physics == nil {
			continue
		}
		bdt, err := mb.Physics.CFLTimeStep(mb)
		if err != nil {
			return fmt.Errorf("mesh: new_time_step: %w", err)
		}
		if bdt < dt {
			dt = bdt
		}
	}
	if collective != nil {
		reduced, err := collective.AllReduceMin(dt)
		if err != nil {
			return fmt.Errorf("mesh: new_time_step: %w", err)
		}
		dt = reduced
	}
	m.DtPrev = m.Dt
	if m.DtPrev > 0 && dt > 2*m.DtPrev {
		dt = 2 * m.DtPrev
	}
	if m.Time+dt > m.Tlim {
		dt = m.Tlim - m.Time
	}
	m.Dt = dt
	return nil
}

// TestConservation implements §4.7: a block-local volume-weighted sum of
// each conservative variable, sum-reduced across ranks and logged on rank
// 0.
func (m *Mesh) TestConservation(collective Collective) ([]float64, error) {
	sums := make([]float64, m.NVar)
	for _, mb := range m.Blocks {
		vol := 1.0
		vol *= (mb.Size.X1Max - mb.Size.X1Min) / float64(mb.Size.Nx1)
		if mb.Size.Nx2 > 1 {
			vol *= (mb.Size.X2Max - mb.Size.X2Min) / float64(mb.Size.Nx2)
		}
		if mb.Size.Nx3 > 1 {
			vol *= (mb.Size.X3Max - mb.Size.X3Min) / float64(mb.Size.Nx3)
		}
		blockSums := make([]float64, m.NVar)
		for v := 0; v < m.NVar; v++ {
			blockSums[v] = sumVar(mb, v)
		}
		floats.AddScaled(sums, vol, blockSums)
	}
	if collective != nil {
		reduced, err := collective.AllReduceSum(sums)
		if err != nil {
			return nil, fmt.Errorf("mesh: test_conservation: %w", err)
		}
		sums = reduced
	}
	if m.Rank.Rank == 0 {
		Logger.WithField("cycle", m.Ncycle).Infof("conservation totals: %v", sums)
	}
	return sums, nil
}

func sumVar(mb *MeshBlock, v int) float64 {
	total := 0.0
	is, ie := mb.Bounds.Is, mb.Bounds.Ie
	js, je := mb.Bounds.Js, mb.Bounds.Je
	if je < js {
		js, je = 0, 0
	}
	ks, ke := mb.Bounds.Ks, mb.Bounds.Ke
	if ke < ks {
		ks, ke = 0, 0
	}
	for k := ks; k <= ke; k++ {
		for j := js; j <= je; j++ {
			for i := is; i <= ie; i++ {
				total += mb.Cons.Get(v, k, j, i)
			}
		}
	}
	return total
}
