package mesh

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// RefineFlag is a block's local refinement decision, per §4.6 step 2.
type RefineFlag int

const (
	RefineDerefine RefineFlag = -1
	RefineKeep     RefineFlag = 0
	RefineUp       RefineFlag = 1
)

// RefinementDecider computes each local block's refine flag for the
// current cycle; a problem module supplies one (typically thresholding
// some gradient of mb.Prim).
type RefinementDecider interface {
	RefineFlag(mb *MeshBlock) RefineFlag
}

// AdaptMesh runs the refinement cycle of §4.6. collective carries the
// cost/flag/location allgathers across ranks; a nil collective is valid
// for a single-rank run and degenerates every "allgather across ranks"
// step to "use this rank's own data".
func (m *Mesh) AdaptMesh(decider RefinementDecider, collective Collective) error {
	if !m.Adaptive {
		return nil
	}

	// Step 1: start the cost allgather early; we only need the result at
	// step 7, so it overlaps with flag collection and filtering below.
	costCh := make(chan []float64, 1)
	costErrCh := make(chan error, 1)
	go func() {
		if collective == nil {
			costCh <- m.CostList
			costErrCh <- nil
			return
		}
		// The real allgatherv of per-rank cost *slices* is mesh/rankio's
		// job; here we only need the round-trip to complete before step 7.
		_, err := collective.AllGather(localCostSum(m))
		costCh <- nil
		costErrCh <- err
	}()

	// Step 2: compute local flags, count refine/derefine.
	flags := make(map[int]RefineFlag, len(m.Blocks))
	nRefineLocal, nDerefineLocal := 0, 0
	for _, mb := range m.Blocks {
		f := decider.RefineFlag(mb)
		flags[mb.Gid] = f
		switch f {
		case RefineUp:
			nRefineLocal++
		case RefineDerefine:
			nDerefineLocal++
		}
	}

	nRefine, nDerefine := nRefineLocal, nDerefineLocal
	if collective != nil {
		counts, err := collective.AllReduceSum([]float64{float64(nRefineLocal), float64(nDerefineLocal)})
		if err != nil {
			return err
		}
		nRefine, nDerefine = int(counts[0]), int(counts[1])
	}

	// A derefine count below one full sibling group can never assemble a
	// complete group, so it is never worth paying for the grouping pass.
	minbl := 1 << uint(m.Size.Dim())
	if nRefine == 0 && nDerefine < minbl {
		<-costCh
		if err := <-costErrCh; err != nil {
			return err
		}
		return nil
	}

	// Step 4/5: gather flagged locations (local-only in the single-rank
	// fallback; mesh/rankio's collective fills in cross-rank flags), then
	// filter derefine candidates down to complete, same-parent sibling
	// groups.
	refineLocs := make([]LogicalLocation, 0, nRefineLocal)
	derefineCandidates := make(map[LogicalLocation][]LogicalLocation)
	for _, mb := range m.Blocks {
		switch flags[mb.Gid] {
		case RefineUp:
			refineLocs = append(refineLocs, mb.Loc)
		case RefineDerefine:
			p := mb.Loc.Parent()
			derefineCandidates[p] = append(derefineCandidates[p], mb.Loc)
		}
	}

	noct := 1 << uint(m.Size.Dim())
	var clderef []LogicalLocation
	for parent, kids := range derefineCandidates {
		if len(kids) != noct {
			Logger.Debugf("mesh: refinement: incomplete sibling group at parent %s (%d of %d), deferring", parent, len(kids), noct)
			continue
		}
		clderef = append(clderef, parent)
	}
	sort.Slice(clderef, func(i, j int) bool { return lessLevelDescending(clderef[i], clderef[j]) })

	// Step 6: apply refinement first (so a subsequent two-level-jump check
	// against already-split neighbors sees the final state), then
	// derefinement, rejecting any derefine that would create a two-level
	// jump across a face.
	for _, loc := range refineLocs {
		if loc.Level >= m.MaxLevel {
			Logger.Warnf("mesh: refinement: %s already at max level, skipping refine", loc)
			continue
		}
		if err := m.Tree.AddLeaf(loc.Child(0, 0, 0)); err != nil {
			return err
		}
	}
	for _, parent := range clderef {
		if m.wouldCreateTwoLevelJump(parent) {
			Logger.Infof("%v", &RefinementRejectedError{Loc: parent, Reason: "derefinement would create a two-level jump across a face"})
			continue
		}
		if err := m.Tree.Collapse(parent); err != nil {
			return err
		}
	}

	// Step 7: resolve the async cost gather, reassign costs, rebalance,
	// rebuild local blocks and neighbor tables, reinit ghost zones.
	<-costCh
	if err := <-costErrCh; err != nil {
		return err
	}
	m.reassignCosts(clderef)
	m.LocList = m.Tree.EnumerateLeaves()
	m.NbTotal = len(m.LocList)
	if err := m.rebalance(); err != nil {
		return err
	}
	m.buildLocalBlocks()
	return m.Initialize(ResFlagRefinement, collective)
}

func localCostSum(m *Mesh) float64 {
	costs := make([]float64, len(m.Blocks))
	for i, mb := range m.Blocks {
		costs[i] = mb.Cost
	}
	return floats.Sum(costs)
}

// wouldCreateTwoLevelJump reports whether collapsing parent would leave a
// neighbor more than one level finer across any shared face, per §4.6's
// failure semantics.
func (m *Mesh) wouldCreateTwoLevelJump(parent LogicalLocation) bool {
	for _, d := range directions() {
		nty := neighborType(d[0], d[1], d[2])
		if nty != NeighborFace {
			continue
		}
		lookup, err := m.Tree.FindNeighbor(parent, d[0], d[1], d[2], m.BCs)
		if err != nil || !lookup.Found {
			continue
		}
		if !lookup.Leaf {
			// An interior node here is refined to at least parent.Level+1,
			// which is a one-level jump after the collapse; the jump is two
			// levels only where a child of it facing parent is refined too.
			for _, c := range m.Tree.childrenTouching(lookup.NodeIndex, d[0], d[1], d[2]) {
				if !m.Tree.NodeIsLeaf(c) {
					return true
				}
			}
			continue
		}
		if lookup.Loc.Level > parent.Level+1 {
			return true
		}
	}
	return false
}

// reassignCosts implements §4.6 step 7's cost bookkeeping: a refined
// parent's cost splits uniformly across its new children; a derefined
// sibling group's costs sum into the surviving parent. Costs for
// untouched leaves are looked up by location from the prior cost list.
func (m *Mesh) reassignCosts(clderef []LogicalLocation) {
	prevCost := make(map[LogicalLocation]float64, len(m.LocList))
	for i, loc := range m.LocList {
		if i < len(m.CostList) {
			prevCost[loc] = m.CostList[i]
		}
	}
	derefSet := make(map[LogicalLocation]bool, len(clderef))
	for _, p := range clderef {
		derefSet[p] = true
	}

	newLoc := m.Tree.EnumerateLeaves()
	newCost := make([]float64, len(newLoc))
	noct := 1 << uint(m.Size.Dim())
	for i, loc := range newLoc {
		if c, ok := prevCost[loc]; ok {
			newCost[i] = c
			continue
		}
		if derefSet[loc] {
			sum := 0.0
			for oct := 0; oct < noct; oct++ {
				childLoc := loc.Child(octantBitsFromIndex(oct, m.Size.Dim()))
				if c, ok := prevCost[childLoc]; ok {
					sum += c
				}
			}
			if sum == 0 {
				sum = 1.0
			}
			newCost[i] = sum
			continue
		}
		if pc, ok := prevCost[loc.Parent()]; ok {
			newCost[i] = pc / float64(noct)
			continue
		}
		newCost[i] = 1.0
	}
	m.CostList = newCost
}

func octantBitsFromIndex(oct, dim int) (i, j, k int) {
	i = oct & 1
	if dim >= 2 {
		j = (oct >> 1) & 1
	}
	if dim >= 3 {
		k = (oct >> 2) & 1
	}
	return
}
