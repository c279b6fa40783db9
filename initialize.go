package mesh

import "fmt"

// ResFlag selects which phase of §4.7's initialize(res_flag, input) to run.
type ResFlag int

const (
	// ResFlagCold runs problem generators before the shared boundary pass.
	ResFlagCold ResFlag = 0
	// ResFlagRestart skips problem generators (state came from a restart
	// file) but still runs the shared boundary pass.
	ResFlagRestart ResFlag = 1
	// ResFlagRefinement skips problem generators and reinitializes ghost
	// zones after a tree mutation.
	ResFlagRefinement ResFlag = 2
)

// Initialize implements §4.7's initialize(res_flag, input): on cold start
// it runs each block's problem generator and validates boundary tags;
// on every call it exchanges boundary buffers between same-rank blocks
// (prolongating into a receiver finer than its sender), converts
// conserved to primitive, and recomputes dt. It applies no physical
// boundary conditions: ghost zones at non-periodic domain faces are left
// as they are.
func (m *Mesh) Initialize(flag ResFlag, collective Collective) error {
	if flag == ResFlagCold {
		for _, mb := range m.Blocks {
			if err := m.checkBoundaryTags(mb); err != nil {
				return err
			}
			if mb.Physics != nil {
				if err := mb.Physics.ProblemInit(mb); err != nil {
					return fmt.Errorf("mesh: initialize: problem init at gid=%d: %w", mb.Gid, err)
				}
			}
		}
	}

	if err := m.ExchangeBoundaries(); err != nil {
		return err
	}
	if err := m.convertConservedToPrimitive(); err != nil {
		return err
	}
	return m.NewTimeStep(collective)
}

// checkBoundaryTags validates that a block with no neighbor on a given
// face carries a physical (non-internal) boundary tag, per §4.4/§6.
func (m *Mesh) checkBoundaryTags(mb *MeshBlock) error {
	for face := FaceInnerX1; face <= FaceOuterX3; face++ {
		if face == FaceInnerX2 && mb.Size.Nx2 <= 1 {
			continue
		}
		if face == FaceInnerX3 && mb.Size.Nx3 <= 1 {
			continue
		}
		hasNeighbor := false
		for _, nb := range mb.Neighbors.Neighbors {
			if nb.Type == NeighborFace && nb.FaceID() == int(face) {
				hasNeighbor = true
				break
			}
		}
		if !hasNeighbor && mb.BCs[face] == BoundaryInternal {
			return &ConfigError{Msg: fmt.Sprintf("gid=%d face %d has no neighbor and no physical boundary tag", mb.Gid, face)}
		}
	}
	return nil
}

// ExchangeBoundaries packs and unpacks one round of ghost-cell data
// between same-rank neighbors, prolongating into any neighbor that is
// finer than its sender. This is the in-process exchange exercised by
// tests and single-rank runs, and the per-cycle ghost refresh a TaskList's
// boundary-exchange task should call. Neighbors owned by another rank are
// skipped; mesh/rankio's SendBoundary/RecvBoundary are not called here.
func (m *Mesh) ExchangeBoundaries() error {
	byGid := make(map[int]*MeshBlock, len(m.Blocks))
	for _, mb := range m.Blocks {
		byGid[mb.Gid] = mb
	}
	buf := make([]float64, 0, 4096)
	for _, mb := range m.Blocks {
		if mb.Physics == nil {
			continue
		}
		for _, nb := range mb.Neighbors.Neighbors {
			peer, local := byGid[nb.Gid]
			if !local {
				continue // cross-rank exchange is mesh/rankio's job
			}
			n, err := mb.Physics.PackBoundary(mb, nb, buf[:cap(buf)])
			if err != nil {
				return fmt.Errorf("mesh: exchange: pack gid=%d: %w", mb.Gid, err)
			}
			recvNb := reverseNeighbor(nb, mb.Gid)
			if nb.Level > int(mb.Loc.Level) {
				if err := peer.Physics.Prolongate(peer, recvNb, buf[:n]); err != nil {
					return fmt.Errorf("mesh: exchange: prolongate gid=%d: %w", peer.Gid, err)
				}
				continue
			}
			if err := peer.Physics.UnpackBoundary(peer, recvNb, buf[:n]); err != nil {
				return fmt.Errorf("mesh: exchange: unpack gid=%d: %w", peer.Gid, err)
			}
		}
	}
	return nil
}

func reverseNeighbor(nb NeighborBlock, senderGid int) NeighborBlock {
	return NeighborBlock{
		Rank: nb.Rank, Level: nb.Level, Gid: senderGid,
		Ox1: -nb.Ox1, Ox2: -nb.Ox2, Ox3: -nb.Ox3,
		Type: nb.Type, BufID: nb.BufID, FI1: nb.FI1, FI2: nb.FI2,
	}
}

func (m *Mesh) convertConservedToPrimitive() error {
	for _, mb := range m.Blocks {
		copy(mb.Prim.Elements, mb.Cons.Elements)
	}
	return nil
}
