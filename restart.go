package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// restartMagic tags the header of a restart file produced by WriteRestart.
const restartMagic uint32 = 0x4d455348 // "MESH"

// blockRecord is the fixed-size per-block metadata row of a restart file,
// per §6: gid, location, cost, and a payload offset field. WriteRestart
// always writes PayloadOffset as 0, and NewMeshFromRestart never reads it:
// payloads follow the records in gid order and are read sequentially.
type blockRecord struct {
	Gid                    int64
	Level, Lx1, Lx2, Lx3   int64
	Cost                   float64
	PayloadOffset          int64
}

// WriteRestart writes the binary restart codec described in §6, with every
// multi-byte value little-endian regardless of host byte order: a header
// (nbtotal, root_level, mesh geometry, boundary tags, time state), one
// blockRecord per global block, then each local block's payload (size,
// bcs, conserved array). Only this rank's own blocks' payloads are
// serialized, and nothing in this module merges the output of several
// ranks into one file; a single-process run writes a complete file.
func (m *Mesh) WriteRestart(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := binary.LittleEndian

	if err := writeFields(bw, enc,
		restartMagic, uint32(m.NbTotal), uint32(m.RootLevel),
		m.Size.X1Min, m.Size.X1Max, m.Size.X2Min, m.Size.X2Max, m.Size.X3Min, m.Size.X3Max,
		int32(m.Size.Nx1), int32(m.Size.Nx2), int32(m.Size.Nx3),
		m.Size.X1Rat, m.Size.X2Rat, m.Size.X3Rat,
		int32(m.BCs[0]), int32(m.BCs[1]), int32(m.BCs[2]), int32(m.BCs[3]), int32(m.BCs[4]), int32(m.BCs[5]),
		int32(m.BlockNx1), int32(m.BlockNx2), int32(m.BlockNx3),
		m.Time, m.Dt, m.DtPrev, int64(m.Ncycle),
	); err != nil {
		return &IOError{Op: "write restart header", Err: err}
	}

	for i, loc := range m.LocList {
		rec := blockRecord{
			Gid: int64(i), Level: loc.Level, Lx1: loc.Lx1, Lx2: loc.Lx2, Lx3: loc.Lx3,
			Cost: m.CostList[i],
		}
		if err := binary.Write(bw, enc, rec); err != nil {
			return &IOError{Op: "write restart block record", Err: err}
		}
	}

	for _, mb := range m.Blocks {
		if err := writeBlockPayload(bw, enc, mb); err != nil {
			return &IOError{Op: fmt.Sprintf("write restart payload gid=%d", mb.Gid), Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Op: "flush restart file", Err: err}
	}
	return nil
}

func writeBlockPayload(w io.Writer, enc binary.ByteOrder, mb *MeshBlock) error {
	if err := writeFields(w, enc,
		int64(mb.Gid),
		int32(mb.Size.Nx1), int32(mb.Size.Nx2), int32(mb.Size.Nx3),
		mb.Size.X1Min, mb.Size.X1Max, mb.Size.X2Min, mb.Size.X2Max, mb.Size.X3Min, mb.Size.X3Max,
		int32(mb.BCs[0]), int32(mb.BCs[1]), int32(mb.BCs[2]), int32(mb.BCs[3]), int32(mb.BCs[4]), int32(mb.BCs[5]),
		int64(len(mb.Cons.Elements)),
	); err != nil {
		return err
	}
	return binary.Write(w, enc, mb.Cons.Elements)
}

func writeFields(w io.Writer, enc binary.ByteOrder, fields ...interface{}) error {
	for _, f := range fields {
		if err := binary.Write(w, enc, f); err != nil {
			return err
		}
	}
	return nil
}

// restartHeader is the decoded form of WriteRestart's fixed header.
type restartHeader struct {
	NbTotal, RootLevel int
	Size               RegionSize
	BCs                BoundaryTags
	BlockNx1, BlockNx2, BlockNx3 int
	Time, Dt, DtPrev   float64
	Ncycle             int
}

// ReadRestartHeader decodes the fixed-size header of a restart file
// produced by WriteRestart, returning a CorruptedRestartError on any
// short read or bad magic.
func ReadRestartHeader(r io.Reader) (restartHeader, error) {
	enc := binary.LittleEndian
	var magic, nbtotal, rootLevel uint32
	var h restartHeader
	var nx1, nx2, nx3 int32
	var bc [6]int32
	var bnx1, bnx2, bnx3 int32
	var ncycle int64

	fields := []interface{}{
		&magic, &nbtotal, &rootLevel,
		&h.Size.X1Min, &h.Size.X1Max, &h.Size.X2Min, &h.Size.X2Max, &h.Size.X3Min, &h.Size.X3Max,
		&nx1, &nx2, &nx3,
		&h.Size.X1Rat, &h.Size.X2Rat, &h.Size.X3Rat,
		&bc[0], &bc[1], &bc[2], &bc[3], &bc[4], &bc[5],
		&bnx1, &bnx2, &bnx3,
		&h.Time, &h.Dt, &h.DtPrev, &ncycle,
	}
	for _, f := range fields {
		if err := binary.Read(r, enc, f); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return restartHeader{}, &CorruptedRestartError{Msg: "truncated restart header"}
			}
			return restartHeader{}, &IOError{Op: "read restart header", Err: err}
		}
	}
	if magic != restartMagic {
		return restartHeader{}, &CorruptedRestartError{Msg: "bad restart magic"}
	}
	h.NbTotal, h.RootLevel = int(nbtotal), int(rootLevel)
	h.Size.Nx1, h.Size.Nx2, h.Size.Nx3 = int(nx1), int(nx2), int(nx3)
	for i := range bc {
		h.BCs[i] = BoundaryTag(bc[i])
	}
	h.BlockNx1, h.BlockNx2, h.BlockNx3 = int(bnx1), int(bnx2), int(bnx3)
	h.Ncycle = int(ncycle)
	return h, nil
}

// ReadRestartBlockRecords decodes h.NbTotal blockRecord rows immediately
// following the header.
func ReadRestartBlockRecords(r io.Reader, nbtotal int) ([]LogicalLocation, []float64, error) {
	locs := make([]LogicalLocation, nbtotal)
	costs := make([]float64, nbtotal)
	for i := 0; i < nbtotal; i++ {
		var rec blockRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, nil, &CorruptedRestartError{Msg: fmt.Sprintf("truncated block record %d of %d", i, nbtotal)}
			}
			return nil, nil, &IOError{Op: "read restart block record", Err: err}
		}
		locs[i] = LogicalLocation{Level: rec.Level, Lx1: rec.Lx1, Lx2: rec.Lx2, Lx3: rec.Lx3}
		costs[i] = rec.Cost
	}
	return locs, costs, nil
}

// NewMeshFromRestart rebuilds a Mesh's tree, cost list, balance, and local
// blocks from a restart file, then reads each local block's payload in
// turn, per §6/§4.4's restart construction path.
func NewMeshFromRestart(r io.Reader, rc RankContext, refinement string, userMaxLevel int, nvar int, gen MeshGenerator, newPhysics func(*MeshBlock) Block) (*Mesh, error) {
	h, err := ReadRestartHeader(r)
	if err != nil {
		return nil, err
	}
	locs, costs, err := ReadRestartBlockRecords(r, h.NbTotal)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		gen = UniformGenerator{}
	}

	dim := h.Size.Dim()
	nrbx1 := h.Size.Nx1 / h.BlockNx1
	nrbx2, nrbx3 := 1, 1
	if h.Size.Nx2 > 1 {
		nrbx2 = h.Size.Nx2 / h.BlockNx2
	}
	if h.Size.Nx3 > 1 {
		nrbx3 = h.Size.Nx3 / h.BlockNx3
	}

	tree := NewBlockTree(dim, int64(h.RootLevel), int64(nrbx1), int64(nrbx2), int64(nrbx3))
	for _, loc := range locs {
		if err := tree.AddWithoutRefine(loc); err != nil {
			return nil, fmt.Errorf("mesh: restart: rebuilding tree: %w", err)
		}
	}

	multilevel := refinement == "static" || refinement == "adaptive"
	adaptive := refinement == "adaptive"
	maxLevel := int64(MaxLevel)
	if adaptive {
		maxLevel = int64(h.RootLevel) + int64(userMaxLevel) - 1
		if maxLevel > MaxLevel {
			maxLevel = MaxLevel
		}
	}

	m := &Mesh{
		Tree: tree, Size: h.Size, BCs: h.BCs, RootLevel: int64(h.RootLevel), MaxLevel: maxLevel,
		Multilevel: multilevel, Adaptive: adaptive, NumThreads: 1,
		NRBX: [3]int64{int64(nrbx1), int64(nrbx2), int64(nrbx3)},
		BlockNx1: h.BlockNx1, BlockNx2: h.BlockNx2, BlockNx3: h.BlockNx3,
		Rank: rc, Gen: gen, NVar: nvar, NewPhysics: newPhysics,
		Time: h.Time, Dt: h.Dt, DtPrev: h.DtPrev, Ncycle: h.Ncycle,
	}
	m.LocList = tree.EnumerateLeaves()
	if len(m.LocList) != h.NbTotal {
		return nil, &CorruptedRestartError{Msg: fmt.Sprintf("rebuilt tree has %d leaves, restart declared %d", len(m.LocList), h.NbTotal)}
	}
	m.NbTotal = h.NbTotal
	m.CostList = costs

	if err := m.rebalance(); err != nil {
		return nil, err
	}
	m.buildLocalBlocks()

	for _, mb := range m.Blocks {
		if err := readBlockPayload(r, mb); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readBlockPayload(r io.Reader, mb *MeshBlock) error {
	enc := binary.LittleEndian
	var gid int64
	var nx1, nx2, nx3 int32
	var x1min, x1max, x2min, x2max, x3min, x3max float64
	var bc [6]int32
	var n int64
	fields := []interface{}{
		&gid, &nx1, &nx2, &nx3,
		&x1min, &x1max, &x2min, &x2max, &x3min, &x3max,
		&bc[0], &bc[1], &bc[2], &bc[3], &bc[4], &bc[5],
		&n,
	}
	for _, f := range fields {
		if err := binary.Read(r, enc, f); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return &CorruptedRestartError{Msg: fmt.Sprintf("truncated payload header for gid=%d", mb.Gid)}
			}
			return &IOError{Op: "read restart payload header", Err: err}
		}
	}
	if int(gid) != mb.Gid {
		return &CorruptedRestartError{Msg: fmt.Sprintf("payload gid mismatch: expected %d, got %d", mb.Gid, gid)}
	}
	if int(n) != len(mb.Cons.Elements) {
		return &CorruptedRestartError{Msg: fmt.Sprintf("payload size mismatch for gid=%d: expected %d, got %d", mb.Gid, len(mb.Cons.Elements), n)}
	}
	if err := binary.Read(r, enc, mb.Cons.Elements); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return &CorruptedRestartError{Msg: fmt.Sprintf("truncated payload data for gid=%d", mb.Gid)}
		}
		return &IOError{Op: "read restart payload data", Err: err}
	}
	return nil
}
