package mesh

import "fmt"

// BoundaryTag identifies the physical condition applied at one face of a
// block or the mesh. BoundaryInternal marks a face shared with another
// block rather than the domain edge.
type BoundaryTag int

const (
	BoundaryInternal BoundaryTag = iota - 1
	BoundaryReflecting
	BoundaryOutflow
	BoundaryPeriodic
	BoundaryUser
	BoundaryPolar
)

func (b BoundaryTag) String() string {
	switch b {
	case BoundaryInternal:
		return "internal"
	case BoundaryReflecting:
		return "reflecting"
	case BoundaryOutflow:
		return "outflow"
	case BoundaryPeriodic:
		return "periodic"
	case BoundaryUser:
		return "user"
	case BoundaryPolar:
		return "polar"
	default:
		return fmt.Sprintf("BoundaryTag(%d)", int(b))
	}
}

// Face names the six faces of a block in the order used by BoundaryTags
// and by the 3x3x3 neighbor direction offsets.
type Face int

const (
	FaceInnerX1 Face = iota
	FaceOuterX1
	FaceInnerX2
	FaceOuterX2
	FaceInnerX3
	FaceOuterX3
)

// BoundaryTags holds the six face boundary conditions of a block or the
// mesh as a whole.
type BoundaryTags [6]BoundaryTag

// RegionSize describes the physical extent and cell count of a block or
// the whole mesh.
type RegionSize struct {
	X1Min, X1Max float64
	X2Min, X2Max float64
	X3Min, X3Max float64
	Nx1, Nx2, Nx3 int
	X1Rat, X2Rat, X3Rat float64
}

// Dim returns the active dimensionality, per the rule in §3: dim = 1 +
// (nx2>1) + (nx3>1).
func (r RegionSize) Dim() int {
	dim := 1
	if r.Nx2 > 1 {
		dim++
	}
	if r.Nx3 > 1 {
		dim++
	}
	return dim
}

// Validate checks the invariants named in §3 and §4.4 step 1. ratMin and
// ratMax bound the stretch ratios (0.9, 1.1 per the spec).
func (r RegionSize) Validate() error {
	const ratMin, ratMax = 0.9, 1.1
	if r.X1Max <= r.X1Min {
		return &ConfigError{Msg: "x1max must be greater than x1min"}
	}
	if r.Nx2 > 1 && (r.X2Max <= r.X2Min) {
		return &ConfigError{Msg: "x2max must be greater than x2min"}
	}
	if r.Nx3 > 1 && (r.X3Max <= r.X3Min) {
		return &ConfigError{Msg: "x3max must be greater than x3min"}
	}
	if r.Nx3 > 1 && r.Nx2 <= 1 {
		return &ConfigError{Msg: "nx3 > 1 requires nx2 > 1"}
	}
	if r.Nx1 < 4 {
		return &ConfigError{Msg: "nx1 must be >= 4"}
	}
	if r.Nx2 > 1 && r.Nx2 < 4 {
		return &ConfigError{Msg: "nx2 must be >= 4 when active"}
	}
	if r.Nx3 > 1 && r.Nx3 < 4 {
		return &ConfigError{Msg: "nx3 must be >= 4 when active"}
	}
	for _, rat := range []float64{r.X1Rat, r.X2Rat, r.X3Rat} {
		if rat < ratMin || rat > ratMax {
			return &ConfigError{Msg: fmt.Sprintf("stretch ratio %v out of [%v,%v]", rat, ratMin, ratMax)}
		}
	}
	return nil
}
