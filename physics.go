package mesh

// Block is the capability set a problem module implements to plug its
// physics into the task engine, per design note §9: a single small
// interface stands in for the teacher's DomainManipulator pipeline,
// letting MeshBlock stay ignorant of any particular equation set.
type Block interface {
	// ProblemInit fills mb.Cons with the initial condition.
	ProblemInit(mb *MeshBlock) error

	// StepAdvance integrates mb by dt, writing the updated state back into
	// mb.Cons. stage is 0-indexed within whatever multi-stage integrator
	// the implementation uses (0 for a single-stage scheme).
	StepAdvance(mb *MeshBlock, dt float64, stage int) error

	// PackBoundary serializes the ghost-cell layer mb shares with nb into
	// buf, returning the number of float64s written.
	PackBoundary(mb *MeshBlock, nb NeighborBlock, buf []float64) (int, error)

	// UnpackBoundary deserializes buf (as produced by the sender's
	// PackBoundary) into mb's ghost-cell layer facing nb.
	UnpackBoundary(mb *MeshBlock, nb NeighborBlock, buf []float64) error

	// Prolongate fills mb's ghost zones facing a coarser neighbor by
	// interpolating from that neighbor's coarse-array snapshot in buf.
	Prolongate(mb *MeshBlock, nb NeighborBlock, buf []float64) error

	// Restrict fills mb.CoarseBounds with a volume-averaged down-sampling
	// of mb.Cons, used both to feed a coarser neighbor's Prolongate and to
	// reassign cost/state across a derefinement.
	Restrict(mb *MeshBlock) error

	// CFLTimeStep returns the largest stable dt for mb's current state.
	CFLTimeStep(mb *MeshBlock) (float64, error)
}

// Collective abstracts the cross-rank reductions the control loop needs
// (new_time_step's min-reduce, test_conservation's sum-reduce) behind an
// interface so a single-rank run can supply a no-op implementation and a
// multi-rank run can supply mesh/rankio's net/rpc-backed one.
type Collective interface {
	AllReduceMin(v float64) (float64, error)
	AllReduceSum(v []float64) ([]float64, error)
	AllGather(v float64) ([]float64, error)
	Barrier() error
}
