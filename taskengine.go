package mesh

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskStatus is the result of driving one task of one block forward by one
// step, per §4.5.
type TaskStatus int

const (
	// TaskIncomplete reports the task suspended (e.g. awaiting a pending
	// boundary buffer) and should be retried on a later pass.
	TaskIncomplete TaskStatus = iota
	// TaskComplete reports the task ran to completion.
	TaskComplete
)

// taskState is a block's task-progress bookkeeping: a 256-bit "done" bitset
// (four 64-bit words, one bit per declared task, per §4.5) plus the index
// of the next undone task and a remaining-count fast path.
type taskState struct {
	done         [4]uint64
	firstTask    int
	numTasksTodo int
}

func (s *taskState) reset(numTasks int) {
	s.done = [4]uint64{}
	s.firstTask = 0
	s.numTasksTodo = numTasks
}

func (s *taskState) isDone(id int) bool {
	return s.done[id/64]&(uint64(1)<<uint(id%64)) != 0
}

func (s *taskState) markDone(id int) {
	if !s.isDone(id) {
		s.done[id/64] |= uint64(1) << uint(id%64)
		s.numTasksTodo--
	}
}

func (s *taskState) complete() bool { return s.numTasksTodo <= 0 }

// TaskList is injected per run (per problem module): it names how many
// tasks each cycle through UpdateOneStep declares and drives one task of
// one block forward by exactly one step.
type TaskList interface {
	// NumTasks returns the number of declared tasks (<= 256, per the
	// four-word bitset).
	NumTasks() int
	// DoOneTask advances task taskID of mb, which the engine picks as mb's
	// lowest not-yet-done task, and reports whether that task completed.
	// Implementations consult (and update) mb.Physics and mb.Neighbors
	// directly; the engine records which task ids are done.
	DoOneTask(mb *MeshBlock, taskID int) (TaskStatus, error)
}

// TaskEngine drives UpdateOneStep across a rank's local blocks, per §4.5:
// a single-threaded cooperative round-robin scheduler, with data-parallel
// loops inside a kernel provided by a bounded errgroup when NumThreads > 1.
type TaskEngine struct {
	Mesh *Mesh
	List TaskList
}

// UpdateOneStep implements §4.5 steps 1-3: reset bookkeeping and arm
// receive intents, round-robin DoOneTask until every local block is
// complete, then clear intents.
func (e *TaskEngine) UpdateOneStep(dt float64) error {
	numTasks := e.List.NumTasks()
	for _, mb := range e.Mesh.Blocks {
		mb.tasks.reset(numTasks)
	}
	if err := e.armReceiveIntents(); err != nil {
		return err
	}

	remaining := len(e.Mesh.Blocks)
	for remaining > 0 {
		remaining = 0
		for _, mb := range e.Mesh.Blocks {
			if mb.tasks.complete() {
				continue
			}
			taskID := mb.tasks.firstTask
			for taskID < numTasks && mb.tasks.isDone(taskID) {
				taskID++
			}
			mb.tasks.firstTask = taskID
			if taskID >= numTasks {
				continue
			}
			status, err := e.List.DoOneTask(mb, taskID)
			if err != nil {
				return err
			}
			if status == TaskComplete {
				mb.tasks.markDone(taskID)
			}
			if !mb.tasks.complete() {
				remaining++
			}
		}
	}
	e.clearReceiveIntents()
	return nil
}

// armReceiveIntents and clearReceiveIntents bracket one step's boundary
// exchange window. armReceiveIntents only rewinds each block's firstTask
// and clearReceiveIntents does nothing: no receive buffers are posted or
// cancelled here, locally or through mesh/rankio.
func (e *TaskEngine) armReceiveIntents() error {
	for _, mb := range e.Mesh.Blocks {
		mb.tasks.firstTask = 0
	}
	return nil
}

func (e *TaskEngine) clearReceiveIntents() {}

// RunDataParallel fans work fn out across the engine's local blocks using
// an errgroup bounded by Mesh.NumThreads, for use inside a physics
// kernel's StepAdvance implementation, per SPEC_FULL §4.5's data-parallel
// note.
func (e *TaskEngine) RunDataParallel(ctx context.Context, fn func(mb *MeshBlock) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if e.Mesh.NumThreads >= 1 {
		g.SetLimit(e.Mesh.NumThreads)
	}
	for _, mb := range e.Mesh.Blocks {
		mb := mb
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(mb)
		})
	}
	return g.Wait()
}
