package mesh

import "gonum.org/v1/gonum/floats"

// LoadBalancer converts a per-block cost vector into a rank assignment and
// per-rank start/count vectors, per §4.3.
type LoadBalancer struct {
	// TestMode downgrades a CapacityError (nbtotal < nranks) to a warning.
	TestMode bool
}

// Result holds the balancer's output.
type Result struct {
	RankList []int
	NsList   []int
	NbList   []int
}

// Balance implements the sweep-from-the-top algorithm of §4.3: blocks are
// swept from the highest global index downward, accumulating cost and
// assigning ranks from nranks-1 down to 0, so the coordinator (rank 0)
// receives slightly less load than the others.
func (b *LoadBalancer) Balance(costList []float64, nranks int) (Result, error) {
	nbtotal := len(costList)
	if nbtotal < nranks {
		if !b.TestMode {
			return Result{}, &CapacityError{NbTotal: nbtotal, NRanks: nranks}
		}
		Logger.Warnf("mesh: balancer: nbtotal=%d < nranks=%d, proceeding in test mode", nbtotal, nranks)
	}

	rankList := make([]int, nbtotal)

	uniform := true
	if nbtotal > 0 {
		c0 := costList[0]
		for _, c := range costList {
			if c != c0 {
				uniform = false
				break
			}
		}
	}
	if uniform && nranks > 0 && nbtotal%nranks != 0 {
		Logger.Warnf("mesh: balancer: nbtotal=%d is not evenly divisible by nranks=%d with uniform costs", nbtotal, nranks)
	}

	total := floats.Sum(costList)

	if nranks <= 0 {
		return Result{}, &ConfigError{Msg: "nranks must be positive"}
	}

	rank := nranks - 1
	remaining := total
	target := remaining / float64(nranks)
	running := 0.0
	for i := nbtotal - 1; i >= 0; i-- {
		rankList[i] = rank
		running += costList[i]
		remaining -= costList[i]
		if running >= target && rank > 0 {
			rank--
			running = 0.0
			if rank+1 > 0 {
				target = remaining / float64(rank+1)
			}
		}
	}

	nsList := make([]int, nranks)
	nbList := make([]int, nranks)
	for r := 0; r < nranks; r++ {
		nsList[r] = -1
	}
	for i, r := range rankList {
		if nsList[r] < 0 {
			nsList[r] = i
		}
		nbList[r]++
	}
	for r := 0; r < nranks; r++ {
		if nsList[r] < 0 {
			nsList[r] = 0
		}
	}
	return Result{RankList: rankList, NsList: nsList, NbList: nbList}, nil
}
