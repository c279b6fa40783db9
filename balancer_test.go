package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4: 10 blocks on 4 ranks with uniform cost -> counts {2,2,3,3}, rank 0
// receiving 2 (10 is not a multiple of 4, so the two lowest ranks each get
// one block fewer).
func TestLoadBalancer_UniformS4(t *testing.T) {
	costs := make([]float64, 10)
	for i := range costs {
		costs[i] = 1.0
	}
	var lb LoadBalancer
	res, err := lb.Balance(costs, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3, 3}, res.NbList)
	assert.Equal(t, 2, res.NbList[0])
}

// Invariant 2: per-rank windows are contiguous and sum to nbtotal.
func TestLoadBalancer_ContiguousWindows(t *testing.T) {
	costs := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	var lb LoadBalancer
	res, err := lb.Balance(costs, 3)
	require.NoError(t, err)

	sum := 0
	for r := 0; r < 3; r++ {
		sum += res.NbList[r]
		for i := res.NsList[r]; i < res.NsList[r]+res.NbList[r]; i++ {
			assert.Equal(t, r, res.RankList[i])
		}
	}
	assert.Equal(t, len(costs), sum)
}

// Invariant 3: with non-uniform costs, rank 0 never exceeds the average.
func TestLoadBalancer_Rank0BelowAverage(t *testing.T) {
	costs := []float64{10, 1, 1, 1, 1, 1, 1, 1}
	var lb LoadBalancer
	res, err := lb.Balance(costs, 4)
	require.NoError(t, err)

	total := 0.0
	for _, c := range costs {
		total += c
	}
	avg := total / 4
	rank0Cost := 0.0
	for i, r := range res.RankList {
		if r == 0 {
			rank0Cost += costs[i]
		}
	}
	assert.LessOrEqual(t, rank0Cost, avg)
}

func TestLoadBalancer_CapacityError(t *testing.T) {
	var lb LoadBalancer
	_, err := lb.Balance([]float64{1, 1}, 4)
	var capErr *CapacityError
	assert.ErrorAs(t, err, &capErr)
}

func TestLoadBalancer_TestModeAllowsUndercapacity(t *testing.T) {
	lb := LoadBalancer{TestMode: true}
	res, err := lb.Balance([]float64{1, 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, len(res.RankList))
}
