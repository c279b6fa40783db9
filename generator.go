package mesh

import "math"

// MeshGenerator maps a fractional logical position r in [0,1] to the
// physical coordinate along one axis of the root domain, per §6's
// MeshGeneratorX{1,2,3}. Implementations must be monotonically increasing
// in r.
type MeshGenerator interface {
	X1(r float64, size RegionSize) float64
	X2(r float64, size RegionSize) float64
	X3(r float64, size RegionSize) float64
}

// UniformGenerator implements a geometrically stretched (or, at ratio 1,
// uniform) coordinate mapping, the default used when no problem-specific
// generator is supplied.
type UniformGenerator struct{}

func stretched(r, lo, hi, rat float64) float64 {
	if math.Abs(rat-1.0) < 1e-12 {
		return lo + r*(hi-lo)
	}
	// Geometric stretch: cell widths grow by `rat` per unit of r.
	return lo + (hi-lo)*(math.Pow(rat, r)-1)/(rat-1)
}

func (UniformGenerator) X1(r float64, s RegionSize) float64 { return stretched(r, s.X1Min, s.X1Max, s.X1Rat) }
func (UniformGenerator) X2(r float64, s RegionSize) float64 { return stretched(r, s.X2Min, s.X2Max, s.X2Rat) }
func (UniformGenerator) X3(r float64, s RegionSize) float64 { return stretched(r, s.X3Min, s.X3Max, s.X3Rat) }

// inverseMonotonic recovers r in [0,1] such that f(r) == x, by bisection.
// f must be monotonically increasing, per the MeshGenerator contract.
func inverseMonotonic(f func(float64) float64, x float64) float64 {
	lo, hi := 0.0, 1.0
	flo, fhi := f(lo), f(hi)
	if x <= flo {
		return 0
	}
	if x >= fhi {
		return 1
	}
	for iter := 0; iter < 64; iter++ {
		mid := (lo + hi) / 2
		if f(mid) < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
