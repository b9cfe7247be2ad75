package job

import (
	"math"

	"github.com/G-Research/paramsweep/internal/sweep/params"
)

// BestResult is the lowest fitness seen so far and the job that produced it.
type BestResult struct {
	Fitness    float64
	Identity   string
	Parameters params.ParameterSet
}

func NoBestResult() BestResult {
	return BestResult{Fitness: math.Inf(1)}
}

func (b BestResult) Found() bool {
	return b.Identity != ""
}

// Update returns the best result after considering d. A job wins on lower or equal fitness; jobs without
// a result, or with a NaN result, never win.
func (b BestResult) Update(d *Descriptor) (BestResult, bool) {
	if d == nil || d.Result == nil || math.IsNaN(*d.Result) {
		return b, false
	}
	if b.Found() && *d.Result > b.Fitness {
		return b, false
	}
	return BestResult{
		Fitness:    *d.Result,
		Identity:   d.Identity,
		Parameters: d.Parameters,
	}, true
}
