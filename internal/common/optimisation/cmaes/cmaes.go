package cmaes

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/common/util"
)

const (
	DefaultTolX   = 1e-11
	DefaultTolFun = 1e-11
	maxCondition  = 1e14
)

// Options configures a CmaEs optimiser. Only X0 and Sigma0 are required.
type Options struct {
	// Initial mean of the search distribution.
	X0 []float64
	// Initial step size, in units of Scaling.
	Sigma0 float64
	// Per-coordinate standard deviation multipliers; defaults to all ones.
	Scaling []float64
	// Number of candidates per generation; defaults to 4 + floor(3 ln n).
	PopulationSize int
	// Optional box constraints. Candidates are clipped into [Lower, Upper].
	Lower []float64
	Upper []float64
	// Stop when the search distribution or the recent fitness values collapse below these tolerances.
	TolX   float64
	TolFun float64
	// Stop after this many generations; zero means 100 + 150(n+3)^2/sqrt(popsize).
	MaxIterations int
	// Seed for the random source; zero seeds from the clock.
	Seed int64
}

// CmaEs implements the covariance matrix adaptation evolution strategy with rank-one and rank-mu updates, see
// Hansen, N. (2016). The CMA Evolution Strategy: A Tutorial. arXiv:1604.00772.
//
// The search runs in scaled coordinates u = x / scaling; callers only ever see x.
type CmaEs struct {
	n      int
	lambda int
	mu     int

	weights []float64
	mueff   float64
	cc      float64
	cs      float64
	c1      float64
	cmu     float64
	damps   float64
	chiN    float64

	mean  *mat.VecDense
	sigma float64
	pc    *mat.VecDense
	ps    *mat.VecDense
	c     *mat.SymDense
	b     *mat.Dense
	d     []float64

	scaling []float64
	lower   []float64
	upper   []float64

	tolX          float64
	tolFun        float64
	maxIterations int

	generation  int
	evaluations int
	history     []float64
	lastFitness []float64

	bestX []float64
	bestF float64

	stopReason string
	rand       *rand.Rand
}

func New(opts Options) (*CmaEs, error) {
	n := len(opts.X0)
	if n == 0 {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "X0",
			Value:   opts.X0,
			Message: "at least one dimension is required",
		})
	}
	if !(opts.Sigma0 > 0) {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "Sigma0",
			Value:   opts.Sigma0,
			Message: "outside allowed range (0, Inf)",
		})
	}
	scaling := opts.Scaling
	if scaling == nil {
		scaling = make([]float64, n)
		for i := range scaling {
			scaling[i] = 1
		}
	}
	if len(scaling) != n {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "Scaling",
			Value:   scaling,
			Message: fmt.Sprintf("expected %d entries", n),
		})
	}
	for _, s := range scaling {
		if !(s > 0) {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "Scaling",
				Value:   scaling,
				Message: "all entries must be positive",
			})
		}
	}
	if (opts.Lower == nil) != (opts.Upper == nil) {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "Lower",
			Value:   opts.Lower,
			Message: "Lower and Upper must be provided together",
		})
	}
	if opts.Lower != nil {
		if len(opts.Lower) != n || len(opts.Upper) != n {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "Lower",
				Value:   opts.Lower,
				Message: fmt.Sprintf("bounds must have %d entries", n),
			})
		}
		for i := range opts.Lower {
			if opts.Lower[i] > opts.Upper[i] {
				return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
					Name:    "Lower",
					Value:   opts.Lower[i],
					Message: fmt.Sprintf("greater than upper bound %v", opts.Upper[i]),
				})
			}
		}
	}
	lambda := opts.PopulationSize
	if lambda == 0 {
		lambda = 4 + int(math.Floor(3*math.Log(float64(n))))
	}
	if lambda < 2 {
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "PopulationSize",
			Value:   opts.PopulationSize,
			Message: "at least 2 candidates per generation are required",
		})
	}

	o := &CmaEs{
		n:       n,
		lambda:  lambda,
		mu:      lambda / 2,
		sigma:   opts.Sigma0,
		scaling: scaling,
		lower:   opts.Lower,
		upper:   opts.Upper,
		tolX:    opts.TolX,
		tolFun:  opts.TolFun,
		bestF:   math.Inf(1),
		rand:    util.NewSeededRand(opts.Seed),
	}
	if o.tolX == 0 {
		o.tolX = DefaultTolX
	}
	if o.tolFun == 0 {
		o.tolFun = DefaultTolFun
	}
	o.maxIterations = opts.MaxIterations
	if o.maxIterations == 0 {
		o.maxIterations = 100 + int(150*math.Pow(float64(n+3), 2)/math.Sqrt(float64(lambda)))
	}
	o.initStrategyParameters()

	mean := make([]float64, n)
	for i := range mean {
		mean[i] = opts.X0[i] / scaling[i]
	}
	o.mean = mat.NewVecDense(n, mean)
	o.pc = mat.NewVecDense(n, nil)
	o.ps = mat.NewVecDense(n, nil)
	o.c = mat.NewSymDense(n, nil)
	o.b = mat.NewDense(n, n, nil)
	o.d = make([]float64, n)
	for i := 0; i < n; i++ {
		o.c.SetSym(i, i, 1)
		o.b.Set(i, i, 1)
		o.d[i] = 1
	}
	return o, nil
}

func MustNew(opts Options) *CmaEs {
	o, err := New(opts)
	if err != nil {
		panic(err)
	}
	return o
}

func (o *CmaEs) initStrategyParameters() {
	n := float64(o.n)
	o.weights = make([]float64, o.mu)
	for i := range o.weights {
		o.weights[i] = math.Log(float64(o.mu)+0.5) - math.Log(float64(i+1))
	}
	floats.Scale(1/floats.Sum(o.weights), o.weights)
	o.mueff = 1 / floats.Dot(o.weights, o.weights)

	o.cc = (4 + o.mueff/n) / (n + 4 + 2*o.mueff/n)
	o.cs = (o.mueff + 2) / (n + o.mueff + 5)
	o.c1 = 2 / ((n+1.3)*(n+1.3) + o.mueff)
	o.cmu = math.Min(1-o.c1, 2*(o.mueff-2+1/o.mueff)/((n+2)*(n+2)+o.mueff))
	o.damps = 1 + 2*math.Max(0, math.Sqrt((o.mueff-1)/(n+1))-1) + o.cs
	o.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
}

func (o *CmaEs) PopulationSize() int {
	return o.lambda
}

func (o *CmaEs) Generation() int {
	return o.generation
}

func (o *CmaEs) Evaluations() int {
	return o.evaluations
}

func (o *CmaEs) Sigma() float64 {
	return o.sigma
}

// StopReason names the termination criterion that fired, or is empty while the search continues.
func (o *CmaEs) StopReason() string {
	return o.stopReason
}

func (o *CmaEs) Ask() [][]float64 {
	rv := make([][]float64, o.lambda)
	for i := range rv {
		rv[i] = o.AskOne()
	}
	return rv
}

func (o *CmaEs) AskOne() []float64 {
	z := mat.NewVecDense(o.n, nil)
	for i := 0; i < o.n; i++ {
		z.SetVec(i, o.d[i]*o.rand.NormFloat64())
	}
	y := mat.NewVecDense(o.n, nil)
	y.MulVec(o.b, z)

	x := make([]float64, o.n)
	for i := range x {
		x[i] = (o.mean.AtVec(i) + o.sigma*y.AtVec(i)) * o.scaling[i]
		if o.lower != nil {
			x[i] = math.Max(o.lower[i], math.Min(o.upper[i], x[i]))
		}
	}
	return x
}

func (o *CmaEs) Tell(candidates [][]float64, fitness []float64) error {
	if len(candidates) != o.lambda {
		return errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "candidates",
			Value:   len(candidates),
			Message: fmt.Sprintf("expected %d candidates", o.lambda),
		})
	}
	if len(fitness) != len(candidates) {
		return errors.WithStack(&sweeperrors.ErrInvalidArgument{
			Name:    "fitness",
			Value:   len(fitness),
			Message: fmt.Sprintf("expected %d values", len(candidates)),
		})
	}
	for i, f := range fitness {
		if math.IsNaN(f) {
			return errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "fitness",
				Value:   f,
				Message: fmt.Sprintf("candidate %d has no fitness", i),
			})
		}
		if len(candidates[i]) != o.n {
			return errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "candidates",
				Value:   len(candidates[i]),
				Message: fmt.Sprintf("candidate %d must have %d dimensions", i, o.n),
			})
		}
	}

	order := make([]int, o.lambda)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return fitness[order[i]] < fitness[order[j]]
	})
	if fitness[order[0]] < o.bestF {
		o.bestF = fitness[order[0]]
		o.bestX = append([]float64(nil), candidates[order[0]]...)
	}

	// Steps from the old mean, in units of sigma, of the mu best candidates.
	oldMean := mat.VecDenseCopyOf(o.mean)
	steps := make([]*mat.VecDense, o.mu)
	for k := 0; k < o.mu; k++ {
		y := mat.NewVecDense(o.n, nil)
		for i := 0; i < o.n; i++ {
			y.SetVec(i, (candidates[order[k]][i]/o.scaling[i]-oldMean.AtVec(i))/o.sigma)
		}
		steps[k] = y
	}
	yw := mat.NewVecDense(o.n, nil)
	for k, y := range steps {
		yw.AddScaledVec(yw, o.weights[k], y)
	}
	o.mean.AddScaledVec(oldMean, o.sigma, yw)

	// C^(-1/2) = B D^-1 B^T
	invD := make([]float64, o.n)
	for i, d := range o.d {
		invD[i] = 1 / d
	}
	var bInvD, invSqrtC mat.Dense
	bInvD.Mul(o.b, mat.NewDiagDense(o.n, invD))
	invSqrtC.Mul(&bInvD, o.b.T())

	var whitened mat.VecDense
	whitened.MulVec(&invSqrtC, yw)
	o.ps.ScaleVec(1-o.cs, o.ps)
	o.ps.AddScaledVec(o.ps, math.Sqrt(o.cs*(2-o.cs)*o.mueff), &whitened)

	psNorm := mat.Norm(o.ps, 2)
	hsig := 0.0
	if psNorm/math.Sqrt(1-math.Pow(1-o.cs, float64(2*(o.generation+1))))/o.chiN < 1.4+2/float64(o.n+1) {
		hsig = 1
	}
	o.pc.ScaleVec(1-o.cc, o.pc)
	o.pc.AddScaledVec(o.pc, hsig*math.Sqrt(o.cc*(2-o.cc)*o.mueff), yw)

	c := mat.NewSymDense(o.n, nil)
	c.ScaleSym(1-o.c1-o.cmu+(1-hsig)*o.c1*o.cc*(2-o.cc), o.c)
	c.SymRankOne(c, o.c1, o.pc)
	for k, y := range steps {
		c.SymRankOne(c, o.cmu*o.weights[k], y)
	}
	o.c = c

	o.sigma *= math.Exp((o.cs / o.damps) * (psNorm/o.chiN - 1))

	o.generation++
	o.evaluations += o.lambda
	o.history = append(o.history, fitness[order[0]])
	o.lastFitness = append(o.lastFitness[:0], fitness...)

	if err := o.decompose(); err != nil {
		return err
	}
	o.checkStop()
	return nil
}

func (o *CmaEs) decompose() error {
	var eig mat.EigenSym
	if ok := eig.Factorize(o.c, true); !ok {
		o.stopReason = "eigendecomposition"
		return errors.New("eigendecomposition of the covariance matrix failed")
	}
	values := eig.Values(nil)
	eig.VectorsTo(o.b)
	for i, v := range values {
		o.d[i] = math.Sqrt(math.Max(v, 1e-300))
	}
	return nil
}

func (o *CmaEs) checkStop() {
	if o.generation >= o.maxIterations {
		o.stopReason = "maxiter"
		return
	}

	// Fitness values of the last generation and the best of recent generations span less than TolFun.
	window := 10 + int(math.Ceil(30*float64(o.n)/float64(o.lambda)))
	if len(o.history) >= window {
		recent := o.history[len(o.history)-window:]
		spread := math.Max(floats.Max(recent), floats.Max(o.lastFitness)) - math.Min(floats.Min(recent), floats.Min(o.lastFitness))
		if spread < o.tolFun {
			o.stopReason = "tolfun"
			return
		}
	}

	// All coordinates of the search distribution and the evolution path are below TolX.
	collapsed := true
	for i := 0; i < o.n; i++ {
		if o.sigma*math.Max(math.Abs(o.pc.AtVec(i)), math.Sqrt(o.c.At(i, i)))*o.scaling[i] >= o.tolX {
			collapsed = false
			break
		}
	}
	if collapsed {
		o.stopReason = "tolx"
		return
	}

	if floats.Min(o.d) > 0 && math.Pow(floats.Max(o.d)/floats.Min(o.d), 2) > maxCondition {
		o.stopReason = "conditioncov"
	}
}

func (o *CmaEs) Stop() bool {
	return o.stopReason != ""
}

func (o *CmaEs) Best() ([]float64, float64) {
	return append([]float64(nil), o.bestX...), o.bestF
}
