package risk

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Supported duration distributions.
const (
	Normal     = "normal"
	Triangular = "triangular"
	Uniform    = "uniform"
)

const (
	DefaultSimulations = 1000
	DefaultBins        = 20
	// Workers is the fixed number of trial chunks.  Chunk i is seeded with
	// seed+i, so results depend on the seed only.
	Workers = 4
)

// Factor describes the duration distribution of one activity.  Normal uses
// Mean and StdDev, triangular uses Min, Mode and Max, uniform uses Min and
// Max.  Missing parameters fall back to the activity's nominal duration.
type Factor struct {
	TaskID       int     `json:"task_id"`
	Distribution string  `json:"distribution" validate:"omitempty,oneof=normal triangular uniform"`
	Mean         float64 `json:"mean,omitempty"`
	StdDev       float64 `json:"std_dev,omitempty" validate:"min=0"`
	Min          float64 `json:"min,omitempty"`
	Mode         float64 `json:"mode,omitempty"`
	Max          float64 `json:"max,omitempty"`
}

// SimulationRequest samples the completion time of a project network.
type SimulationRequest struct {
	ProjectNetwork []Activity `json:"project_network" validate:"required,min=1,dive"`
	RiskFactors    []Factor   `json:"risk_factors,omitempty" validate:"dive"`
	NumSimulations int        `json:"num_simulations,omitempty" validate:"min=0"`
	Bins           int        `json:"bins,omitempty" validate:"min=0"`
	Seed           *uint64    `json:"seed,omitempty"`
	Objective      string     `json:"objective,omitempty" validate:"omitempty,oneof=estimate_risk"`
}

// ApplyDefaults fills the trial count, histogram bins and objective.
func (r *SimulationRequest) ApplyDefaults() {
	if r.NumSimulations == 0 {
		r.NumSimulations = DefaultSimulations
	}
	if r.Bins == 0 {
		r.Bins = DefaultBins
	}
	if r.Objective == "" {
		r.Objective = "estimate_risk"
	}
}

// Sampler draws one duration.
type Sampler func(src rand.Source) float64

func constant(v float64) Sampler { return func(rand.Source) float64 { return v } }

// Samplers returns one duration Sampler per activity of n.  Activities
// without a factor keep their nominal duration.
func Samplers(n *Network, factors []Factor) ([]Sampler, error) {
	out := make([]Sampler, len(n.Activities))
	for i, a := range n.Activities {
		out[i] = constant(a.Duration)
	}
	for k, f := range factors {
		i, ok := n.Index(f.TaskID)
		if !ok {
			return nil, errors.Validationf("risk factor refers to unknown activity %d", f.TaskID).
				WithDetailf("field=risk_factors[%d].task_id", k)
		}
		s, err := f.sampler(n.Activities[i].Duration)
		if err != nil {
			return nil, err.WithDetailf("field=risk_factors[%d]", k)
		}
		out[i] = s
	}
	return out, nil
}

func (f Factor) sampler(nominal float64) (Sampler, *errors.AppError) {
	switch f.Distribution {
	case "", Normal:
		mu := f.Mean
		if mu == 0 {
			mu = nominal
		}
		if f.StdDev == 0 {
			return constant(mu), nil
		}
		return func(src rand.Source) float64 {
			return distuv.Normal{Mu: mu, Sigma: f.StdDev, Src: src}.Rand()
		}, nil
	case Triangular:
		lo, hi, mode := f.Min, f.Max, f.Mode
		if mode == 0 {
			mode = nominal
		}
		if hi == 0 {
			hi = mode
		}
		if lo > mode || mode > hi {
			return nil, errors.Validationf("triangular factor for activity %d needs min <= mode <= max", f.TaskID)
		}
		if lo == hi {
			return constant(lo), nil
		}
		return func(src rand.Source) float64 {
			return distuv.NewTriangle(lo, hi, mode, src).Rand()
		}, nil
	case Uniform:
		lo, hi := f.Min, f.Max
		if hi == 0 {
			hi = nominal
		}
		if lo > hi {
			return nil, errors.Validationf("uniform factor for activity %d needs min <= max", f.TaskID)
		}
		if lo == hi {
			return constant(lo), nil
		}
		return func(src rand.Source) float64 {
			return distuv.Uniform{Min: lo, Max: hi, Src: src}.Rand()
		}, nil
	default:
		return nil, errors.Validationf("unknown distribution %q", f.Distribution)
	}
}

// Trials holds the raw outcome of a simulation.
type Trials struct {
	Makespans []float64
	// CriticalCounts[i] is the number of trials in which activity i had
	// zero slack.
	CriticalCounts []int
}

// Run samples trials of n in Workers parallel chunks.  Durations are clamped
// at zero.
func Run(ctx context.Context, n *Network, samplers []Sampler, trials int, seed uint64) (*Trials, error) {
	out := &Trials{
		Makespans:      make([]float64, trials),
		CriticalCounts: make([]int, len(n.Activities)),
	}
	counts := make([][]int, Workers)
	chunk := (trials + Workers - 1) / Workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < Workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, trials)
		counts[w] = make([]int, len(n.Activities))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			src := rand.NewPCG(seed+uint64(w), uint64(w))
			durations := make([]float64, len(n.Activities))
			for t := lo; t < hi; t++ {
				if t%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				for i, s := range samplers {
					durations[i] = math.Max(0, s(src))
				}
				sched := n.CPM(durations)
				out.Makespans[t] = sched.Makespan
				for i := range durations {
					if sched.Critical(i) {
						counts[w][i]++
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.CapabilityFailure("simulation interrupted").WithCause(err)
	}
	for _, c := range counts {
		for i, v := range c {
			out.CriticalCounts[i] += v
		}
	}
	return out, nil
}

// Bucket is one histogram bin over [Lower, Upper).
type Bucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Summary describes a sample distribution.
type Summary struct {
	Mean      float64  `json:"mean"`
	StdDev    float64  `json:"std_dev"`
	Min       float64  `json:"min"`
	Max       float64  `json:"max"`
	P50       float64  `json:"p50"`
	P90       float64  `json:"p90"`
	P95       float64  `json:"p95"`
	Histogram []Bucket `json:"histogram"`
}

// Summarize computes moments, percentiles and a histogram with the given
// number of equal-width bins.  Bucket counts add up to len(x).
func Summarize(x []float64, bins int) Summary {
	s := Summary{Histogram: []Bucket{}}
	if len(x) == 0 {
		return s
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]
	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		s.StdDev = 0
	}
	s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)

	if bins < 1 || s.Min == s.Max {
		bins = 1
	}
	width := (s.Max - s.Min) / float64(bins)
	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = s.Min + float64(i)*width
	}
	// The top edge must lie strictly above the largest sample.
	dividers[bins] = math.Nextafter(s.Max, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	for i, c := range counts {
		s.Histogram = append(s.Histogram, Bucket{Lower: dividers[i], Upper: dividers[i+1], Count: int(c)})
	}
	return s
}

// Criticality is the share of trials in which an activity was critical.
type Criticality struct {
	TaskID int     `json:"task_id"`
	Index  float64 `json:"index"`
}

// SimulationSolution is the normalized risk answer.
type SimulationSolution struct {
	Simulations           int           `json:"num_simulations"`
	DeterministicMakespan float64       `json:"deterministic_makespan"`
	CriticalPath          []int         `json:"critical_path"`
	Completion            Summary       `json:"completion_time"`
	Criticality           []Criticality `json:"criticality"`
}

// Simulate runs r in process.  Without an explicit seed the run is seeded
// from the global source.
func Simulate(ctx context.Context, r *SimulationRequest) (*SimulationSolution, error) {
	n, err := NewNetwork(r.ProjectNetwork)
	if err != nil {
		return nil, err
	}
	samplers, err := Samplers(n, r.RiskFactors)
	if err != nil {
		return nil, err
	}
	trials := r.NumSimulations
	if trials <= 0 {
		trials = DefaultSimulations
	}
	seed := rand.Uint64()
	if r.Seed != nil {
		seed = *r.Seed
	}

	res, err := Run(ctx, n, samplers, trials, seed)
	if err != nil {
		return nil, err
	}
	base := n.CPM(n.Durations())
	out := &SimulationSolution{
		Simulations:           trials,
		DeterministicMakespan: base.Makespan,
		CriticalPath:          n.CriticalPath(base),
		Completion:            Summarize(res.Makespans, r.Bins),
		Criticality:           make([]Criticality, len(n.Activities)),
	}
	for i, a := range n.Activities {
		out.Criticality[i] = Criticality{TaskID: a.ID, Index: float64(res.CriticalCounts[i]) / float64(trials)}
	}
	return out, nil
}
