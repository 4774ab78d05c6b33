// Package lp is the in-process linear/integer solving capability.  Linear
// relaxations are solved with gonum's simplex; integrality is enforced with a
// depth-first branch-and-bound over the relaxations.
package lp

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	gonumlp "gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Config holds the defaults applied when a model's parameters omit a knob.
type Config struct {
	TimeLimit time.Duration
	MaxNodes  int
	Tolerance float64
}

// DefaultConfig returns conservative limits for interactive requests.
func DefaultConfig() Config {
	return Config{
		TimeLimit: 30 * time.Second,
		MaxNodes:  20000,
		Tolerance: 1e-9,
	}
}

// Solver implements the linear/integer capability.
type Solver struct {
	cfg    Config
	logger logging.Logger
}

// NewSolver creates a Solver.  Zero config fields fall back to DefaultConfig.
func NewSolver(cfg Config, logger logging.Logger) *Solver {
	def := DefaultConfig()
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = def.TimeLimit
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Solver{cfg: cfg, logger: logger.Named("lp")}
}

// Solve compiles m and solves it.  The returned error is reserved for models
// that cannot be compiled or parameters that cannot be decoded; every
// mathematical outcome, FAILED included, is reported through Solution.Status.
func (s *Solver) Solve(ctx context.Context, m *model.Model) (*model.Solution, error) {
	start := time.Now()
	prog, err := model.Compile(m)
	if err != nil {
		return nil, err
	}
	params, err := model.DecodeParams(m.Parameters, model.SolverParams{
		TimeLimit: s.cfg.TimeLimit.Seconds(),
		MaxNodes:  s.cfg.MaxNodes,
		Tolerance: s.cfg.Tolerance,
	})
	if err != nil {
		return nil, err
	}

	deadline := start.Add(time.Duration(params.TimeLimit * float64(time.Second)))
	if params.TimeLimit <= 0 {
		deadline = start.Add(s.cfg.TimeLimit)
	}
	maxNodes := params.MaxNodes
	if maxNodes <= 0 {
		maxNodes = s.cfg.MaxNodes
	}
	tol := params.Tolerance
	if tol <= 0 {
		tol = s.cfg.Tolerance
	}

	search := &search{
		prog:     prog,
		ctx:      ctx,
		deadline: deadline,
		maxNodes: maxNodes,
		tol:      tol,
		logger:   s.logger,
	}
	status, x := search.run()

	sol := &model.Solution{
		Status:     status,
		Values:     make(map[string]float64, prog.NumVars()),
		SolveTime:  time.Since(start).Seconds(),
		Iterations: search.relaxations,
	}
	if status.HasSolution() {
		for j, name := range prog.Names {
			v := x[j]
			if prog.Integral[j] {
				v = math.Round(v)
			}
			if v == 0 {
				v = 0 // normalize -0
			}
			sol.Values[name] = v
		}
		obj := objectiveOf(prog, sol.Values)
		sol.ObjectiveValue = &obj
	}

	s.logger.Debug("model solved",
		logging.String("model", m.Metadata.Name),
		logging.String("status", string(status)),
		logging.Int("relaxations", search.relaxations),
		logging.Int("pruned", search.pruned),
		logging.Int("variables", prog.NumVars()),
		logging.Int("rows", len(prog.Rows)),
		logging.Float64("solve_time", sol.SolveTime),
	)
	return sol, nil
}

func objectiveOf(p *model.Program, values map[string]float64) float64 {
	var sum float64
	for j, name := range p.Names {
		sum += p.Objective[j] * values[name]
	}
	return sum
}

// ─────────────────────────────────────────────────────────────────────────────
// Branch and bound
// ─────────────────────────────────────────────────────────────────────────────

// intTol is how far from an integer a relaxed value may sit and still count
// as integral.
const intTol = 1e-6

// node is one subproblem.  bound is the relaxation value of its parent in
// minimization sense, -Inf at the root.
type node struct {
	lower []float64
	upper []float64
	bound float64
	depth int
}

type search struct {
	prog     *model.Program
	ctx      context.Context
	deadline time.Time
	maxNodes int
	tol      float64
	logger   logging.Logger

	// solveLP replaces solveRelaxation when set.
	solveLP func(lower, upper []float64) ([]float64, error)

	relaxations int
	pruned      int
	incumbent   []float64
	best        float64 // minimization sense
	limitHit    bool
	integerObj  bool
}

func (s *search) run() (model.Status, []float64) {
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.integerObj = integerObjective(s.prog)
	root := node{
		lower: append([]float64(nil), s.prog.Lower...),
		upper: append([]float64(nil), s.prog.Upper...),
		bound: math.Inf(-1),
	}
	// Integer bounds are tightened up front so branching starts from integers.
	for j, integral := range s.prog.Integral {
		if integral {
			root.lower[j] = math.Ceil(root.lower[j] - intTol)
			root.upper[j] = math.Floor(root.upper[j] + intTol)
		}
	}

	x, err := s.relax(root)
	switch {
	case stderrors.Is(err, gonumlp.ErrInfeasible):
		return model.StatusInfeasible, nil
	case stderrors.Is(err, gonumlp.ErrUnbounded):
		return model.StatusUnbounded, nil
	case err != nil:
		s.logger.Debug("root relaxation failed", logging.Err(err))
		return model.StatusFailed, nil
	}

	s.best = math.Inf(1)
	stack := []node{root}
	first := x
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.dominated(n.bound) {
			s.pruned++
			continue
		}
		if first == nil && s.stop() {
			s.limitHit = true
			break
		}

		var xs []float64
		if first != nil {
			xs, first = first, nil
		} else {
			xs, err = s.relax(n)
			if err != nil {
				// Infeasible subproblems are pruned.  An unbounded subproblem
				// under a bounded root cannot occur; other failures lose the
				// subtree.
				if !stderrors.Is(err, gonumlp.ErrInfeasible) {
					s.logger.Debug("node relaxation failed",
						logging.Int("depth", n.depth),
						logging.Err(err),
					)
					s.limitHit = true
				}
				continue
			}
		}

		value := s.minObjective(xs)
		if s.dominated(value) {
			s.pruned++
			continue
		}
		j, frac := s.mostFractional(xs)
		if j < 0 {
			s.best, s.incumbent = value, xs
			continue
		}

		down := s.child(n, value)
		down.upper[j] = math.Floor(xs[j])
		up := s.child(n, value)
		up.lower[j] = math.Ceil(xs[j])
		// Explore the nearer side first.
		if frac < 0.5 {
			stack = append(stack, up, down)
		} else {
			stack = append(stack, down, up)
		}
	}

	switch {
	case s.incumbent == nil && s.limitHit:
		return model.StatusFailed, nil
	case s.incumbent == nil:
		return model.StatusInfeasible, nil
	case s.limitHit:
		return model.StatusFeasible, s.incumbent
	default:
		return model.StatusOptimal, s.incumbent
	}
}

func (s *search) child(parent node, bound float64) node {
	return node{
		lower: append([]float64(nil), parent.lower...),
		upper: append([]float64(nil), parent.upper...),
		bound: bound,
		depth: parent.depth + 1,
	}
}

// dominated reports whether a relaxation value cannot improve on the
// incumbent.  When every objective term is an integer multiple of an integer
// variable, only values that round up below the incumbent survive.
func (s *search) dominated(bound float64) bool {
	if s.incumbent == nil || math.IsInf(bound, -1) {
		return false
	}
	if s.integerObj {
		bound = math.Ceil(bound - intTol)
	}
	return bound >= s.best-s.tol*math.Max(1, math.Abs(s.best))
}

// integerObjective reports whether every integral assignment has an integer
// objective value.
func integerObjective(p *model.Program) bool {
	for j, c := range p.Objective {
		if c == 0 {
			continue
		}
		if !p.Integral[j] || c != math.Trunc(c) {
			return false
		}
	}
	return true
}

func (s *search) stop() bool {
	if s.ctx != nil && s.ctx.Err() != nil {
		return true
	}
	return s.relaxations >= s.maxNodes || time.Now().After(s.deadline)
}

func (s *search) minObjective(x []float64) float64 {
	v := model.Evaluate(s.prog.Objective, x)
	if s.prog.Maximize {
		return -v
	}
	return v
}

// mostFractional returns the integral column whose relaxed value is furthest
// from an integer, or -1 when every integral column is integral.
func (s *search) mostFractional(x []float64) (int, float64) {
	best, bestDist, bestFrac := -1, intTol, 0.0
	for j, integral := range s.prog.Integral {
		if !integral {
			continue
		}
		frac := x[j] - math.Floor(x[j])
		dist := math.Min(frac, 1-frac)
		if dist > bestDist {
			best, bestDist, bestFrac = j, dist, frac
		}
	}
	return best, bestFrac
}

// relax solves the LP relaxation of n.
func (s *search) relax(n node) ([]float64, error) {
	s.relaxations++
	if s.solveLP != nil {
		return s.solveLP(n.lower, n.upper)
	}
	return solveRelaxation(s.prog, n.lower, n.upper, s.tol)
}

// ─────────────────────────────────────────────────────────────────────────────
// Relaxation
// ─────────────────────────────────────────────────────────────────────────────

// column is one standard-form column z >= 0 standing for part of a program
// variable: x_v = base_v + sign·z.
type column struct {
	v    int
	sign float64
	span float64 // upper bound of z, +Inf when open
}

// stdRow is Σ coef·z (= or <=) rhs over the columns of a relaxation.
type stdRow struct {
	coef  []float64
	rhs   float64
	equal bool
}

// rowTol is the residual allowed on a row whose columns are all fixed.
func rowTol(rhs float64) float64 { return 1e-7 * math.Max(1, math.Abs(rhs)) }

// solveRelaxation builds the standard form min cᵀz, A z = b, z >= 0 of the
// program under the given bounds and runs the simplex on it.
//
// A variable fixed by its bounds is substituted as a constant.  A variable
// with a finite lower bound is shifted onto it, one with only an upper bound
// is mirrored below it and a free variable is split in two.  Inequalities
// get one slack column each.  A finite span gets a bound row unless another
// row already implies it.  Columns that appear in no row take the bound
// their cost prefers.
func solveRelaxation(p *model.Program, lower, upper []float64, tol float64) ([]float64, error) {
	n := p.NumVars()
	cost := append([]float64(nil), p.Objective...)
	if p.Maximize {
		cost = negate(cost)
	}

	x := make([]float64, n)
	var cols []column
	for j := 0; j < n; j++ {
		lo, hi := lower[j], upper[j]
		switch {
		case lo > hi+tol:
			return nil, gonumlp.ErrInfeasible
		case hi-lo <= tol:
			x[j] = lo
		case !math.IsInf(lo, -1):
			x[j] = lo
			cols = append(cols, column{v: j, sign: 1, span: hi - lo})
		case !math.IsInf(hi, 1):
			x[j] = hi
			cols = append(cols, column{v: j, sign: -1, span: math.Inf(1)})
		default:
			cols = append(cols,
				column{v: j, sign: 1, span: math.Inf(1)},
				column{v: j, sign: -1, span: math.Inf(1)})
		}
	}

	var rows []stdRow
	used := make([]bool, len(cols))
	for _, r := range p.Rows {
		rhs := r.RHS - model.Evaluate(r.Coefficients, x)
		coef := make([]float64, len(cols))
		empty := true
		for k, c := range cols {
			if a := r.Coefficients[c.v]; a != 0 {
				coef[k] = c.sign * a
				empty = false
			}
		}
		if r.Sense == model.OpGreaterEqual {
			coef, rhs = negate(coef), -rhs
		}
		if empty {
			if r.Sense == model.OpEqual && math.Abs(rhs) > rowTol(r.RHS) || rhs < -rowTol(r.RHS) {
				return nil, gonumlp.ErrInfeasible
			}
			continue
		}
		for k, a := range coef {
			if a != 0 {
				used[k] = true
			}
		}
		rows = append(rows, stdRow{coef: coef, rhs: rhs, equal: r.Sense == model.OpEqual})
	}

	z := make([]float64, len(cols))
	var keep []int
	for k, c := range cols {
		switch {
		case used[k]:
			keep = append(keep, k)
		case cost[c.v]*c.sign >= 0:
		case math.IsInf(c.span, 1):
			return nil, gonumlp.ErrUnbounded
		default:
			z[k] = c.span
		}
	}

	if len(keep) > 0 {
		implied := impliedSpans(rows, cols, tol)
		var eq, le []stdRow
		for _, r := range rows {
			if r.equal {
				eq = append(eq, r)
			} else {
				le = append(le, r)
			}
		}
		eq, ok := independentRows(eq)
		if !ok {
			return nil, gonumlp.ErrInfeasible
		}
		for _, k := range keep {
			if !math.IsInf(cols[k].span, 1) && !implied[k] {
				le = append(le, stdRow{coef: unit(len(cols), k, 1), rhs: cols[k].span})
			}
		}

		// Structural columns first, then one slack per inequality.
		at := make([]int, len(cols))
		for t, k := range keep {
			at[k] = t
		}
		m, nz := len(eq)+len(le), len(keep)
		a := mat.NewDense(m, nz+len(le), nil)
		b := make([]float64, m)
		c := make([]float64, nz+len(le))
		for t, k := range keep {
			c[t] = cost[cols[k].v] * cols[k].sign
		}
		for i, r := range append(eq, le...) {
			for _, k := range keep {
				if v := r.coef[k]; v != 0 {
					a.Set(i, at[k], v)
				}
			}
			b[i] = r.rhs
			if i >= len(eq) {
				a.Set(i, nz+i-len(eq), 1)
			}
		}

		_, sol, err := gonumlp.Simplex(c, a, b, tol, nil)
		if err != nil {
			return nil, err
		}
		for t, k := range keep {
			z[k] = sol[t]
		}
	}

	for k, c := range cols {
		x[c.v] += c.sign * z[k]
	}
	return x, nil
}

// impliedSpans marks the columns whose span already follows from a single
// row, the non-negativity of its columns and the spans of its negative
// columns.  Those columns need no bound row.  A span used to imply another
// is pinned and keeps its own bound row, which keeps the implications
// acyclic.  Rows with no negative column are read first.
func impliedSpans(rows []stdRow, cols []column, tol float64) []bool {
	implied := make([]bool, len(cols))
	pinned := make([]bool, len(cols))
	try := func(coef []float64, rhs float64, plainOnly bool) {
		var negs []int
		slack := rhs
		for k, a := range coef {
			if a >= 0 {
				continue
			}
			if plainOnly || math.IsInf(cols[k].span, 1) {
				return
			}
			slack -= a * cols[k].span
			negs = append(negs, k)
		}
		for j, a := range coef {
			if a <= 0 || implied[j] || pinned[j] || math.IsInf(cols[j].span, 1) {
				continue
			}
			if slack/a <= cols[j].span+tol {
				implied[j] = true
				for _, k := range negs {
					pinned[k] = true
				}
			}
		}
	}
	for _, plainOnly := range []bool{true, false} {
		for _, r := range rows {
			try(r.coef, r.rhs, plainOnly)
			if r.equal {
				try(negate(r.coef), -r.rhs, plainOnly)
			}
		}
	}
	return implied
}

// independentRows drops equality rows that are combinations of earlier ones,
// which the simplex needs for a full-rank A.  It reports false when a dropped
// row contradicts the others.
func independentRows(rows []stdRow) ([]stdRow, bool) {
	type pivot struct {
		col  int
		coef []float64
		rhs  float64
	}
	var basis []pivot
	var out []stdRow
	for _, r := range rows {
		v := append([]float64(nil), r.coef...)
		rhs := r.rhs
		var scale float64
		for _, a := range v {
			scale = math.Max(scale, math.Abs(a))
		}
		for _, p := range basis {
			f := v[p.col]
			if f == 0 {
				continue
			}
			for k, a := range p.coef {
				v[k] -= f * a
			}
			rhs -= f * p.rhs
		}
		col, mag := -1, 1e-9*math.Max(1, scale)
		for k, a := range v {
			if math.Abs(a) > mag {
				col, mag = k, math.Abs(a)
			}
		}
		if col < 0 {
			if math.Abs(rhs) > rowTol(r.rhs) {
				return nil, false
			}
			continue
		}
		f := v[col]
		for k := range v {
			v[k] /= f
		}
		basis = append(basis, pivot{col: col, coef: v, rhs: rhs / f})
		out = append(out, r)
	}
	return out, true
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

func unit(n, j int, v float64) []float64 {
	out := make([]float64, n)
	out[j] = v
	return out
}

// SolveStrict is Solve for callers that treat INFEASIBLE, UNBOUNDED and
// FAILED as errors rather than statuses.  The solution is returned alongside
// the error so its diagnostics stay available.
func (s *Solver) SolveStrict(ctx context.Context, m *model.Model) (*model.Solution, error) {
	sol, err := s.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	switch sol.Status {
	case model.StatusInfeasible:
		return sol, errors.Infeasible("problem is infeasible")
	case model.StatusUnbounded:
		return sol, errors.Unbounded("problem is unbounded")
	case model.StatusFailed:
		return sol, errors.CapabilityFailure("solver could not determine a status")
	}
	return sol, nil
}
