package model

import (
	"fmt"
	"math"
)

// ─────────────────────────────────────────────────────────────────────────────
// Term helpers
// ─────────────────────────────────────────────────────────────────────────────

// Sum returns each variable with coefficient 1.
func Sum(vars ...string) []Term {
	terms := make([]Term, len(vars))
	for i, v := range vars {
		terms[i] = T(1, v)
	}
	return terms
}

// Weighted pairs vars with weights index by index.
func Weighted(vars []string, weights []float64) []Term {
	terms := make([]Term, len(vars))
	for i, v := range vars {
		terms[i] = T(weights[i], v)
	}
	return terms
}

// Scale multiplies every coefficient by k.
func Scale(terms []Term, k float64) []Term {
	out := make([]Term, len(terms))
	for i, t := range terms {
		out[i] = T(t.Coefficient*k, t.Variable)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Constraint primitives
// ─────────────────────────────────────────────────────────────────────────────

// ExactlyOne adds Σ vars = 1.  Over an empty set the model becomes infeasible.
func (b *Builder) ExactlyOne(name string, vars []string) *Builder {
	return b.Constrain(name, Sum(vars...), OpEqual, 1)
}

// AtMostOne adds Σ vars <= 1.
func (b *Builder) AtMostOne(name string, vars []string) *Builder {
	return b.Constrain(name, Sum(vars...), OpLessEqual, 1)
}

// AtLeast adds Σ vars >= n.
func (b *Builder) AtLeast(name string, vars []string, n float64) *Builder {
	return b.Constrain(name, Sum(vars...), OpGreaterEqual, n)
}

// CapacitySum adds Σ terms <= capacity.
func (b *Builder) CapacitySum(name string, terms []Term, capacity float64) *Builder {
	return b.Constrain(name, terms, OpLessEqual, capacity)
}

// CoverSum adds Σ terms >= demand.
func (b *Builder) CoverSum(name string, terms []Term, demand float64) *Builder {
	return b.Constrain(name, terms, OpGreaterEqual, demand)
}

// ForceZero pins every variable in vars to 0.  Ineligible pairs keep their
// variable so result extraction sees a uniform variable universe.
func (b *Builder) ForceZero(name string, vars []string) *Builder {
	if len(vars) == 0 {
		return b
	}
	return b.Constrain(name, Sum(vars...), OpEqual, 0)
}

// SlidingWindow bounds the sum of every run of window consecutive slots by
// limit in the given sense.  slots[i] holds the variables of slot i and may
// be empty.  For <= and = a window longer than the horizon is clamped to
// one window over every slot.  A >= window that would run past the last
// slot is not emitted.
func (b *Builder) SlidingWindow(prefix string, slots [][]string, window int, limit float64, sense Operator) *Builder {
	if window <= 0 {
		return b
	}
	if window > len(slots) && sense != OpGreaterEqual {
		window = len(slots)
	}
	for start := 0; window > 0 && start+window <= len(slots); start++ {
		var terms []Term
		for _, vars := range slots[start : start+window] {
			terms = append(terms, Sum(vars...)...)
		}
		b.Constrain(fmt.Sprintf("%s_%d", prefix, start), terms, sense, limit)
	}
	return b
}

// Singletons lifts one-variable-per-slot input for SlidingWindow.  An empty
// name leaves its slot empty.
func Singletons(vars []string) [][]string {
	slots := make([][]string, len(vars))
	for i, v := range vars {
		if v != "" {
			slots[i] = []string{v}
		}
	}
	return slots
}

// BigMPrecedence enforces after >= before + gap whenever indicator is 1:
//
//	before - after + M·indicator <= M - gap
func (b *Builder) BigMPrecedence(name, before, after string, gap float64, indicator string, m float64) *Builder {
	return b.Constrain(name, []Term{T(1, before), T(-1, after), T(m, indicator)}, OpLessEqual, m-gap)
}

// WindowUpper enforces t <= ub when x is 1: t + M·x <= ub + M.
func (b *Builder) WindowUpper(name, t, x string, ub, m float64) *Builder {
	return b.Constrain(name, []Term{T(1, t), T(m, x)}, OpLessEqual, ub+m)
}

// WindowLower enforces t >= lb when x is 1: t - lb·x >= 0.
func (b *Builder) WindowLower(name, t, x string, lb float64) *Builder {
	return b.Constrain(name, []Term{T(1, t), T(-lb, x)}, OpGreaterEqual, 0)
}

// BigM derives a big-M constant from the instance: the sum of durations, plus
// the largest distance, plus the largest finite time-window bound, plus 1.
func BigM(durations []float64, distances [][]float64, windowBounds []float64) float64 {
	var total float64
	for _, d := range durations {
		total += math.Abs(d)
	}
	var maxDist float64
	for _, row := range distances {
		for _, d := range row {
			maxDist = math.Max(maxDist, math.Abs(d))
		}
	}
	var maxWindow float64
	for _, w := range windowBounds {
		if !math.IsInf(w, 0) && !math.IsNaN(w) {
			maxWindow = math.Max(maxWindow, math.Abs(w))
		}
	}
	return total + maxDist + maxWindow + 1
}
