// Package risk propagates durations through task-precedence networks: the
// deterministic critical path method and Monte-Carlo completion-time
// simulation.
package risk

import (
	"math"

	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Activity is one task of a project network.
type Activity struct {
	ID           int     `json:"id" validate:"min=0"`
	Name         string  `json:"name,omitempty"`
	Duration     float64 `json:"duration" validate:"min=0"`
	Predecessors []int   `json:"predecessors,omitempty"`
}

// Network is a validated precedence graph.  Order lists activity indices in a
// topological order.
type Network struct {
	Activities []Activity
	Order      []int
	preds      [][]int
	succs      [][]int
	index      map[int]int
}

// NewNetwork indexes activities and orders them with Kahn's algorithm.
// Unknown predecessors, duplicate ids and cycles are validation errors.
func NewNetwork(activities []Activity) (*Network, error) {
	n := &Network{
		Activities: activities,
		preds:      make([][]int, len(activities)),
		succs:      make([][]int, len(activities)),
		index:      make(map[int]int, len(activities)),
	}
	for i, a := range activities {
		if _, dup := n.index[a.ID]; dup {
			return nil, errors.Validationf("activity id %d is duplicated", a.ID).WithDetailf("field=project_network[%d].id", i)
		}
		n.index[a.ID] = i
	}
	indegree := make([]int, len(activities))
	for i, a := range activities {
		for _, p := range a.Predecessors {
			j, ok := n.index[p]
			if !ok {
				return nil, errors.Validationf("activity %d depends on unknown activity %d", a.ID, p).
					WithDetailf("field=project_network[%d].predecessors", i)
			}
			n.preds[i] = append(n.preds[i], j)
			n.succs[j] = append(n.succs[j], i)
			indegree[i]++
		}
	}

	queue := make([]int, 0, len(activities))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		n.Order = append(n.Order, i)
		for _, s := range n.succs[i] {
			indegree[s]--
			if indegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(n.Order) != len(activities) {
		return nil, errors.Validation("project network has a precedence cycle").WithDetail("field=project_network")
	}
	return n, nil
}

// Index returns the position of activity id.
func (n *Network) Index(id int) (int, bool) {
	i, ok := n.index[id]
	return i, ok
}

// Durations returns the nominal duration of every activity.
func (n *Network) Durations() []float64 {
	d := make([]float64, len(n.Activities))
	for i, a := range n.Activities {
		d[i] = a.Duration
	}
	return d
}

// Forward fills finish with the earliest finish of every activity and returns
// the makespan.  finish must have one slot per activity.
func (n *Network) Forward(durations, finish []float64) float64 {
	var makespan float64
	for _, i := range n.Order {
		var start float64
		for _, p := range n.preds[i] {
			start = math.Max(start, finish[p])
		}
		finish[i] = start + durations[i]
		makespan = math.Max(makespan, finish[i])
	}
	return makespan
}

// Schedule is the outcome of the critical path method.
type Schedule struct {
	Makespan float64
	Start    []float64
	Finish   []float64
	Slack    []float64
}

// slackTolerance absorbs floating point noise when testing for zero slack.
const slackTolerance = 1e-9

// Critical reports whether activity i has zero slack.
func (s *Schedule) Critical(i int) bool { return s.Slack[i] <= slackTolerance }

// CPM runs the forward and backward passes over durations.
func (n *Network) CPM(durations []float64) *Schedule {
	size := len(n.Activities)
	s := &Schedule{
		Start:  make([]float64, size),
		Finish: make([]float64, size),
		Slack:  make([]float64, size),
	}
	s.Makespan = n.Forward(durations, s.Finish)
	for i := range s.Start {
		s.Start[i] = s.Finish[i] - durations[i]
	}
	latest := make([]float64, size)
	for k := len(n.Order) - 1; k >= 0; k-- {
		i := n.Order[k]
		lf := s.Makespan
		for _, succ := range n.succs[i] {
			lf = math.Min(lf, latest[succ]-durations[succ])
		}
		latest[i] = lf
		s.Slack[i] = lf - s.Finish[i]
	}
	return s
}

// CriticalPath walks one zero-slack chain from a starting activity to the
// activity that finishes last, returning activity ids.
func (n *Network) CriticalPath(s *Schedule) []int {
	path := []int{}
	current := -1
	for _, i := range n.Order {
		if len(n.preds[i]) == 0 && s.Critical(i) && s.Start[i] <= slackTolerance {
			current = i
			break
		}
	}
	for current >= 0 {
		path = append(path, n.Activities[current].ID)
		next := -1
		for _, succ := range n.succs[current] {
			if s.Critical(succ) && math.Abs(s.Start[succ]-s.Finish[current]) <= slackTolerance {
				next = succ
				break
			}
		}
		current = next
	}
	return path
}
