package construction

import (
	"fmt"
	"math"
	"sort"

	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Subcontractor performs one task at a time.
type Subcontractor struct {
	ID   int    `json:"id" validate:"min=0"`
	Name string `json:"name,omitempty"`
}

// ScheduledWork is a project task with its precedence and optional
// subcontractor.
type ScheduledWork struct {
	ID              int     `json:"id" validate:"min=0"`
	Duration        float64 `json:"duration" validate:"min=0"`
	Predecessors    []int   `json:"predecessors,omitempty"`
	SubcontractorID *int    `json:"subcontractor_id,omitempty"`
}

// Contract bounds the work of a subcontractor to [Start, End].
type Contract struct {
	SubcontractorID int     `json:"subcontractor_id"`
	Start           float64 `json:"start" validate:"min=0"`
	End             float64 `json:"end" validate:"gtefield=Start"`
}

// SubcontractorRequest sequences subcontracted work to minimize makespan.
type SubcontractorRequest struct {
	Subcontractors []Subcontractor `json:"subcontractors,omitempty" validate:"dive"`
	Tasks          []ScheduledWork `json:"tasks" validate:"required,min=1,dive"`
	Contracts      []Contract      `json:"contracts,omitempty" validate:"dive"`
	TimeHorizon    int             `json:"time_horizon" validate:"required,min=1"`
}

func startOf(i int) string       { return fmt.Sprintf("s_%d", i) }
func orderVar(i, j int) string   { return fmt.Sprintf("o_%d_%d", i, j) }
func (w ScheduledWork) sub() int { return *w.SubcontractorID }

const makespanVar = "makespan"

// BuildSubcontractor compiles r into a mixed-integer model.  o_i_j = 1 puts
// task i before task j when both use the same subcontractor.
func BuildSubcontractor(r *SubcontractorRequest) (*model.Model, error) {
	index := make(map[int]int, len(r.Tasks))
	for i, w := range r.Tasks {
		index[w.ID] = i
	}
	horizon := float64(r.TimeHorizon)
	durations := make([]float64, len(r.Tasks))
	for i, w := range r.Tasks {
		durations[i] = w.Duration
	}
	bigM := model.BigM(durations, nil, []float64{horizon})

	b := model.NewBuilder("subcontractor_scheduling").Describe("sequence subcontracted work")
	b.Continuous(makespanVar, 0, horizon)
	for i := range r.Tasks {
		b.Continuous(startOf(i), 0, horizon)
	}
	for i, w := range r.Tasks {
		s := startOf(i)
		b.Constrain(fmt.Sprintf("makespan_%d", i), []model.Term{model.T(1, makespanVar), model.T(-1, s)}, model.OpGreaterEqual, w.Duration)
		for _, p := range w.Predecessors {
			j, ok := index[p]
			if !ok {
				return nil, errors.Validationf("task %d depends on unknown task %d", w.ID, p).
					WithDetailf("field=tasks[%d].predecessors", i)
			}
			b.Constrain(fmt.Sprintf("prec_%d_%d", j, i), []model.Term{model.T(1, s), model.T(-1, startOf(j))}, model.OpGreaterEqual, r.Tasks[j].Duration)
		}
		if w.SubcontractorID == nil {
			continue
		}
		for k, c := range r.Contracts {
			if c.SubcontractorID != w.sub() {
				continue
			}
			b.Constrain(fmt.Sprintf("contract_open_%d_%d", i, k), model.Sum(s), model.OpGreaterEqual, c.Start)
			b.Constrain(fmt.Sprintf("contract_close_%d_%d", i, k), model.Sum(s), model.OpLessEqual, c.End-w.Duration)
		}
	}
	for i, a := range r.Tasks {
		for j := i + 1; j < len(r.Tasks); j++ {
			z := r.Tasks[j]
			if a.SubcontractorID == nil || z.SubcontractorID == nil || a.sub() != z.sub() {
				continue
			}
			o := b.Binary(orderVar(i, j))
			// o = 1: s_j >= s_i + d_i.  o = 0: s_i >= s_j + d_j.
			b.BigMPrecedence(fmt.Sprintf("before_%d_%d", i, j), startOf(i), startOf(j), a.Duration, o, bigM)
			b.Constrain(fmt.Sprintf("after_%d_%d", i, j),
				[]model.Term{model.T(1, startOf(j)), model.T(-1, startOf(i)), model.T(-bigM, o)}, model.OpLessEqual, -z.Duration)
		}
	}
	b.Minimize(model.Sum(makespanVar))
	return b.Model()
}

// WorkSlot is one scheduled task.
type WorkSlot struct {
	TaskID          int     `json:"task_id"`
	SubcontractorID *int    `json:"subcontractor_id,omitempty"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
}

// SubcontractorSolution is the normalized schedule.
type SubcontractorSolution struct {
	Schedule []WorkSlot `json:"schedule"`
	Makespan float64    `json:"makespan"`
}

// NormalizeSubcontractor reads start times ordered by start.
func NormalizeSubcontractor(r *SubcontractorRequest, sol *model.Solution) *SubcontractorSolution {
	out := &SubcontractorSolution{Schedule: []WorkSlot{}, Makespan: sol.Value(makespanVar)}
	if !sol.Status.HasSolution() {
		return out
	}
	for i, w := range r.Tasks {
		start := sol.Value(startOf(i))
		out.Schedule = append(out.Schedule, WorkSlot{
			TaskID:          w.ID,
			SubcontractorID: w.SubcontractorID,
			Start:           start,
			End:             start + w.Duration,
		})
		out.Makespan = math.Max(out.Makespan, start+w.Duration)
	}
	sort.SliceStable(out.Schedule, func(i, j int) bool { return out.Schedule[i].Start < out.Schedule[j].Start })
	return out
}
