package common

import (
	"encoding/json"
	"math"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Planning vocabulary shared by the domain request payloads
// ─────────────────────────────────────────────────────────────────────────────

// Location is an addressable place.  Its ID addresses distance and cost
// matrices unless the request lists locations explicitly.
type Location struct {
	ID        int     `json:"id" validate:"min=0"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// Task is a unit of work with an optional location and start window.
type Task struct {
	ID             int       `json:"id" validate:"min=0"`
	Location       *Location `json:"location,omitempty"`
	Duration       float64   `json:"duration" validate:"min=0"`
	RequiredSkills []string  `json:"required_skills,omitempty"`
	Priority       int       `json:"priority,omitempty"`
	TimeWindow     []float64 `json:"time_window,omitempty" validate:"omitempty,len=2"`
}

// Window returns the task window, [0, +Inf) when none is set.
func (t Task) Window() (float64, float64) {
	if len(t.TimeWindow) != 2 {
		return 0, math.Inf(1)
	}
	return t.TimeWindow[0], t.TimeWindow[1]
}

// LocationID returns the id of the task location, or -1.
func (t Task) LocationID() int {
	if t.Location == nil {
		return -1
	}
	return t.Location.ID
}

// Vehicle is a fleet unit.
type Vehicle struct {
	ID                  int     `json:"id" validate:"min=0"`
	Type                string  `json:"type,omitempty"`
	Capacity            float64 `json:"capacity" validate:"min=0"`
	OperatingCost       float64 `json:"operating_cost,omitempty" validate:"min=0"`
	MaintenanceInterval int     `json:"maintenance_interval,omitempty" validate:"min=0"`
	FuelEfficiency      float64 `json:"fuel_efficiency,omitempty" validate:"min=0"`
}

// Employee is a schedulable worker.  Availability lists [start, end) hours.
type Employee struct {
	ID           int          `json:"id" validate:"min=0"`
	Name         string       `json:"name,omitempty"`
	Skills       []string     `json:"skills,omitempty"`
	MaxHours     float64      `json:"max_hours" validate:"min=0"`
	HourlyRate   float64      `json:"hourly_rate" validate:"min=0"`
	Availability [][2]float64 `json:"availability,omitempty"`
}

// HasSkills reports whether every required skill is held.
func HasSkills(held, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(held))
	for _, s := range held {
		set[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// HasSkill reports whether skill is held.
func HasSkill(held []string, skill string) bool {
	for _, s := range held {
		if s == skill {
			return true
		}
	}
	return false
}

const earthRadiusKM = 6371.0

// HaversineKM returns the great-circle distance between a and b.
func HaversineKM(a, b Location) float64 {
	rad := math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * rad
	dLon := (b.Longitude - a.Longitude) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*rad)*math.Cos(b.Latitude*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ─────────────────────────────────────────────────────────────────────────────
// API envelope
// ─────────────────────────────────────────────────────────────────────────────

// ErrorDetail is the error body of every failed API call.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// BuildResponse acknowledges a stored model.
type BuildResponse struct {
	ModelID string `json:"model_id"`
	Status  string `json:"status"`
}

// RunRequest carries parameter overrides for a stored model.
type RunRequest struct {
	Parameters   map[string]any `json:"parameters,omitempty"`
	SolverConfig map[string]any `json:"solver_config,omitempty"`
}

// Overrides merges solver_config under parameters; parameters win.
func (r RunRequest) Overrides() map[string]any {
	out := make(map[string]any, len(r.Parameters)+len(r.SolverConfig))
	for k, v := range r.SolverConfig {
		out[k] = v
	}
	for k, v := range r.Parameters {
		out[k] = v
	}
	return out
}

// Result is the answer of any solve.  Solution is the normalized domain
// structure, or the raw variable values on the generic path.
type Result struct {
	Type           string          `json:"type,omitempty"`
	ModelID        string          `json:"model_id,omitempty"`
	Status         string          `json:"status"`
	Solution       json.RawMessage `json:"solution,omitempty"`
	ObjectiveValue *float64        `json:"objective_value,omitempty"`
	SolveTime      float64         `json:"solve_time"`
	Iterations     int             `json:"iterations,omitempty"`
	Diagnostics    map[string]any  `json:"diagnostics,omitempty"`
}

// FlowInfo describes one registered problem type.
type FlowInfo struct {
	ID          string            `json:"id"`
	Endpoint    string            `json:"endpoint"`
	Description string            `json:"description"`
	Family      string            `json:"family"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// FlowList is the flow discovery response.
type FlowList struct {
	Flows []FlowInfo `json:"flows"`
}

// SolveEvent reports one finished solve on the event stream.
type SolveEvent struct {
	RequestID      string    `json:"request_id"`
	ProblemType    string    `json:"problem_type"`
	ModelID        string    `json:"model_id,omitempty"`
	Status         string    `json:"status"`
	ObjectiveValue *float64  `json:"objective_value,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	ErrorCode      string    `json:"error_code,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// HealthStatus indicates the health of a component or service.
type HealthStatus string

const (
	HealthUp   HealthStatus = "up"
	HealthDown HealthStatus = "down"
)

// ComponentHealth provides health information for a specific component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Readiness is the readiness probe body.
type Readiness struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Timestamp is a time.Time alias with RFC 3339 JSON serialization.
type Timestamp time.Time

// NewTimestamp returns the current UTC time as a Timestamp.
func NewTimestamp() Timestamp {
	return Timestamp(time.Now().UTC())
}

// MarshalJSON implements json.Marshaler, using ISO 8601 format.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// ContextKey keys request-scoped values.
type ContextKey string

// ContextKeyRequestID is the context key for request ID.
const ContextKeyRequestID ContextKey = "request_id"

//Personal.AI order the ending
