package model

import (
	"sort"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Sample is one parameter assignment drawn from a scenario's sample space.
type Sample struct {
	ID     string             `json:"id"`
	Index  int                `json:"index"`
	Params map[string]float64 `json:"params"`
}

func NewSample(id string, index int, params map[string]float64) Sample {
	return Sample{ID: id, Index: index, Params: copyParams(params)}
}

func (s Sample) Param(name string) (float64, bool) {
	v, ok := s.Params[name]
	return v, ok
}

// ParamNames returns the parameter names in sorted order.
func (s Sample) ParamNames() []string {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Sample) Clone() Sample {
	return NewSample(s.ID, s.Index, s.Params)
}

// Scene is a simulation-ready instantiation of a sample.
type Scene struct {
	SampleID string             `json:"sample_id"`
	Scenario string             `json:"scenario"`
	Params   map[string]float64 `json:"params"`
	Seed     int64              `json:"seed"`
}

func (s Scene) Clone() Scene {
	out := s
	out.Params = copyParams(s.Params)
	return out
}

func (s Scene) Param(name string, fallback float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return fallback
}

type State struct {
	Step    int                `json:"step"`
	Time    float64            `json:"time"`
	Signals map[string]float64 `json:"signals"`
}

type Trajectory []State

// Signal returns the series of one named signal. States that do not carry it
// are skipped.
func (t Trajectory) Signal(name string) []float64 {
	out := make([]float64, 0, len(t))
	for _, state := range t {
		if v, ok := state.Signals[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

type SimulationResult struct {
	Trajectory Trajectory `json:"trajectory"`
	Steps      int        `json:"steps"`
	Iterations int        `json:"iterations"`
	Terminated string     `json:"terminated,omitempty"`
}

type RoundRecord struct {
	RunID      string        `json:"run_id"`
	Worker     int           `json:"worker"`
	Round      int           `json:"round"`
	Sample     Sample        `json:"sample"`
	Feedback   Feedback      `json:"feedback"`
	Rejected   bool          `json:"rejected"`
	Falsified  bool          `json:"falsified"`
	Duration   time.Duration `json:"duration_ns"`
	RecordedAt time.Time     `json:"recorded_at"`
}

type RunSummary struct {
	VersionedRecord
	RunID           string    `json:"run_id"`
	Scenario        string    `json:"scenario"`
	ScenarioPath    string    `json:"scenario_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Workers         int       `json:"workers"`
	RoundsPerWorker int       `json:"rounds_per_worker"`
	Rounds          int       `json:"rounds"`
	Rejections      int       `json:"rejections"`
	Falsified       int       `json:"falsified"`
	FalsifyBelow    float64   `json:"falsify_below"`
	BestFeedback    *float64  `json:"best_feedback,omitempty"`
	BestSampleID    string    `json:"best_sample_id,omitempty"`
	MeanFeedback    *float64  `json:"mean_feedback,omitempty"`
	StopReason      string    `json:"stop_reason,omitempty"`
}

func copyParams(params map[string]float64) map[string]float64 {
	if params == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
