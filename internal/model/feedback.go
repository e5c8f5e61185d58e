package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Feedback is the score handed back to the sampler on the next draw. The zero
// value carries no information.
type Feedback struct {
	values []float64
	vector bool
}

func NoFeedback() Feedback {
	return Feedback{}
}

func Scalar(v float64) Feedback {
	return Feedback{values: []float64{v}}
}

// Vector builds a structured feedback value, one component per objective.
func Vector(vs ...float64) Feedback {
	if len(vs) == 0 {
		return Feedback{}
	}
	return Feedback{values: append([]float64(nil), vs...), vector: true}
}

func (f Feedback) IsNone() bool {
	return len(f.values) == 0
}

func (f Feedback) IsVector() bool {
	return f.vector
}

// Scalar returns the single value of a scalar feedback. Vector feedback
// collapses to its smallest component.
func (f Feedback) Scalar() (float64, bool) {
	if len(f.values) == 0 {
		return 0, false
	}
	out := f.values[0]
	for _, v := range f.values[1:] {
		if v < out {
			out = v
		}
	}
	return out, true
}

func (f Feedback) Values() []float64 {
	return append([]float64(nil), f.values...)
}

func (f Feedback) Equal(other Feedback) bool {
	if f.vector != other.vector || len(f.values) != len(other.values) {
		return false
	}
	for i := range f.values {
		if f.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

func (f Feedback) String() string {
	switch {
	case f.IsNone():
		return "none"
	case !f.vector:
		return strconv.FormatFloat(f.values[0], 'g', -1, 64)
	default:
		parts := make([]string, 0, len(f.values))
		for _, v := range f.values {
			parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
}

func (f Feedback) MarshalJSON() ([]byte, error) {
	switch {
	case f.IsNone():
		return []byte("null"), nil
	case !f.vector:
		return json.Marshal(f.values[0])
	default:
		return json.Marshal(f.values)
	}
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = Feedback{}
		return nil
	}
	if trimmed[0] == '[' {
		var vs []float64
		if err := json.Unmarshal(trimmed, &vs); err != nil {
			return fmt.Errorf("decode feedback vector: %w", err)
		}
		*f = Vector(vs...)
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("decode feedback scalar: %w", err)
	}
	*f = Scalar(v)
	return nil
}
