package scenario

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Param is one dimension of the sample space: either a closed range or a
// finite set of choices.
type Param struct {
	Name    string    `yaml:"name"`
	Min     float64   `yaml:"min,omitempty"`
	Max     float64   `yaml:"max,omitempty"`
	Choices []float64 `yaml:"choices,omitempty"`
}

type Space struct {
	Params []Param
}

func (p Param) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if len(p.Choices) > 0 {
		if p.Min != 0 || p.Max != 0 {
			return fmt.Errorf("param %s: choices and range are exclusive", p.Name)
		}
		return nil
	}
	if math.IsNaN(p.Min) || math.IsNaN(p.Max) {
		return fmt.Errorf("param %s: range bounds must be numbers", p.Name)
	}
	if p.Min > p.Max {
		return fmt.Errorf("param %s: min %g > max %g", p.Name, p.Min, p.Max)
	}
	return nil
}

func (p Param) Discrete() bool {
	return len(p.Choices) > 0
}

func (p Param) Span() float64 {
	if p.Discrete() {
		return float64(len(p.Choices) - 1)
	}
	return p.Max - p.Min
}

// Draw samples the param uniformly.
func (p Param) Draw(r *rand.Rand) float64 {
	if p.Discrete() {
		return p.Choices[r.Intn(len(p.Choices))]
	}
	if p.Max == p.Min {
		return p.Min
	}
	return p.Min + r.Float64()*(p.Max-p.Min)
}

// Perturb moves v by at most spread (a fraction of the param's span),
// staying inside the param's domain. Discrete params step between choices.
func (p Param) Perturb(r *rand.Rand, v, spread float64) float64 {
	if p.Discrete() {
		idx := p.choiceIndex(v)
		steps := int(math.Round((r.Float64()*2 - 1) * spread * p.Span()))
		idx += steps
		if idx < 0 {
			idx = 0
		}
		if idx >= len(p.Choices) {
			idx = len(p.Choices) - 1
		}
		return p.Choices[idx]
	}
	delta := (r.Float64()*2 - 1) * spread * p.Span()
	return p.Clamp(v + delta)
}

func (p Param) Clamp(v float64) float64 {
	if p.Discrete() {
		return p.Choices[p.choiceIndex(v)]
	}
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

func (p Param) choiceIndex(v float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range p.Choices {
		if d := math.Abs(c - v); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func (s Space) Names() []string {
	names := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		names = append(names, p.Name)
	}
	return names
}

func (s Space) Lookup(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
