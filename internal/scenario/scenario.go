// Package scenario loads the declarative description that samples and scenes
// are drawn from.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"falsifier/internal/model"
)

const (
	ExternalSamplerRandom    = "random"
	ExternalSamplerHillClimb = "hillclimb"
)

type Scenario struct {
	Name            string           `yaml:"name"`
	Description     string           `yaml:"description,omitempty"`
	Seed            int64            `yaml:"seed"`
	Params          []Param          `yaml:"params"`
	Simulator       SimulatorSpec    `yaml:"simulator"`
	Monitor         MonitorSpec      `yaml:"monitor,omitempty"`
	ExternalSampler *ExternalSampler `yaml:"external_sampler,omitempty"`

	path string
}

type SimulatorSpec struct {
	Name     string             `yaml:"name"`
	Settings map[string]float64 `yaml:"settings,omitempty"`
}

type MonitorSpec struct {
	Name      string   `yaml:"name,omitempty"`
	Signal    string   `yaml:"signal,omitempty"`
	Signals   []string `yaml:"signals,omitempty"`
	Threshold float64  `yaml:"threshold,omitempty"`
}

// ExternalSampler configures a feedback-driven sampling strategy layered on
// top of the scenario's prior.
type ExternalSampler struct {
	Kind              string        `yaml:"kind"`
	RejectionFeedback FeedbackValue `yaml:"rejection_feedback,omitempty"`
	StepSize          float64       `yaml:"step_size,omitempty"`
	Annealing         float64       `yaml:"annealing,omitempty"`
	Explore           float64       `yaml:"explore,omitempty"`
}

// FeedbackValue decodes a YAML null, number or list into model.Feedback.
type FeedbackValue struct {
	model.Feedback
}

func (v *FeedbackValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || strings.TrimSpace(node.Value) == "" {
			v.Feedback = model.NoFeedback()
			return nil
		}
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("rejection_feedback: %w", err)
		}
		v.Feedback = model.Scalar(f)
		return nil
	case yaml.SequenceNode:
		var fs []float64
		if err := node.Decode(&fs); err != nil {
			return fmt.Errorf("rejection_feedback: %w", err)
		}
		v.Feedback = model.Vector(fs...)
		return nil
	default:
		return fmt.Errorf("rejection_feedback must be null, a number or a list, line %d", node.Line)
	}
}

func (v FeedbackValue) MarshalYAML() (any, error) {
	if v.IsNone() {
		return nil, nil
	}
	if v.IsVector() {
		return v.Values(), nil
	}
	f, _ := v.Scalar()
	return f, nil
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	sc.path = path
	return sc, nil
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if s == nil {
		return errors.New("scenario is nil")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name is required")
	}
	if len(s.Params) == 0 {
		return errors.New("scenario requires at least one param")
	}
	seen := make(map[string]struct{}, len(s.Params))
	for i, p := range s.Params {
		if err := p.validate(); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate param: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if strings.TrimSpace(s.Simulator.Name) == "" {
		return errors.New("simulator name is required")
	}
	if ext := s.ExternalSampler; ext != nil {
		switch NormalizeSamplerKind(ext.Kind) {
		case ExternalSamplerRandom, ExternalSamplerHillClimb:
		default:
			return fmt.Errorf("unsupported external sampler: %s", ext.Kind)
		}
		if ext.StepSize < 0 {
			return errors.New("external sampler step_size must be >= 0")
		}
		if ext.Annealing < 0 || ext.Annealing > 1 {
			return errors.New("external sampler annealing must be in [0, 1]")
		}
		if ext.Explore < 0 || ext.Explore > 1 {
			return errors.New("external sampler explore must be in [0, 1]")
		}
	}
	return nil
}

func (s *Scenario) Space() Space {
	return Space{Params: append([]Param(nil), s.Params...)}
}

// RejectionFeedback is the value fed back when no simulation could be
// created. It is none unless an external sampler provides one.
func (s *Scenario) RejectionFeedback() model.Feedback {
	if s.ExternalSampler == nil {
		return model.NoFeedback()
	}
	return s.ExternalSampler.RejectionFeedback.Feedback
}

// Path is the file the scenario was loaded from, empty for parsed scenarios.
func (s *Scenario) Path() string {
	return s.path
}

func NormalizeSamplerKind(kind string) string {
	normalized := strings.TrimSpace(strings.ToLower(kind))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	switch normalized {
	case "", "random", "uniform":
		return ExternalSamplerRandom
	case "hillclimb", "hillclimbing", "focus":
		return ExternalSamplerHillClimb
	default:
		return kind
	}
}
