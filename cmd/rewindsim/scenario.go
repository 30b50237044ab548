package main

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type (
	// Scenario is a timed script of Controller actions
	Scenario struct {
		Name     string   `yaml:"name"`
		Duration float64  `yaml:"duration,omitempty"`
		Actions  []Action `yaml:"actions"`
	}

	// Action is a single scripted Controller call, performed once the
	// simulation reaches At seconds
	Action struct {
		Do       ActionKind `yaml:"do"`
		At       float64    `yaml:"at"`
		Target   float64    `yaml:"target,omitempty"`
		Duration float64    `yaml:"duration,omitempty"`
	}

	// ActionKind names a Controller operation a Scenario can perform
	ActionKind string
)

const (
	ActionPreview    ActionKind = "preview"
	ActionSeek       ActionKind = "seek"
	ActionCommit     ActionKind = "commit"
	ActionAutoRewind ActionKind = "auto_rewind"
	ActionReset      ActionKind = "reset"
)

var (
	ErrUnknownAction   = errors.New("unknown scenario action")
	ErrInvalidScenario = errors.New("invalid scenario")
)

// LoadScenario reads and parses a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario and orders its actions by time.
// Actions scheduled for the same moment keep their file order
func ParseScenario(data []byte) (*Scenario, error) {
	res := &Scenario{}
	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, err
	}
	if err := res.validate(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(res.Actions, func(l, r Action) int {
		return cmp.Compare(l.At, r.At)
	})
	return res, nil
}

// DefaultScenario previews and commits a few seconds back, lets the world
// run on, then auto-rewinds and finally resets
func DefaultScenario() *Scenario {
	return &Scenario{
		Name:     "default",
		Duration: 30,
		Actions: []Action{
			{Do: ActionPreview, At: 8},
			{Do: ActionSeek, At: 9, Target: 5},
			{Do: ActionCommit, At: 10},
			{Do: ActionAutoRewind, At: 20, Duration: 3},
			{Do: ActionReset, At: 27},
		},
	}
}

func (s *Scenario) validate() error {
	if s.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidScenario)
	}
	for i, a := range s.Actions {
		if a.At < 0 {
			return fmt.Errorf("%w: action %d scheduled before start",
				ErrInvalidScenario, i,
			)
		}
		switch a.Do {
		case ActionPreview, ActionSeek, ActionCommit, ActionReset:
		case ActionAutoRewind:
			if a.Duration <= 0 {
				return fmt.Errorf("%w: action %d needs a positive duration",
					ErrInvalidScenario, i,
				)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, a.Do)
		}
	}
	return nil
}
