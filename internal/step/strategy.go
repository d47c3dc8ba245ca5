package step

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"gopkg.in/yaml.v3"
)

// Strategy file format:
//
//	steps:
//	  - type: solve
//	    name: gain-cal
//	    parms: ["Gain:*"]
//	    shape: {freq: 1.0e6, time: 60}
//	    max_iter: 20
//	    epsilon: 1.0e-5
//	  - type: multi
//	    name: cleanup
//	    steps:
//	      - {type: subtract, name: sub-a, sources: [CasA]}
//	      - {type: correct, name: corr}
//
// The top-level steps become the children of a Multi root.

type strategyFile struct {
	Steps []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	Station1        []int32  `yaml:"station1"`
	Station2        []int32  `yaml:"station2"`
	CorrTypes       []string `yaml:"corr_types"`
	IntegrationFreq int32    `yaml:"integration_freq"`
	IntegrationTime int32    `yaml:"integration_time"`
	Sources         []string `yaml:"sources"`
	ExtraSources    []string `yaml:"extra_sources"`
	OutputData      string   `yaml:"output_data"`

	Parms        []string  `yaml:"parms"`
	ExclParms    []string  `yaml:"excl_parms"`
	Shape        shapeSpec `yaml:"shape"`
	MaxIter      int32     `yaml:"max_iter"`
	Epsilon      float64   `yaml:"epsilon"`
	MinConverged float64   `yaml:"min_converged"`

	Steps []stepSpec `yaml:"steps"`
}

type shapeSpec struct {
	Freq float64 `yaml:"freq"`
	Time float64 `yaml:"time"`
}

func (s *stepSpec) selection() Selection {
	return Selection{
		Name:            s.Name,
		Station1:        s.Station1,
		Station2:        s.Station2,
		CorrTypes:       s.CorrTypes,
		IntegrationFreq: s.IntegrationFreq,
		IntegrationTime: s.IntegrationTime,
		Sources:         s.Sources,
		ExtraSources:    s.ExtraSources,
		OutputData:      s.OutputData,
	}
}

// LoadStrategy reads a strategy file and builds the step tree it describes.
func LoadStrategy(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy: %w", err)
	}
	t, err := ParseStrategy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseStrategy builds a step tree from strategy YAML.
func ParseStrategy(data []byte) (*Tree, error) {
	var f strategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse strategy: %w", err)
	}
	t := NewTree(&Multi{})
	if err := addSpecs(t, Root, f.Steps, 1); err != nil {
		return nil, err
	}
	return t, nil
}

func addSpecs(t *Tree, parent ID, specs []stepSpec, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	for i := range specs {
		s := &specs[i]
		body, err := s.body()
		if err != nil {
			return fmt.Errorf("step %d (%q): %w", i, s.Name, err)
		}
		id, err := t.Add(parent, body)
		if err != nil {
			return err
		}
		if len(s.Steps) > 0 {
			if _, ok := body.(*Multi); !ok {
				return fmt.Errorf("step %d (%q): %w", i, s.Name, ErrNotComposite)
			}
			if err := addSpecs(t, id, s.Steps, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *stepSpec) body() (Body, error) {
	switch s.Type {
	case "multi":
		return &Multi{}, nil
	case "predict":
		return &Predict{Selection: s.selection()}, nil
	case "correct":
		return &Correct{Selection: s.selection()}, nil
	case "subtract":
		return &Subtract{Selection: s.selection()}, nil
	case "solve":
		shape, err := domain.NewDomainShape(s.Shape.Freq, s.Shape.Time)
		if err != nil {
			return nil, err
		}
		return &Solve{
			Selection:    s.selection(),
			ParmPatterns: s.Parms,
			ExclPatterns: s.ExclParms,
			Shape:        shape,
			MaxIter:      s.MaxIter,
			Epsilon:      s.Epsilon,
			MinConverged: s.MinConverged,
		}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}
}
