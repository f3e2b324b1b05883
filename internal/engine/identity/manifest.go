// Package identity implements a reference engine driven by a YAML manifest.
// Outputs are copies of named inputs or of the state captured before the
// run; state variables take the value of their source input after each run.
// It lets the server run end to end without a numeric backend.
package identity

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

// ManifestFile is the artifact name the engine reads.
const ManifestFile = "model.yaml"

// StatePrefix marks an output sourced from a state variable.
const StatePrefix = "state:"

// Manifest describes a model.
type Manifest struct {
	Inputs          []TensorSpec `yaml:"inputs"`
	Outputs         []TensorSpec `yaml:"outputs"`
	States          []TensorSpec `yaml:"states"`
	OptimalContexts int          `yaml:"optimal_contexts"`
}

// TensorSpec declares one tensor. From names the source of an output (an
// input name or "state:<name>") or of a state (an input name).
type TensorSpec struct {
	Name       string `yaml:"name"`
	Precision  string `yaml:"precision"`
	Shape      string `yaml:"shape"`
	From       string `yaml:"from"`
	BatchIndex *int   `yaml:"batch_index"`
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidConfig, ManifestFile, err)
	}
	return m, nil
}

// Model is a validated manifest.
type Model struct {
	inputs  []tensor.Info
	outputs []tensor.Info
	states  []tensor.Info
	outFrom map[string]string
	stFrom  map[string]string
	optimal int
}

func (m *Model) Inputs() []tensor.Info  { return cloneList(m.inputs) }
func (m *Model) Outputs() []tensor.Info { return cloneList(m.outputs) }

// FromManifest validates the manifest and resolves output metadata.
func FromManifest(man Manifest) (*Model, error) {
	if len(man.Inputs) == 0 {
		return nil, fmt.Errorf("%w: manifest declares no inputs", errdefs.ErrInvalidConfig)
	}
	m := &Model{
		outFrom: map[string]string{},
		stFrom:  map[string]string{},
		optimal: man.OptimalContexts,
	}
	byName := map[string]tensor.Info{}
	for _, spec := range man.Inputs {
		info, err := specInfo(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := byName[info.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate input %q", errdefs.ErrInvalidConfig, info.Name)
		}
		byName[info.Name] = info
		m.inputs = append(m.inputs, info)
	}
	states := map[string]tensor.Info{}
	for _, spec := range man.States {
		info, err := specInfo(spec)
		if err != nil {
			return nil, err
		}
		info.BatchIndex = -1
		if spec.From != "" {
			if _, ok := byName[spec.From]; !ok {
				return nil, fmt.Errorf("%w: state %q reads unknown input %q", errdefs.ErrInvalidConfig, spec.Name, spec.From)
			}
			m.stFrom[info.Name] = spec.From
		}
		states[info.Name] = info
		m.states = append(m.states, info)
	}
	for _, spec := range man.Outputs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: output without name", errdefs.ErrInvalidConfig)
		}
		var src tensor.Info
		if name, ok := strings.CutPrefix(spec.From, StatePrefix); ok {
			s, found := states[name]
			if !found {
				return nil, fmt.Errorf("%w: output %q reads unknown state %q", errdefs.ErrInvalidConfig, spec.Name, name)
			}
			src = s
		} else {
			in, found := byName[spec.From]
			if !found {
				return nil, fmt.Errorf("%w: output %q reads unknown input %q", errdefs.ErrInvalidConfig, spec.Name, spec.From)
			}
			src = in
		}
		out := src.Clone()
		out.Name = spec.Name
		m.outFrom[spec.Name] = spec.From
		m.outputs = append(m.outputs, out)
	}
	return m, nil
}

func specInfo(spec TensorSpec) (tensor.Info, error) {
	if spec.Name == "" {
		return tensor.Info{}, fmt.Errorf("%w: tensor without name", errdefs.ErrInvalidConfig)
	}
	p, err := tensor.ParsePrecision(spec.Precision)
	if err != nil {
		return tensor.Info{}, fmt.Errorf("%w: tensor %q: %v", errdefs.ErrIncompatiblePrecision, spec.Name, err)
	}
	shape, err := tensor.ParseShape(spec.Shape)
	if err != nil {
		return tensor.Info{}, fmt.Errorf("%w: tensor %q: %v", errdefs.ErrInvalidConfig, spec.Name, err)
	}
	batch := 0
	if spec.BatchIndex != nil {
		batch = *spec.BatchIndex
	}
	if len(shape) == 0 || batch >= len(shape) {
		batch = -1
	}
	return tensor.Info{Name: spec.Name, Precision: p, Shape: shape, BatchIndex: batch}, nil
}

func cloneList(in []tensor.Info) []tensor.Info {
	out := make([]tensor.Info, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}
