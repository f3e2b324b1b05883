package modelinstance

import (
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"

	"inferd/internal/errdefs"
	"inferd/internal/pool"
	"inferd/internal/tensor"
)

// Mode selects whether a dimension follows requests (Auto) or is pinned.
type Mode int

const (
	ModeFixed Mode = iota
	ModeAuto
)

// BatchSize is the configured batch dimension. Size 0 keeps the model's own
// batch dimension.
type BatchSize struct {
	Size int64
	Mode Mode
}

// ParseBatchSize accepts "", "auto" or a positive integer.
func ParseBatchSize(s string) (BatchSize, error) {
	switch v := strings.TrimSpace(strings.ToLower(s)); v {
	case "", "0":
		return BatchSize{}, nil
	case "auto":
		return BatchSize{Mode: ModeAuto}, nil
	default:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return BatchSize{}, fmt.Errorf("%w: batch size %q", errdefs.ErrInvalidConfig, s)
		}
		return BatchSize{Size: n}, nil
	}
}

func (b BatchSize) String() string {
	if b.Mode == ModeAuto {
		if b.Size > 0 {
			return "auto(" + strconv.FormatInt(b.Size, 10) + ")"
		}
		return "auto"
	}
	if b.Size == 0 {
		return ""
	}
	return strconv.FormatInt(b.Size, 10)
}

// ShapeSpec overrides one input shape. An Auto spec with no Shape keeps the
// model's shape until a request asks for another.
type ShapeSpec struct {
	Shape tensor.Shape
	Mode  Mode
}

// ParseShapeSpec accepts "auto" or a shape literal such as "(1,3,-1,10:20)".
func ParseShapeSpec(s string) (ShapeSpec, error) {
	if strings.EqualFold(strings.TrimSpace(s), "auto") {
		return ShapeSpec{Mode: ModeAuto}, nil
	}
	shape, err := tensor.ParseShape(s)
	if err != nil {
		return ShapeSpec{}, fmt.Errorf("%w: %v", errdefs.ErrInvalidConfig, err)
	}
	return ShapeSpec{Shape: shape}, nil
}

func (s ShapeSpec) String() string {
	if s.Mode == ModeAuto {
		if s.Shape != nil {
			return "auto" + s.Shape.String()
		}
		return "auto"
	}
	return s.Shape.String()
}

// Config is the load configuration of one model version.
type Config struct {
	Name    string
	Version int64
	// BasePath holds one numeric sub-directory per version.
	BasePath     string
	TargetDevice string
	// Nireq is the requested pool size; 0 lets the engine decide.
	Nireq        int
	Batch        BatchSize
	Shapes       map[string]ShapeSpec
	PluginConfig map[string]string

	Stateful          bool
	MaxSequenceNumber int
}

// Path is the directory of this version's artifacts.
func (c Config) Path() string {
	return filepath.Join(c.BasePath, strconv.FormatInt(c.Version, 10))
}

// Validate checks the fields that do not need the model to be read.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: model name is empty", errdefs.ErrInvalidConfig)
	}
	if c.Version <= 0 {
		return fmt.Errorf("%w: model %q: version must be positive", errdefs.ErrInvalidConfig, c.Name)
	}
	if c.Nireq < 0 || c.Nireq > pool.MaxSize {
		return fmt.Errorf("%w: model %q: nireq %d out of range", errdefs.ErrInvalidConfig, c.Name, c.Nireq)
	}
	if c.MaxSequenceNumber < 0 {
		return fmt.Errorf("%w: model %q: negative max sequence number", errdefs.ErrInvalidConfig, c.Name)
	}
	if c.Stateful {
		if c.Batch.Mode == ModeAuto {
			return fmt.Errorf("%w: model %q: stateful models do not support auto batch size", errdefs.ErrInvalidConfig, c.Name)
		}
		for name, s := range c.Shapes {
			if s.Mode == ModeAuto {
				return fmt.Errorf("%w: model %q: stateful models do not support auto shape for %q", errdefs.ErrInvalidConfig, c.Name, name)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c.Shapes != nil {
		shapes := make(map[string]ShapeSpec, len(c.Shapes))
		for k, v := range c.Shapes {
			shapes[k] = ShapeSpec{Shape: v.Shape.Clone(), Mode: v.Mode}
		}
		c.Shapes = shapes
	}
	c.PluginConfig = maps.Clone(c.PluginConfig)
	return c
}

// IsDynamicBatch reports whether requests may change the batch size.
func (c Config) IsDynamicBatch() bool { return c.Batch.Mode == ModeAuto }

// IsDynamicShape reports whether requests may change the shape of input.
func (c Config) IsDynamicShape(input string) bool {
	s, ok := c.Shapes[input]
	return ok && s.Mode == ModeAuto
}

// DynamicParameter carries the batch size and shapes a request needs.
type DynamicParameter struct {
	BatchSize int64
	Shapes    map[string][]int64
}

// IsZero reports whether p requests no change.
func (p DynamicParameter) IsZero() bool { return p.BatchSize == 0 && len(p.Shapes) == 0 }

// Apply returns a copy of c with p folded in. Modes are preserved so the
// model keeps following requests.
func (c Config) Apply(p DynamicParameter) Config {
	out := c.Clone()
	if p.BatchSize > 0 {
		out.Batch.Size = p.BatchSize
	}
	if len(p.Shapes) > 0 && out.Shapes == nil {
		out.Shapes = map[string]ShapeSpec{}
	}
	for name, dims := range p.Shapes {
		spec := out.Shapes[name]
		spec.Shape = tensor.FromDims(dims)
		out.Shapes[name] = spec
	}
	return out
}

func (c Config) shapeOverrides() map[string]tensor.Shape {
	var out map[string]tensor.Shape
	for name, s := range c.Shapes {
		if len(s.Shape) == 0 {
			continue
		}
		if out == nil {
			out = map[string]tensor.Shape{}
		}
		out[name] = s.Shape.Clone()
	}
	return out
}

// sameLoad reports whether a and b compile to the same executable.
func sameLoad(a, b Config) bool {
	if a.TargetDevice != b.TargetDevice || a.Nireq != b.Nireq || a.Batch.Size != b.Batch.Size {
		return false
	}
	if !maps.Equal(a.PluginConfig, b.PluginConfig) {
		return false
	}
	as, bs := a.shapeOverrides(), b.shapeOverrides()
	if len(as) != len(bs) {
		return false
	}
	for k, v := range as {
		if w, ok := bs[k]; !ok || v.String() != w.String() {
			return false
		}
	}
	return a.Stateful == b.Stateful && a.MaxSequenceNumber == b.MaxSequenceNumber
}
