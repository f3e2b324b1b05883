package modelinstance

import (
	"fmt"
	"sort"

	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

// InputDesc describes one request input as the dialect decoded it.
type InputDesc struct {
	Name      string
	Precision tensor.Precision
	Shape     []int64
	// ContentSize is the raw payload length in bytes, or -1 when the
	// payload is not a raw buffer.
	ContentSize int64
	// Strings marks string or encoded-image content. Shape is then [N].
	Strings bool
}

// Validation is the outcome of a successful check. When Reload is set the
// request is valid only after the instance reloads with Param.
type Validation struct {
	BatchChange bool
	Reshape     bool
	Param       DynamicParameter
}

// NeedsReload reports whether the request asked for a different batch size
// or shape that the configuration allows.
func (v Validation) NeedsReload() bool { return v.BatchChange || v.Reshape }

// Validate checks request inputs against the metadata held by the lease.
func (l *UseLease) Validate(inputs []InputDesc) (Validation, error) {
	return validate(l.inputs, l.cfg, inputs)
}

func validate(declared map[string]tensor.Info, cfg Config, inputs []InputDesc) (Validation, error) {
	var v Validation
	got := make(map[string]InputDesc, len(inputs))
	for _, in := range inputs {
		got[in.Name] = in
	}
	if len(got) != len(declared) {
		return v, fmt.Errorf("%w: expected %d, got %d", errdefs.ErrInvalidNoOfInputs, len(declared), len(got))
	}
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := got[name]; !ok {
			return v, fmt.Errorf("%w: %q", errdefs.ErrMissingInput, name)
		}
	}
	for _, name := range names {
		info, in := declared[name], got[name]
		if in.Strings {
			if err := validateStrings(info, in, cfg, &v); err != nil {
				return Validation{}, err
			}
			continue
		}
		if err := validateTensor(info, in, cfg, &v); err != nil {
			return Validation{}, err
		}
	}
	return v, nil
}

func validateStrings(info tensor.Info, in InputDesc, cfg Config, v *Validation) error {
	if len(in.Shape) != 1 {
		return fmt.Errorf("%w: input %q: string content must be one-dimensional", errdefs.ErrInvalidShape, info.Name)
	}
	if err := checkDims(info.Name, in.Shape); err != nil {
		return err
	}
	return checkBatch(info, in.Shape[0], cfg, v)
}

func validateTensor(info tensor.Info, in InputDesc, cfg Config, v *Validation) error {
	if in.Precision != info.Precision {
		return fmt.Errorf("%w: input %q: got %s, expected %s", errdefs.ErrInvalidPrecision, info.Name, in.Precision, info.Precision)
	}
	if err := checkDims(info.Name, in.Shape); err != nil {
		return err
	}
	reshape := cfg.IsDynamicShape(info.Name)
	if len(in.Shape) != len(info.Shape) {
		if reshape {
			addReshape(v, info.Name, in.Shape)
			return nil
		}
		return fmt.Errorf("%w: input %q: got %s, expected %s", errdefs.ErrInvalidShape, info.Name, tensor.DimsString(in.Shape), info.Shape)
	}
	for d, dim := range info.Shape {
		if dim.Match(in.Shape[d]) {
			continue
		}
		if reshape {
			addReshape(v, info.Name, in.Shape)
			return nil
		}
		if d == info.BatchIndex {
			if err := checkBatch(info, in.Shape[d], cfg, v); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("%w: input %q: got %s, expected %s", errdefs.ErrInvalidShape, info.Name, tensor.DimsString(in.Shape), info.Shape)
	}
	if v.NeedsReload() || in.ContentSize < 0 {
		return nil
	}
	want := int64(info.Precision.Size())
	for _, d := range in.Shape {
		want *= d
	}
	if in.ContentSize != want {
		return fmt.Errorf("%w: input %q: got %d bytes, expected %d", errdefs.ErrInvalidContentSize, info.Name, in.ContentSize, want)
	}
	return nil
}

// checkDims rejects negative request dimensions before they can reach a
// reshape or batch change.
func checkDims(name string, dims []int64) error {
	for _, d := range dims {
		if d < 0 {
			return fmt.Errorf("%w: input %q: negative dimension in %s", errdefs.ErrInvalidShape, name, tensor.DimsString(dims))
		}
	}
	return nil
}

func checkBatch(info tensor.Info, n int64, cfg Config, v *Validation) error {
	dim, ok := info.BatchDim()
	if !ok || dim.Match(n) {
		return nil
	}
	if n <= 0 {
		return fmt.Errorf("%w: input %q: got %d, expected %s", errdefs.ErrInvalidBatchSize, info.Name, n, dim)
	}
	if !cfg.IsDynamicBatch() {
		return fmt.Errorf("%w: input %q: got %d, expected %s", errdefs.ErrInvalidBatchSize, info.Name, n, dim)
	}
	if v.BatchChange && v.Param.BatchSize != n {
		return fmt.Errorf("%w: inputs disagree on batch size (%d vs %d)", errdefs.ErrInvalidBatchSize, v.Param.BatchSize, n)
	}
	v.BatchChange = true
	v.Param.BatchSize = n
	return nil
}

func addReshape(v *Validation, name string, dims []int64) {
	v.Reshape = true
	if v.Param.Shapes == nil {
		v.Param.Shapes = map[string][]int64{}
	}
	v.Param.Shapes[name] = append([]int64(nil), dims...)
}
