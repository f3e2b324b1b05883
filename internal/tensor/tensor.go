// Package tensor describes tensors as the serving core sees them: declared
// metadata (Info) and owned in-memory values (Tensor).
package tensor

import "fmt"

// Tensor is an owned value. Numeric data lives in Data as little-endian
// bytes; STRING tensors keep their elements in Strings.
type Tensor struct {
	Precision Precision
	Shape     []int64
	Data      []byte
	Strings   []string
}

// ElementCount is the product of the shape; a scalar has one element.
func (t Tensor) ElementCount() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ExpectedByteSize is the byte length Data must have for numeric tensors.
func (t Tensor) ExpectedByteSize() int64 {
	return t.ElementCount() * int64(t.Precision.Size())
}

// CheckContent verifies that the payload length agrees with shape and
// precision.
func (t Tensor) CheckContent() error {
	if t.Precision == String {
		if int64(len(t.Strings)) != t.ElementCount() {
			return fmt.Errorf("expected %d strings, got %d", t.ElementCount(), len(t.Strings))
		}
		return nil
	}
	if want := t.ExpectedByteSize(); int64(len(t.Data)) != want {
		return fmt.Errorf("expected %d bytes, got %d", want, len(t.Data))
	}
	return nil
}

// Clone returns a deep copy that shares no memory with t.
func (t Tensor) Clone() Tensor {
	out := Tensor{Precision: t.Precision}
	if t.Shape != nil {
		out.Shape = append([]int64(nil), t.Shape...)
	}
	if t.Data != nil {
		out.Data = append([]byte(nil), t.Data...)
	}
	if t.Strings != nil {
		out.Strings = append([]string(nil), t.Strings...)
	}
	return out
}

// Zero returns a zero-filled tensor for the given precision and dims.
func Zero(p Precision, dims []int64) Tensor {
	t := Tensor{Precision: p, Shape: append([]int64(nil), dims...)}
	if p == String {
		t.Strings = make([]string, t.ElementCount())
	} else {
		t.Data = make([]byte, t.ExpectedByteSize())
	}
	return t
}

// Info is the declared metadata of a model input or output.
type Info struct {
	Name      string
	Precision Precision
	Shape     Shape
	// BatchIndex is the position of the batch dimension, or -1 when the
	// tensor has none.
	BatchIndex int
}

// HasBatch reports whether the tensor carries a batch dimension.
func (i Info) HasBatch() bool { return i.BatchIndex >= 0 && i.BatchIndex < len(i.Shape) }

// BatchDim returns the declared batch dimension.
func (i Info) BatchDim() (Dimension, bool) {
	if !i.HasBatch() {
		return Dimension{}, false
	}
	return i.Shape[i.BatchIndex], true
}

// Clone returns an independent copy.
func (i Info) Clone() Info {
	i.Shape = i.Shape.Clone()
	return i
}

// CloneInfos copies a name to Info map.
func CloneInfos(in map[string]Info) map[string]Info {
	out := make(map[string]Info, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
