// Package restjson maps the JSON request body of the HTTP API onto the
// executor.
package restjson

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"inferd/internal/errdefs"
	"inferd/internal/executor"
	"inferd/internal/processor"
	"inferd/internal/tensor"
	"inferd/pkg/types"
)

// Request is one decoded HTTP inference call.
type Request struct {
	Body    *types.InferRequest
	Model   string
	Version int64
	// Declared supplies the element type of inputs sent without a datatype.
	Declared map[string]tensor.Info
	// Done, when set, receives the result of an async call.
	Done executor.Callback[*types.InferResponse]
}

// Adapter implements executor.Adapter for Request.
type Adapter struct{}

var _ executor.Adapter[*Request, *types.InferResponse] = Adapter{}

func (Adapter) InputNames(r *Request) []string {
	names := make([]string, 0, len(r.Body.Inputs))
	for name := range r.Body.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (Adapter) ExtractInput(r *Request, name string) (executor.Input, error) {
	in, ok := r.Body.Inputs[name]
	if !ok {
		return executor.Input{}, fmt.Errorf("%w: %q", errdefs.ErrMissingInput, name)
	}
	switch {
	case in.B64 != nil:
		blobs := make([][]byte, len(in.B64))
		for i, s := range in.B64 {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return executor.Input{}, fmt.Errorf("%w: input %q element %d: %v", errdefs.ErrInvalidContentSize, name, i, err)
			}
			blobs[i] = b
		}
		return executor.Input{Name: name, Binary: blobs}, nil
	case in.Strings != nil:
		return executor.Input{Name: name, Strings: in.Strings}, nil
	}

	p, err := precisionOf(r, name, in)
	if err != nil {
		return executor.Input{}, err
	}
	vals := make([]string, len(in.Data))
	for i, n := range in.Data {
		vals[i] = n.String()
	}
	data, err := tensor.EncodeNumbers(p, vals)
	if err != nil {
		return executor.Input{}, fmt.Errorf("%w: input %q: %v", errdefs.ErrInvalidPrecision, name, err)
	}
	shape := in.Shape
	if shape == nil {
		shape = []int64{int64(len(vals))}
	}
	return executor.Input{Name: name, Tensor: tensor.Tensor{Precision: p, Shape: shape, Data: data}}, nil
}

func precisionOf(r *Request, name string, in types.TensorInput) (tensor.Precision, error) {
	if in.Datatype != "" {
		p, err := tensor.ParsePrecision(in.Datatype)
		if err != nil {
			return "", fmt.Errorf("%w: input %q: %v", errdefs.ErrInvalidPrecision, name, err)
		}
		return p, nil
	}
	if info, ok := r.Declared[name]; ok && info.Precision.Size() > 0 {
		return info.Precision, nil
	}
	return tensor.FP32, nil
}

func (Adapter) SequenceParams(r *Request) (processor.Params, error) {
	var p processor.Params
	if r.Body.SequenceID != nil {
		p.SequenceID, p.HasSequenceID = *r.Body.SequenceID, true
	}
	if r.Body.SequenceControl != nil {
		p.Control, p.HasControl = *r.Body.SequenceControl, true
	}
	return p, nil
}

func (Adapter) NewResponse(r *Request) *types.InferResponse {
	return &types.InferResponse{
		ModelName:    r.Model,
		ModelVersion: r.Version,
		Outputs:      map[string]types.TensorOutput{},
	}
}

// WriteOutput lifts the sequence id into its own response field.
func (Adapter) WriteOutput(resp *types.InferResponse, name string, t tensor.Tensor) error {
	if name == processor.SequenceIDKey && t.Precision == tensor.U64 && len(t.Data) == 8 {
		id := binary.LittleEndian.Uint64(t.Data)
		resp.SequenceID = &id
		return nil
	}
	out := types.TensorOutput{Datatype: string(t.Precision), Shape: t.Shape}
	if t.Precision == tensor.String {
		out.Strings = t.Strings
		resp.Outputs[name] = out
		return nil
	}
	vals, err := tensor.DecodeNumbers(t.Precision, t.Data)
	if err != nil {
		return fmt.Errorf("%w: output %q: %v", errdefs.ErrInternal, name, err)
	}
	out.Data = make([]json.Number, len(vals))
	for i, v := range vals {
		switch v {
		case "true":
			v = "1"
		case "false":
			v = "0"
		}
		out.Data[i] = json.Number(v)
	}
	resp.Outputs[name] = out
	return nil
}

func (Adapter) Callback(r *Request) executor.Callback[*types.InferResponse] { return r.Done }
