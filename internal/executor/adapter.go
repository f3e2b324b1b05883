package executor

import (
	"inferd/internal/modelinstance"
	"inferd/internal/processor"
	"inferd/internal/tensor"
)

// Callback receives the outcome of an asynchronous request. Exactly one of
// resp and err is meaningful.
type Callback[Resp any] func(resp Resp, err error)

// Adapter binds a request dialect to the executor. Implementations must be
// safe for concurrent use; they are shared by every request of a dialect.
type Adapter[Req, Resp any] interface {
	// InputNames lists the tensor inputs carried by req. Special keys such
	// as the sequence id are not inputs.
	InputNames(req Req) []string
	// ExtractInput returns the named input as delivered by the client.
	ExtractInput(req Req, name string) (Input, error)
	// SequenceParams returns the session keys present in req.
	SequenceParams(req Req) (processor.Params, error)
	// NewResponse allocates the response for req.
	NewResponse(req Req) Resp
	// WriteOutput stores one output tensor in resp.
	WriteOutput(resp Resp, name string, t tensor.Tensor) error
	// Callback returns the completion callback embedded in req, if any.
	Callback(req Req) Callback[Resp]
}

// Input is one request input before conversion. Exactly one of Tensor,
// Strings or Binary carries the content.
type Input struct {
	Name string
	// Tensor holds numeric content with its raw little-endian buffer.
	Tensor tensor.Tensor
	// Strings holds text content, one element per batch entry.
	Strings []string
	// Binary holds opaque blobs such as encoded images.
	Binary [][]byte
}

// IsText reports whether the input carries string or binary content.
func (in Input) IsText() bool { return in.Strings != nil || in.Binary != nil }

func (in Input) count() int {
	if in.Binary != nil {
		return len(in.Binary)
	}
	return len(in.Strings)
}

func (in Input) desc() modelinstance.InputDesc {
	if in.IsText() {
		return modelinstance.InputDesc{
			Name:        in.Name,
			Precision:   tensor.String,
			Shape:       []int64{int64(in.count())},
			ContentSize: -1,
			Strings:     true,
		}
	}
	return modelinstance.InputDesc{
		Name:        in.Name,
		Precision:   in.Tensor.Precision,
		Shape:       in.Tensor.Shape,
		ContentSize: int64(len(in.Tensor.Data)),
	}
}
