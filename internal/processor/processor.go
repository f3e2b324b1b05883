// Package processor holds the per-request hooks the executor runs around
// inference. Stateless models use a no-op processor; stateful models bind
// the request to a sequence and carry its memory state across requests.
package processor

import (
	"fmt"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/modelinstance"
	"inferd/internal/tensor"
)

// Special request keys for stateful models.
const (
	SequenceIDKey      = "sequence_id"
	SequenceControlKey = "sequence_control_input"
)

// Params are the request-level values extracted by the dialect adapter.
type Params struct {
	SequenceID    uint64
	HasSequenceID bool
	Control       uint64
	HasControl    bool
}

// OutputWriter stores one output tensor into the response.
type OutputWriter func(name string, t tensor.Tensor) error

// Processor is invoked by the executor in this order: ExtractRequestParameters,
// Prepare, PreInferenceProcessing, PostInferenceProcessing, Release. Release
// is always called once Prepare has been attempted.
type Processor interface {
	ExtractRequestParameters(p Params) error
	Prepare() error
	PreInferenceProcessing(ec engine.ExecutionContext) error
	PostInferenceProcessing(w OutputWriter, ec engine.ExecutionContext) error
	Release()
}

// New returns the processor matching the leased instance.
func New(l *modelinstance.UseLease) Processor {
	if seqs := l.Sequences(); seqs != nil {
		return NewStateful(seqs)
	}
	return Stateless{}
}

// Stateless passes every hook through.
type Stateless struct{}

func (Stateless) ExtractRequestParameters(p Params) error {
	if p.HasSequenceID {
		return fmt.Errorf("%w: %s on a stateless model", errdefs.ErrUnexpectedInput, SequenceIDKey)
	}
	if p.HasControl {
		return fmt.Errorf("%w: %s on a stateless model", errdefs.ErrUnexpectedInput, SequenceControlKey)
	}
	return nil
}

func (Stateless) Prepare() error                                                      { return nil }
func (Stateless) PreInferenceProcessing(engine.ExecutionContext) error                { return nil }
func (Stateless) PostInferenceProcessing(OutputWriter, engine.ExecutionContext) error { return nil }
func (Stateless) Release()                                                            {}
