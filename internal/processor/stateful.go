package processor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/sequence"
	"inferd/internal/tensor"
)

// Stateful binds a request to one sequence. Between Prepare and Release it
// holds the sequence lock, so requests on the same session run one at a
// time.
type Stateful struct {
	seqs *sequence.Manager
	now  func() time.Time

	spec    sequence.Spec
	seq     *sequence.Sequence
	release sync.Once
}

// NewStateful returns a processor over seqs.
func NewStateful(seqs *sequence.Manager) *Stateful {
	return &Stateful{seqs: seqs, now: time.Now}
}

// Spec returns the extracted session target.
func (p *Stateful) Spec() sequence.Spec { return p.spec }

// SequenceID returns the resolved id once Prepare succeeded.
func (p *Stateful) SequenceID() uint64 {
	if p.seq == nil {
		return 0
	}
	return p.seq.ID()
}

func (p *Stateful) ExtractRequestParameters(params Params) error {
	control := sequence.NoControl
	if params.HasControl {
		c, err := sequence.ParseControl(params.Control)
		if err != nil {
			return err
		}
		control = c
	}
	spec := sequence.Spec{Control: control}
	if params.HasSequenceID {
		spec.ID = params.SequenceID
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	p.spec = spec
	return nil
}

// Prepare resolves the sequence and takes its lock.
func (p *Stateful) Prepare() error {
	s, err := p.seqs.Acquire(p.spec)
	if err != nil {
		return err
	}
	p.seq = s
	return nil
}

// PreInferenceProcessing loads the saved state into ec, or resets it for a
// new sequence.
func (p *Stateful) PreInferenceProcessing(ec engine.ExecutionContext) error {
	if p.spec.Control == sequence.Start {
		ec.ResetState()
		return nil
	}
	for _, name := range ec.StateNames() {
		t, ok := p.seq.State(name)
		if !ok {
			return fmt.Errorf("%w: sequence %d has no saved state %q", errdefs.ErrInternal, p.seq.ID(), name)
		}
		if err := ec.SetState(name, t); err != nil {
			return fmt.Errorf("%w: restore state %q: %v", errdefs.ErrInternal, name, err)
		}
	}
	return nil
}

// PostInferenceProcessing saves the state of ec into the sequence, or
// resets ec when the sequence ended, and reports the sequence id.
func (p *Stateful) PostInferenceProcessing(w OutputWriter, ec engine.ExecutionContext) error {
	if p.spec.Control == sequence.End {
		ec.ResetState()
	} else {
		names := ec.StateNames()
		states := make(map[string]tensor.Tensor, len(names))
		for _, name := range names {
			t, err := ec.GetState(name)
			if err != nil {
				return fmt.Errorf("%w: read state %q: %v", errdefs.ErrInternal, name, err)
			}
			states[name] = t
		}
		p.seq.UpdateStates(states, p.now())
	}
	return w(SequenceIDKey, SequenceIDTensor(p.seq.ID()))
}

// Release unlocks the sequence. Extra calls are no-ops.
func (p *Stateful) Release() {
	p.release.Do(func() {
		if p.seq != nil {
			p.seq.Unlock()
		}
	})
}

// SequenceIDTensor encodes id as a U64 tensor of shape (1).
func SequenceIDTensor(id uint64) tensor.Tensor {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, id)
	return tensor.Tensor{Precision: tensor.U64, Shape: []int64{1}, Data: b}
}
