// Package sequence keeps the saved memory state of stateful-model sessions.
//
// Locking order is manager lock, then sequence lock, then the manager lock
// is released. The idle sweep only ever TryLocks a sequence, so it cannot
// deadlock with a request that holds one.
package sequence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

// ControlSignal is the per-request session control code.
type ControlSignal uint32

const (
	NoControl ControlSignal = 0
	Start     ControlSignal = 1
	End       ControlSignal = 2
)

func (c ControlSignal) String() string {
	switch c {
	case NoControl:
		return "none"
	case Start:
		return "start"
	case End:
		return "end"
	}
	return fmt.Sprintf("control(%d)", uint32(c))
}

// ParseControl validates a raw control value.
func ParseControl(v uint64) (ControlSignal, error) {
	if v > uint64(End) {
		return 0, fmt.Errorf("%w: %d", errdefs.ErrInvalidSequenceControl, v)
	}
	return ControlSignal(v), nil
}

// Spec identifies the target session of a request. ID 0 with Start asks the
// manager to assign one.
type Spec struct {
	ID      uint64
	Control ControlSignal
}

// Validate checks that non-start signals carry an id.
func (s Spec) Validate() error {
	if s.Control > End {
		return fmt.Errorf("%w: %d", errdefs.ErrInvalidSequenceControl, uint32(s.Control))
	}
	if s.ID == 0 && s.Control != Start {
		return fmt.Errorf("%w: control %s requires sequence_id", errdefs.ErrSequenceIDNotProvided, s.Control)
	}
	return nil
}

// Sequence is one session. Its state map and idle mark are guarded by the
// sequence lock.
type Sequence struct {
	id uint64

	mu     sync.Mutex
	states map[string]tensor.Tensor
	idle   bool

	lastActivity atomic.Int64
	terminated   atomic.Bool
}

func newSequence(id uint64, now time.Time) *Sequence {
	s := &Sequence{id: id, states: map[string]tensor.Tensor{}}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Sequence) ID() uint64 { return s.id }

// Unlock releases the sequence lock taken by Manager.Acquire.
func (s *Sequence) Unlock() { s.mu.Unlock() }

// State returns the saved value of a state variable. The caller must hold
// the sequence lock.
func (s *Sequence) State(name string) (tensor.Tensor, bool) {
	t, ok := s.states[name]
	return t, ok
}

// StateNames lists the saved variables. The caller must hold the sequence
// lock.
func (s *Sequence) StateNames() []string {
	out := make([]string, 0, len(s.states))
	for k := range s.states {
		out = append(out, k)
	}
	return out
}

// UpdateStates replaces the saved state with deep copies of states and
// records activity. The caller must hold the sequence lock.
func (s *Sequence) UpdateStates(states map[string]tensor.Tensor, now time.Time) {
	next := make(map[string]tensor.Tensor, len(states))
	for k, v := range states {
		next[k] = v.Clone()
	}
	s.states = next
	s.idle = false
	s.lastActivity.Store(now.UnixNano())
}

// Terminated reports whether an End signal has been accepted.
func (s *Sequence) Terminated() bool { return s.terminated.Load() }

// LastActivity is the time of the last state update or acquisition.
func (s *Sequence) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }
