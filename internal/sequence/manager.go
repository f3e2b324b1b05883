package sequence

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/errdefs"
)

// DefaultMaxSequences is used when Options.MaxSequences is not positive.
const DefaultMaxSequences = 500

// Gauge receives the live sequence count.
type Gauge interface{ Set(float64) }

// Options configures a Manager.
type Options struct {
	MaxSequences int
	Logger       zerolog.Logger
	Live         Gauge
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Manager maps session ids to sequences for one model version.
type Manager struct {
	name    string
	version int64
	max     int
	log     zerolog.Logger
	live    Gauge
	now     func() time.Time

	mu     sync.Mutex
	seqs   map[uint64]*Sequence
	nextID uint64
}

// NewManager creates an empty manager.
func NewManager(name string, version int64, opts Options) *Manager {
	if opts.MaxSequences <= 0 {
		opts.MaxSequences = DefaultMaxSequences
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		name:    name,
		version: version,
		max:     opts.MaxSequences,
		log:     opts.Logger.With().Str("model", name).Int64("version", version).Logger(),
		live:    opts.Live,
		now:     opts.Now,
		seqs:    map[uint64]*Sequence{},
	}
}

// MaxSequences returns the configured cap.
func (m *Manager) MaxSequences() int { return m.max }

// ProcessControlSignal applies spec to the registry and returns the id of
// the target sequence.
func (m *Manager) ProcessControlSignal(spec Spec) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.resolveLocked(spec)
	if err != nil {
		return 0, err
	}
	return s.id, nil
}

// Acquire resolves spec like ProcessControlSignal and returns the target
// sequence locked. The caller must call Unlock on it. While another request
// holds the same sequence, Acquire blocks.
func (m *Manager) Acquire(spec Spec) (*Sequence, error) {
	m.mu.Lock()
	s, err := m.resolveLocked(spec)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s.mu.Lock()
	m.mu.Unlock()
	s.idle = false
	s.lastActivity.Store(m.now().UnixNano())
	return s, nil
}

func (m *Manager) resolveLocked(spec Spec) (*Sequence, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Control {
	case Start:
		id := spec.ID
		if id == 0 {
			id = m.probeLocked()
		} else if s, ok := m.seqs[id]; ok {
			if s.Terminated() {
				return nil, fmt.Errorf("%w: %d", errdefs.ErrSequenceTerminated, id)
			}
			return nil, fmt.Errorf("%w: %d", errdefs.ErrSequenceAlreadyExists, id)
		}
		if live := m.liveLocked(); live >= m.max {
			return nil, fmt.Errorf("%w: %d of %d in use", errdefs.ErrMaxSessionsReached, live, m.max)
		}
		s := newSequence(id, m.now())
		m.seqs[id] = s
		m.publishLocked()
		m.log.Debug().Uint64("sequence_id", id).Msg("sequence started")
		return s, nil
	default:
		s, ok := m.seqs[spec.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", errdefs.ErrSequenceMissing, spec.ID)
		}
		if s.Terminated() {
			return nil, fmt.Errorf("%w: %d", errdefs.ErrSequenceTerminated, spec.ID)
		}
		if spec.Control == End {
			s.terminated.Store(true)
			m.publishLocked()
			m.log.Debug().Uint64("sequence_id", spec.ID).Msg("sequence ended")
		}
		return s, nil
	}
}

// probeLocked returns the next id, never 0, that is not in the map.
func (m *Manager) probeLocked() uint64 {
	for {
		m.nextID++
		if m.nextID == 0 {
			continue
		}
		if _, taken := m.seqs[m.nextID]; !taken {
			return m.nextID
		}
	}
}

func (m *Manager) liveLocked() int {
	n := 0
	for _, s := range m.seqs {
		if !s.Terminated() {
			n++
		}
	}
	return n
}

func (m *Manager) publishLocked() {
	if m.live != nil {
		m.live.Set(float64(m.liveLocked()))
	}
}

// Len returns the number of live (not terminated) sequences.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked()
}

// Has reports whether id is still in the registry, terminated or not.
func (m *Manager) Has(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seqs[id]
	return ok
}

// IdleSweep runs one mark-then-reap pass. A sequence whose lock is held is
// skipped; a free one is erased if the previous pass already marked it idle,
// otherwise it is marked. It returns the number of erased sequences.
func (m *Manager) IdleSweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.seqs {
		if !s.mu.TryLock() {
			continue
		}
		if s.idle {
			delete(m.seqs, id)
			removed++
		} else {
			s.idle = true
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		m.publishLocked()
		m.log.Debug().Int("removed", removed).Int("remaining", len(m.seqs)).Msg("idle sequences removed")
	}
	return removed
}
