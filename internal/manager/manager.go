package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/modelinstance"
	"inferd/internal/sequence"
	"inferd/pkg/types"
)

type Manager struct {
	mu        sync.RWMutex
	state     State
	err       string
	order     []string
	templates map[string]modelinstance.Config
	models    map[string]map[int64]*instance
	loads     uint64

	engine    engine.Engine
	source    modelinstance.ArtifactSource
	log       zerolog.Logger
	publisher EventPublisher
	versions  func(string) ([]int64, error)
	cleaner   *sequence.Cleaner
	exec      *jsonExecutor

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	startTime     time.Time
}

// Ready reports whether at least one model version is serving.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	return m.anyAvailableLocked()
}

func (m *Manager) anyAvailableLocked() bool {
	for _, versions := range m.models {
		for _, in := range versions {
			if in.model.State() == modelinstance.StateAvailable {
				return true
			}
		}
	}
	return false
}

// ListModels returns every configured model with the state of each version.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, 0, len(m.order))
	for _, name := range m.order {
		mdl := types.Model{Name: name, Versions: []types.ModelVersion{}}
		for _, in := range sortedVersions(m.models[name]) {
			mdl.Versions = append(mdl.Versions, types.ModelVersion{
				Version: in.model.Version(),
				State:   in.model.State().String(),
				Error:   in.lastErr,
			})
		}
		out = append(out, mdl)
	}
	return out
}

func sortedVersions(versions map[int64]*instance) []*instance {
	out := make([]*instance, 0, len(versions))
	for _, in := range versions {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].model.Version() < out[j].model.Version() })
	return out
}
