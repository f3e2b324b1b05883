package manager

import (
	"time"

	"inferd/internal/tensor"
	"inferd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(m.state),
		LastError:      m.err,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		Models:         []types.ModelStatus{},
	}
	for _, name := range m.order {
		for _, in := range sortedVersions(m.models[name]) {
			st := modelStatus(in)
			resp.SequencesTotal += st.Sequences
			resp.Models = append(resp.Models, st)
		}
	}
	return resp
}

// ModelStatus returns the status of every version of name.
func (m *Manager) ModelStatus(name string) ([]types.ModelStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.models[name]
	if !ok {
		return nil, ErrModelNotFound(name)
	}
	out := make([]types.ModelStatus, 0, len(versions))
	for _, in := range sortedVersions(versions) {
		out = append(out, modelStatus(in))
	}
	return out, nil
}

func modelStatus(in *instance) types.ModelStatus {
	st := in.model.Status()
	return types.ModelStatus{
		Name:          st.Name,
		Version:       st.Version,
		State:         st.State.String(),
		InUse:         st.InUse,
		PoolSize:      st.PoolSize,
		PoolInUse:     st.PoolInUse,
		Reloads:       st.Reloads,
		QueueLen:      len(in.queueCh),
		MaxQueueDepth: cap(in.queueCh),
		Stateful:      st.Stateful,
		Sequences:     st.Sequences,
		MaxSequences:  st.MaxSequences,
		BatchSize:     st.BatchSize,
		Shapes:        st.Shapes,
		Inputs:        metadata(st.Inputs),
		Outputs:       metadata(st.Outputs),
	}
}

func metadata(infos []tensor.Info) []types.TensorMetadata {
	if len(infos) == 0 {
		return nil
	}
	out := make([]types.TensorMetadata, 0, len(infos))
	for _, info := range infos {
		out = append(out, types.TensorMetadata{
			Name:     info.Name,
			Datatype: string(info.Precision),
			Shape:    info.Shape.String(),
		})
	}
	return out
}
