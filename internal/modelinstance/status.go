package modelinstance

import (
	"sort"

	"inferd/internal/tensor"
)

// Status is a point-in-time view of an instance.
type Status struct {
	Name         string
	Version      int64
	State        State
	InUse        int64
	PoolSize     int
	PoolInUse    int
	Reloads      int64
	Stateful     bool
	Sequences    int
	MaxSequences int
	BatchSize    string
	Shapes       map[string]string
	Inputs       []tensor.Info
	Outputs      []tensor.Info
}

// Status returns the current view.
func (i *Instance) Status() Status {
	i.mu.RLock()
	st := Status{
		Name:      i.name,
		Version:   i.version,
		State:     i.state,
		InUse:     i.inUse.Load(),
		Reloads:   i.reloads.Load(),
		Stateful:  i.cfg.Stateful,
		BatchSize: i.cfg.Batch.String(),
		Inputs:    sortedInfos(i.inputs),
		Outputs:   sortedInfos(i.outputs),
	}
	if len(i.cfg.Shapes) > 0 {
		st.Shapes = make(map[string]string, len(i.cfg.Shapes))
		for k, v := range i.cfg.Shapes {
			st.Shapes[k] = v.String()
		}
	}
	p, seqs := i.pool, i.seqs
	i.mu.RUnlock()
	if p != nil {
		st.PoolSize = p.Size()
		st.PoolInUse = p.InUse()
	}
	if seqs != nil {
		st.Sequences = seqs.Len()
		st.MaxSequences = seqs.MaxSequences()
	}
	return st
}

func sortedInfos(m map[string]tensor.Info) []tensor.Info {
	if len(m) == 0 {
		return nil
	}
	out := make([]tensor.Info, 0, len(m))
	for _, v := range m {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
