package modelinstance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inferd/internal/errdefs"
	"inferd/internal/pool"
	"inferd/internal/sequence"
	"inferd/internal/tensor"
)

// UseLease keeps the instance from unloading while a request runs. It
// carries the metadata that was active when it was granted; a reload cannot
// swap it out from under the holder.
type UseLease struct {
	inst    *Instance
	pool    *pool.Pool
	inputs  map[string]tensor.Info
	outputs map[string]tensor.Info
	seqs    *sequence.Manager
	cfg     Config
	once    sync.Once
}

// AcquireUse grants a lease if the instance is AVAILABLE.
func (i *Instance) AcquireUse() (*UseLease, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != StateAvailable {
		return nil, i.unavailableLocked()
	}
	i.inUse.Add(1)
	return &UseLease{
		inst:    i,
		pool:    i.pool,
		inputs:  i.inputs,
		outputs: i.outputs,
		seqs:    i.seqs,
		cfg:     i.cfg,
	}, nil
}

func (i *Instance) unavailableLocked() error {
	if i.state == StateEnd || (i.state == StateUnloading && i.permanent) {
		return fmt.Errorf("%w: %s version %d is %s", errdefs.ErrModelNotLoadedAnymore, i.name, i.version, i.state)
	}
	return fmt.Errorf("%w: %s version %d is %s", errdefs.ErrModelNotLoadedYet, i.name, i.version, i.state)
}

// WaitForLoaded waits up to timeout for the instance to become AVAILABLE and
// returns a use lease. It fails at once if the instance is being retired for
// good.
func (i *Instance) WaitForLoaded(ctx context.Context, timeout time.Duration) (*UseLease, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		l, err := i.AcquireUse()
		if err == nil {
			return l, nil
		}
		i.mu.RLock()
		changed := i.changed
		final := i.state == StateEnd || (i.state == StateUnloading && i.permanent)
		i.mu.RUnlock()
		if final || timeout == 0 {
			return nil, err
		}
		select {
		case <-changed:
		case <-expired:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release ends the lease. Extra calls are no-ops.
func (l *UseLease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.inst.inUse.Add(-1) })
}

func (l *UseLease) Instance() *Instance             { return l.inst }
func (l *UseLease) Pool() *pool.Pool                { return l.pool }
func (l *UseLease) Inputs() map[string]tensor.Info  { return l.inputs }
func (l *UseLease) Outputs() map[string]tensor.Info { return l.outputs }
func (l *UseLease) Sequences() *sequence.Manager    { return l.seqs }
func (l *UseLease) Config() Config                  { return l.cfg }
