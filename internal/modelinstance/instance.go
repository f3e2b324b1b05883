// Package modelinstance owns one loaded model version: its compiled form,
// execution pool, tensor metadata and, for stateful models, its sequence
// manager. Load, reload and retire run through a state machine that never
// hands out a retired resource.
package modelinstance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/pool"
	"inferd/internal/sequence"
	"inferd/internal/tensor"
)

const defaultDrainPoll = 10 * time.Millisecond

// ArtifactSource fetches the files of one model version.
type ArtifactSource interface {
	ReadModelFiles(ctx context.Context, path string) (map[string][]byte, error)
}

// Options wires an Instance to its collaborators.
type Options struct {
	Engine engine.Engine
	Source ArtifactSource
	Logger zerolog.Logger
	// Cleaner, when set, sweeps the instance's sequences while it is loaded.
	Cleaner *sequence.Cleaner
	// SequenceGauge receives the live sequence count of stateful models.
	SequenceGauge sequence.Gauge
	// DrainPoll is the in-flight usage polling period during unload.
	DrainPoll time.Duration
}

// Instance is one (name, version) of a served model.
type Instance struct {
	name    string
	version int64
	opts    Options
	log     zerolog.Logger

	// loadMu serializes load, reload and retire.
	loadMu sync.Mutex

	mu        sync.RWMutex
	state     State
	permanent bool
	cfg       Config
	compiled  engine.CompiledModel
	pool      *pool.Pool
	inputs    map[string]tensor.Info
	outputs   map[string]tensor.Info
	seqs      *sequence.Manager
	changed   chan struct{}

	inUse   atomic.Int64
	reloads atomic.Int64

	subsMu sync.Mutex
	subs   map[int]func(Transition)
	nextID int
}

// New returns an instance in state START.
func New(name string, version int64, opts Options) *Instance {
	if opts.DrainPoll <= 0 {
		opts.DrainPoll = defaultDrainPoll
	}
	return &Instance{
		name:    name,
		version: version,
		opts:    opts,
		log:     opts.Logger.With().Str("model", name).Int64("version", version).Logger(),
		changed: make(chan struct{}),
		subs:    map[int]func(Transition){},
	}
}

func (i *Instance) Name() string   { return i.name }
func (i *Instance) Version() int64 { return i.version }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Config returns a copy of the active configuration.
func (i *Instance) Config() Config {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Clone()
}

// Sequences returns the sequence manager of a stateful model, or nil.
func (i *Instance) Sequences() *sequence.Manager {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.seqs
}

// Reloads counts completed reloads.
func (i *Instance) Reloads() int64 { return i.reloads.Load() }

// InUse returns the in-flight usage count.
func (i *Instance) InUse() int64 { return i.inUse.Load() }

// CanUnload reports whether no use lease is outstanding.
func (i *Instance) CanUnload() bool { return i.inUse.Load() == 0 }

// Subscribe registers fn for every state transition and returns a function
// that removes it. fn runs synchronously on the goroutine that changed the
// state, after the instance lock is released.
func (i *Instance) Subscribe(fn func(Transition)) func() {
	i.subsMu.Lock()
	id := i.nextID
	i.nextID++
	i.subs[id] = fn
	i.subsMu.Unlock()
	return func() {
		i.subsMu.Lock()
		delete(i.subs, id)
		i.subsMu.Unlock()
	}
}

func (i *Instance) notify(t Transition) {
	i.subsMu.Lock()
	fns := make([]func(Transition), 0, len(i.subs))
	for _, fn := range i.subs {
		fns = append(fns, fn)
	}
	i.subsMu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

// setStateLocked must be called with mu held for writing. The caller
// delivers the returned transition with notify after unlocking.
func (i *Instance) setStateLocked(to State, cause error) Transition {
	t := Transition{Name: i.name, Version: i.version, From: i.state, To: to, Err: cause}
	i.state = to
	close(i.changed)
	i.changed = make(chan struct{})
	ev := i.log.Info()
	if cause != nil {
		ev = i.log.Warn().Err(cause)
	}
	ev.Str("from", t.From.String()).Str("to", to.String()).Msg("model state changed")
	return t
}

func (i *Instance) transition(to State, cause error) {
	i.mu.Lock()
	t := i.setStateLocked(to, cause)
	i.mu.Unlock()
	i.notify(t)
}

type built struct {
	compiled engine.CompiledModel
	pool     *pool.Pool
	inputs   map[string]tensor.Info
	outputs  map[string]tensor.Info
}

func (b *built) close() {
	if b == nil {
		return
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.compiled != nil {
		_ = b.compiled.Close()
	}
}

func (i *Instance) build(ctx context.Context, cfg Config) (*built, error) {
	if i.opts.Engine == nil || i.opts.Source == nil {
		return nil, fmt.Errorf("%w: instance has no engine or artifact source", errdefs.ErrInternal)
	}
	files, err := i.opts.Source.ReadModelFiles(ctx, cfg.Path())
	if err != nil {
		return nil, withKind(err, errdefs.ErrPathInvalid, "read %s", cfg.Path())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no model files in %s", errdefs.ErrPathInvalid, cfg.Path())
	}
	model, err := i.opts.Engine.ReadModel(files)
	if err != nil {
		return nil, withKind(err, errdefs.ErrInvalidConfig, "read model")
	}
	cc := engine.CompileConfig{
		BatchSize:    cfg.Batch.Size,
		Shapes:       cfg.shapeOverrides(),
		PluginConfig: cfg.PluginConfig,
	}
	compiled, err := i.opts.Engine.Compile(ctx, model, cfg.TargetDevice, cc)
	if err != nil {
		return nil, withKind(err, errdefs.ErrCompileFailed, "compile for %q", cfg.TargetDevice)
	}
	b := &built{compiled: compiled, inputs: compiled.Inputs(), outputs: compiled.Outputs()}
	size, err := pool.ResolveSize(cfg.Nireq, compiled.OptimalContexts())
	if err != nil {
		b.close()
		return nil, err
	}
	b.pool, err = pool.New(compiled, size)
	if err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

// withKind keeps err's own classification when it has one, otherwise tags
// it with fallback.
func withKind(err, fallback error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errdefs.KindOf(err) != errdefs.KindUnknown || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", fallback, msg, err)
}

func (i *Instance) install(b *built, cfg Config) {
	i.compiled = b.compiled
	i.pool = b.pool
	i.inputs = b.inputs
	i.outputs = b.outputs
	i.cfg = cfg
	if cfg.Stateful && i.seqs == nil {
		i.seqs = sequence.NewManager(i.name, i.version, sequence.Options{
			MaxSequences: cfg.MaxSequenceNumber,
			Logger:       i.opts.Logger,
			Live:         i.opts.SequenceGauge,
		})
		if i.opts.Cleaner != nil {
			i.opts.Cleaner.Register(i.seqs)
		}
	}
	if !cfg.Stateful && i.seqs != nil {
		i.dropSequencesLocked()
	}
}

func (i *Instance) dropSequencesLocked() {
	if i.seqs == nil {
		return
	}
	if i.opts.Cleaner != nil {
		i.opts.Cleaner.Unregister(i.seqs)
	}
	i.seqs = nil
}

// LoadModel moves START (or END) to LOADING, builds the compiled model and
// pool, and ends in AVAILABLE. Any failure leaves the instance in END.
func (i *Instance) LoadModel(ctx context.Context, cfg Config) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()
	if err := cfg.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	if i.state != StateStart && i.state != StateEnd {
		st := i.state
		i.mu.Unlock()
		return fmt.Errorf("%w: load requested in state %s", errdefs.ErrInvalidConfig, st)
	}
	i.permanent = false
	i.cfg = cfg.Clone()
	t := i.setStateLocked(StateLoading, nil)
	i.mu.Unlock()
	i.notify(t)

	b, err := i.build(ctx, cfg)
	if err != nil {
		i.transition(StateEnd, err)
		return err
	}
	i.mu.Lock()
	i.install(b, cfg.Clone())
	t = i.setStateLocked(StateAvailable, nil)
	i.mu.Unlock()
	i.notify(t)
	return nil
}

// ReloadModel replaces the configuration. New use leases are refused while
// in-flight ones drain; they are never cancelled. If the replacement cannot
// be built the previous compiled model is restored and the error returned.
func (i *Instance) ReloadModel(ctx context.Context, cfg Config) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()
	return i.reloadLocked(ctx, cfg)
}

// ReloadWithParameter folds a request's batch size and shapes into the
// active configuration and reloads. It is a no-op when another caller has
// already reloaded to the same configuration.
func (i *Instance) ReloadWithParameter(ctx context.Context, p DynamicParameter) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()
	i.mu.RLock()
	cfg := i.cfg.Apply(p)
	current := i.cfg
	st := i.state
	i.mu.RUnlock()
	if st == StateAvailable && sameLoad(cfg, current) {
		return nil
	}
	return i.reloadLocked(ctx, cfg)
}

func (i *Instance) reloadLocked(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	switch i.state {
	case StateAvailable, StateUnloading, StateLoading:
	default:
		st := i.state
		i.mu.Unlock()
		return fmt.Errorf("%w: reload requested in state %s", errdefs.ErrModelNotLoadedAnymore, st)
	}
	var t Transition
	notifyUnloading := i.state == StateAvailable
	if notifyUnloading {
		t = i.setStateLocked(StateUnloading, nil)
	}
	i.permanent = false
	i.mu.Unlock()
	if notifyUnloading {
		i.notify(t)
	}

	if err := i.waitDrain(ctx); err != nil {
		i.mu.Lock()
		var tt Transition
		restored := i.compiled != nil
		if restored {
			tt = i.setStateLocked(StateAvailable, nil)
		}
		i.mu.Unlock()
		if restored {
			i.notify(tt)
		}
		return err
	}

	i.mu.Lock()
	prev := &built{compiled: i.compiled, pool: i.pool, inputs: i.inputs, outputs: i.outputs}
	prevCfg := i.cfg
	hadPrev := i.compiled != nil
	i.compiled, i.pool = nil, nil
	relabel := i.state != StateLoading
	if relabel {
		t = i.setStateLocked(StateLoading, nil)
	}
	i.mu.Unlock()
	if relabel {
		i.notify(t)
	}

	b, err := i.build(ctx, cfg)
	if err != nil {
		if hadPrev {
			i.log.Warn().Err(err).Msg("reload failed, restoring previous configuration")
			i.mu.Lock()
			i.install(prev, prevCfg)
			t = i.setStateLocked(StateAvailable, err)
			i.mu.Unlock()
			i.notify(t)
			return err
		}
		i.mu.Lock()
		i.dropSequencesLocked()
		t = i.setStateLocked(StateEnd, err)
		i.mu.Unlock()
		i.notify(t)
		return err
	}
	if hadPrev {
		prev.close()
	}
	i.mu.Lock()
	i.install(b, cfg.Clone())
	i.reloads.Add(1)
	t = i.setStateLocked(StateAvailable, nil)
	i.mu.Unlock()
	i.notify(t)
	return nil
}

// RetireModel stops new use leases, waits for in-flight ones, and releases
// the compiled model and pool. A permanent retire ends in END; otherwise the
// instance waits in LOADING for a reload.
func (i *Instance) RetireModel(ctx context.Context, permanent bool) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()
	i.mu.Lock()
	switch i.state {
	case StateStart, StateEnd:
		i.mu.Unlock()
		return nil
	case StateLoading:
		if !permanent {
			i.mu.Unlock()
			return nil
		}
	}
	var t Transition
	notify := i.state != StateUnloading
	if notify {
		t = i.setStateLocked(StateUnloading, nil)
	}
	i.permanent = permanent
	i.mu.Unlock()
	if notify {
		i.notify(t)
	}

	if err := i.waitDrain(ctx); err != nil {
		i.mu.Lock()
		var tt Transition
		restored := i.compiled != nil
		if restored {
			i.permanent = false
			tt = i.setStateLocked(StateAvailable, nil)
		}
		i.mu.Unlock()
		if restored {
			i.notify(tt)
		}
		return err
	}

	i.mu.Lock()
	old := &built{compiled: i.compiled, pool: i.pool}
	i.compiled, i.pool, i.inputs, i.outputs = nil, nil, nil, nil
	to := StateLoading
	if permanent {
		to = StateEnd
		i.dropSequencesLocked()
	}
	t = i.setStateLocked(to, nil)
	i.mu.Unlock()
	old.close()
	i.notify(t)
	return nil
}

func (i *Instance) waitDrain(ctx context.Context) error {
	if i.CanUnload() {
		return nil
	}
	i.log.Debug().Int64("in_use", i.InUse()).Msg("waiting for in-flight requests")
	tick := time.NewTicker(i.opts.DrainPoll)
	defer tick.Stop()
	for !i.CanUnload() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
