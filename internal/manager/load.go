package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"inferd/internal/errdefs"
	"inferd/internal/metrics"
	"inferd/internal/modelinstance"
)

// LoadAll discovers the versions of every configured model and loads them.
// Failed versions stay listed with their error; the manager is ready when at
// least one version is serving.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	if m.cleaner != nil {
		if err := m.cleaner.Start(); err != nil {
			return err
		}
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultLoadParallelism)
	for _, name := range order {
		tmpl := m.template(name)
		versions, err := m.versions(tmpl.BasePath)
		if err == nil && len(versions) == 0 {
			err = fmt.Errorf("%w: no versions under %s", errdefs.ErrPathInvalid, tmpl.BasePath)
		}
		if err != nil {
			m.log.Error().Err(err).Str("model", name).Msg("version discovery failed")
			errMu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			errMu.Unlock()
			continue
		}
		for _, v := range versions {
			cfg := tmpl.Clone()
			cfg.Version = v
			in := m.register(cfg)
			g.Go(func() error {
				if err := m.loadInstance(gctx, in, cfg); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("%s/%d: %w", cfg.Name, cfg.Version, err))
					errMu.Unlock()
				}
				// A failed version does not stop its siblings.
				return nil
			})
		}
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	m.mu.Lock()
	if m.anyAvailableLocked() {
		m.state = StateReady
	} else {
		m.state = StateError
	}
	if err != nil {
		m.err = err.Error()
	}
	m.mu.Unlock()
	return err
}

// Load loads one version of a configured model. A version that is already
// registered is loaded again only if it has ended.
func (m *Manager) Load(ctx context.Context, name string, version int64) error {
	m.mu.RLock()
	tmpl, ok := m.templates[name]
	in := m.models[name][version]
	m.mu.RUnlock()
	if !ok || version <= 0 {
		return ErrModelNotFound(fmt.Sprintf("%s/%d", name, version))
	}
	cfg := tmpl.Clone()
	cfg.Version = version
	if in == nil {
		in = m.register(cfg)
	}
	err := m.loadInstance(ctx, in, cfg)
	m.mu.Lock()
	if err == nil && m.state != StateReady {
		m.state = StateReady
		m.err = ""
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) template(name string) modelinstance.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templates[name]
}

// register creates the bookkeeping for one version and subscribes to its
// transitions.
func (m *Manager) register(cfg modelinstance.Config) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in := m.models[cfg.Name][cfg.Version]; in != nil {
		return in
	}
	rep := metrics.For(cfg.Name, cfg.Version)
	in := &instance{rep: rep, queueCh: make(chan struct{}, m.maxQueueDepth)}
	in.model = modelinstance.New(cfg.Name, cfg.Version, modelinstance.Options{
		Engine:        m.engine,
		Source:        m.source,
		Logger:        m.log,
		Cleaner:       m.cleaner,
		SequenceGauge: rep.Sequences(),
	})
	in.unsubscribe = in.model.Subscribe(func(t modelinstance.Transition) { m.onTransition(in, t) })
	if m.models[cfg.Name] == nil {
		m.models[cfg.Name] = make(map[int64]*instance)
	}
	m.models[cfg.Name][cfg.Version] = in
	return in
}

func (m *Manager) loadInstance(ctx context.Context, in *instance, cfg modelinstance.Config) error {
	m.publish(EventLoadStart, cfg.Name, cfg.Version, nil)
	m.mu.Lock()
	m.loads++
	m.mu.Unlock()
	if err := in.model.LoadModel(ctx, cfg); err != nil {
		m.log.Error().Err(err).Str("model", cfg.Name).Int64("version", cfg.Version).Msg("model load failed")
		m.mu.Lock()
		in.lastErr = err.Error()
		m.mu.Unlock()
		m.publish(EventLoadFailed, cfg.Name, cfg.Version, map[string]any{"error": err.Error()})
		return err
	}
	m.log.Info().Str("model", cfg.Name).Int64("version", cfg.Version).Msg("model loaded")
	m.publish(EventLoadDone, cfg.Name, cfg.Version, nil)
	return nil
}
