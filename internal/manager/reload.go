package manager

import (
	"context"
	"errors"
	"fmt"

	"inferd/internal/errdefs"
	"inferd/internal/modelinstance"
)

// ReloadOptions overrides parts of the active configuration on reload.
// Zero fields keep the current value; BatchSize "0" restores the model's own
// batch size.
type ReloadOptions struct {
	BatchSize string
	Shapes    map[string]string
	Nireq     *int
}

func (o ReloadOptions) apply(cfg modelinstance.Config) (modelinstance.Config, error) {
	out := cfg.Clone()
	if o.BatchSize != "" {
		b, err := modelinstance.ParseBatchSize(o.BatchSize)
		if err != nil {
			return out, err
		}
		out.Batch = b
	}
	for name, s := range o.Shapes {
		spec, err := modelinstance.ParseShapeSpec(s)
		if err != nil {
			return out, fmt.Errorf("input %s: %w", name, err)
		}
		if out.Shapes == nil {
			out.Shapes = make(map[string]modelinstance.ShapeSpec, len(o.Shapes))
		}
		out.Shapes[name] = spec
	}
	if o.Nireq != nil {
		if *o.Nireq < 0 {
			return out, fmt.Errorf("%w: nireq %d", errdefs.ErrInvalidConfig, *o.Nireq)
		}
		out.Nireq = *o.Nireq
	}
	return out, nil
}

// Reload rebuilds name/version with opts applied. Version 0 reloads every
// loaded version of the model. In-flight requests finish on the old
// configuration; a failed reload keeps serving the previous one. Each
// version gets up to the drain timeout.
func (m *Manager) Reload(ctx context.Context, name string, version int64, opts ReloadOptions) error {
	targets, err := m.loaded(name, version)
	if err != nil {
		return err
	}
	var errs []error
	for _, in := range targets {
		v := in.model.Version()
		cfg, err := opts.apply(in.model.Config())
		if err != nil {
			return err
		}
		m.publish(EventReloadStart, name, v, nil)
		rctx, cancel := context.WithTimeout(ctx, m.drainTimeout)
		err = in.model.ReloadModel(rctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("model", name).Int64("version", v).Msg("reload failed")
			m.publish(EventReloadFailed, name, v, map[string]any{"error": err.Error()})
			errs = append(errs, fmt.Errorf("%s/%d: %w", name, v, err))
			continue
		}
		m.log.Info().Str("model", name).Int64("version", v).Str("batch_size", cfg.Batch.String()).Msg("model reloaded")
		m.publish(EventReloadDone, name, v, nil)
	}
	return errors.Join(errs...)
}

// loaded returns the versions of name that hold or are acquiring a compiled
// model.
func (m *Manager) loaded(name string, version int64) ([]*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.models[name]
	if !ok {
		return nil, ErrModelNotFound(name)
	}
	var out []*instance
	for _, in := range sortedVersions(versions) {
		if version > 0 && in.model.Version() != version {
			continue
		}
		switch in.model.State() {
		case modelinstance.StateStart, modelinstance.StateEnd:
			if version > 0 {
				return nil, fmt.Errorf("%w: %s/%d is %s", errdefs.ErrModelNotLoadedAnymore, name, version, in.model.State())
			}
			continue
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		if version > 0 {
			return nil, ErrModelNotFound(fmt.Sprintf("%s/%d", name, version))
		}
		return nil, fmt.Errorf("%w: no loaded version of %s", errdefs.ErrModelNotLoadedAnymore, name)
	}
	return out, nil
}
