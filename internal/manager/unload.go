package manager

import (
	"context"
	"errors"
	"fmt"

	"inferd/internal/modelinstance"
)

// Unload retires name/version permanently. Version 0 retires every loaded
// version. New requests are refused at once; in-flight ones get up to the
// drain timeout to finish, after which the version is restored and the
// timeout returned.
func (m *Manager) Unload(ctx context.Context, name string, version int64) error {
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	targets, err := m.loaded(name, version)
	if err != nil {
		return err
	}
	var errs []error
	for _, in := range targets {
		if err := m.retire(ctx, name, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) retire(ctx context.Context, name string, in *instance) error {
	v := in.model.Version()
	m.publish(EventUnloadStart, name, v, nil)
	dctx, cancel := context.WithTimeout(ctx, m.drainTimeout)
	defer cancel()
	if err := in.model.RetireModel(dctx, true); err != nil {
		m.publish(EventUnloadTimeout, name, v, map[string]any{"inflight": in.model.InUse(), "queue": len(in.queueCh)})
		return fmt.Errorf("%s/%d: %w", name, v, err)
	}
	m.log.Info().Str("model", name).Int64("version", v).Msg("model unloaded")
	m.publish(EventUnloadDone, name, v, nil)
	return nil
}

// Close stops the sequence cleaner and retires every version. It returns the
// drain errors of versions that did not finish in time.
func (m *Manager) Close(ctx context.Context) error {
	if m.cleaner != nil {
		m.cleaner.Stop()
	}
	m.mu.RLock()
	var all []*instance
	for _, name := range m.order {
		all = append(all, sortedVersions(m.models[name])...)
	}
	m.mu.RUnlock()

	var errs []error
	for _, in := range all {
		switch in.model.State() {
		case modelinstance.StateStart, modelinstance.StateEnd:
		default:
			if err := m.retire(ctx, in.model.Name(), in); err != nil {
				// Still serving: keep its events and metrics.
				errs = append(errs, err)
				continue
			}
		}
		in.unsubscribe()
		in.rep.Forget()
	}
	return errors.Join(errs...)
}
