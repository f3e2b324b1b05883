package manager

import (
	"context"
	"fmt"
	"sync"

	"inferd/internal/adapter/restjson"
	"inferd/internal/errdefs"
	"inferd/internal/executor"
	"inferd/internal/modelinstance"
	"inferd/internal/tensor"
	"inferd/pkg/types"
)

// Infer runs one request against name/version. Version 0 selects the
// highest available version.
func (m *Manager) Infer(ctx context.Context, name string, version int64, body *types.InferRequest) (*types.InferResponse, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: empty request", errdefs.ErrInvalidNoOfInputs)
	}
	in, err := m.resolve(name, version)
	if err != nil {
		return nil, err
	}
	// Admission: per-version bounded queue
	release, err := m.admit(ctx, name, in)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.exec.Infer(ctx, in.model, m.request(in, body, nil))
}

// InferAsync submits a request and returns once it is running. cb receives
// the result exactly once unless InferAsync itself returns an error.
func (m *Manager) InferAsync(ctx context.Context, name string, version int64, body *types.InferRequest, cb executor.Callback[*types.InferResponse]) error {
	if cb == nil {
		return fmt.Errorf("%w: missing completion callback", errdefs.ErrInternal)
	}
	if body == nil {
		return fmt.Errorf("%w: empty request", errdefs.ErrInvalidNoOfInputs)
	}
	in, err := m.resolve(name, version)
	if err != nil {
		return err
	}
	release, err := m.admit(ctx, name, in)
	if err != nil {
		return err
	}
	var once sync.Once
	done := func(resp *types.InferResponse, err error) {
		once.Do(release)
		cb(resp, err)
	}
	if err := m.exec.InferAsync(ctx, in.model, m.request(in, body, done), nil); err != nil {
		once.Do(release)
		return err
	}
	return nil
}

func (m *Manager) request(in *instance, body *types.InferRequest, done executor.Callback[*types.InferResponse]) *restjson.Request {
	st := in.model.Status()
	declared := make(map[string]tensor.Info, len(st.Inputs))
	for _, info := range st.Inputs {
		declared[info.Name] = info
	}
	return &restjson.Request{
		Body:     body,
		Model:    st.Name,
		Version:  st.Version,
		Declared: declared,
		Done:     done,
	}
}

// resolve finds the instance serving name/version.
func (m *Manager) resolve(name string, version int64) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.models[name]
	if version > 0 {
		if in := versions[version]; in != nil {
			return in, nil
		}
		return nil, ErrModelNotFound(fmt.Sprintf("%s/%d", name, version))
	}
	var best, fallback *instance
	for _, in := range sortedVersions(versions) {
		fallback = in
		if in.model.State() == modelinstance.StateAvailable {
			best = in
		}
	}
	if best != nil {
		return best, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrModelNotFound(name)
}
