package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine/enginetest"
	"inferd/internal/engine/identity"
	"inferd/internal/modelinstance"
	"inferd/pkg/types"
)

type memSource struct{}

func (memSource) ReadModelFiles(ctx context.Context, path string) (map[string][]byte, error) {
	return map[string][]byte{identity.ManifestFile: nil}, nil
}

// fixedVersions serves version lists keyed by base path.
func fixedVersions(byPath map[string][]int64) func(string) ([]int64, error) {
	return func(p string) ([]int64, error) {
		v, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("no such directory: %s", p)
		}
		return v, nil
	}
}

func template(name string) modelinstance.Config {
	return modelinstance.Config{Name: name, BasePath: "/models/" + name, TargetDevice: "CPU", Nireq: 2}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// newTestManager builds a manager serving "m" versions 1 and 2 with the echo
// manifest. mutate may adjust the config before construction.
func newTestManager(t *testing.T, mutate func(*ManagerConfig)) (*Manager, *enginetest.Engine, *MemoryPublisher) {
	t.Helper()
	eng := enginetest.New(enginetest.Echo())
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		Models:          []modelinstance.Config{template("m")},
		Engine:          eng,
		Source:          memSource{},
		Logger:          zerolog.Nop(),
		Publisher:       pub,
		WaitForLoaded:   time.Second,
		DrainTimeout:    time.Second,
		CleanerInterval: -1,
		Versions:        fixedVersions(map[string][]int64{"/models/m": {1, 2}}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, eng, pub
}

func loadAll(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.LoadAll(testCtx(t)); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
}

func echoBody(vals ...string) *types.InferRequest {
	data := make([]json.Number, len(vals))
	for i, v := range vals {
		data[i] = json.Number(v)
	}
	return &types.InferRequest{Inputs: map[string]types.TensorInput{
		"x": {Datatype: "FP32", Shape: []int64{1, int64(len(vals))}, Data: data},
	}}
}

func (m *Manager) instanceFor(t *testing.T, name string, version int64) *instance {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := m.models[name][version]
	if in == nil {
		t.Fatalf("no instance %s/%d", name, version)
	}
	return in
}
