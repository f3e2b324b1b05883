package modelinstance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine/enginetest"
	"inferd/internal/engine/identity"
)

// memSource serves a fixed artifact set for any path.
type memSource struct {
	err   error
	paths []string
	mu    sync.Mutex
}

func (s *memSource) ReadModelFiles(ctx context.Context, path string) (map[string][]byte, error) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return map[string][]byte{identity.ManifestFile: nil}, nil
}

// recorder collects transitions.
type recorder struct {
	mu sync.Mutex
	ts []Transition
}

func (r *recorder) add(t Transition) {
	r.mu.Lock()
	r.ts = append(r.ts, t)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.ts)+1)
	for i, t := range r.ts {
		if i == 0 {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}

func newTestInstance(t *testing.T, m identity.Manifest) (*Instance, *enginetest.Engine, *recorder) {
	t.Helper()
	eng := enginetest.New(m)
	inst := New("m", 1, Options{
		Engine:    eng,
		Source:    &memSource{},
		Logger:    zerolog.Nop(),
		DrainPoll: time.Millisecond,
	})
	rec := &recorder{}
	inst.Subscribe(rec.add)
	return inst, eng, rec
}

func baseConfig() Config {
	return Config{Name: "m", Version: 1, BasePath: "/models/m", TargetDevice: "CPU", Nireq: 2}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func loadOrFatal(t *testing.T, inst *Instance, cfg Config) {
	t.Helper()
	if err := inst.LoadModel(testCtx(t), cfg); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
