package executor

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine/enginetest"
	"inferd/internal/engine/identity"
	"inferd/internal/modelinstance"
	"inferd/internal/processor"
	"inferd/internal/tensor"
)

type testReq struct {
	inputs map[string]Input
	params processor.Params
	cb     Callback[*testResp]
}

type testResp struct {
	outputs map[string]tensor.Tensor
}

type testAdapter struct{}

func (testAdapter) InputNames(r *testReq) []string {
	names := make([]string, 0, len(r.inputs))
	for n := range r.inputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (testAdapter) ExtractInput(r *testReq, name string) (Input, error) {
	in, ok := r.inputs[name]
	if !ok {
		return Input{}, fmt.Errorf("no input %q", name)
	}
	return in, nil
}

func (testAdapter) SequenceParams(r *testReq) (processor.Params, error) { return r.params, nil }
func (testAdapter) NewResponse(*testReq) *testResp {
	return &testResp{outputs: map[string]tensor.Tensor{}}
}

func (testAdapter) WriteOutput(resp *testResp, name string, t tensor.Tensor) error {
	resp.outputs[name] = t
	return nil
}

func (testAdapter) Callback(r *testReq) Callback[*testResp] { return r.cb }

func xReq(dims []int64, vals ...float32) *testReq {
	return &testReq{inputs: map[string]Input{"x": {Tensor: enginetest.F32(dims, vals...)}}}
}

type memSource struct{}

func (memSource) ReadModelFiles(ctx context.Context, path string) (map[string][]byte, error) {
	return map[string][]byte{identity.ManifestFile: nil}, nil
}

func baseConfig() modelinstance.Config {
	return modelinstance.Config{Name: "m", Version: 1, BasePath: "/models/m", TargetDevice: "CPU", Nireq: 2}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// loaded returns an AVAILABLE instance over a scriptable engine.
func loaded(t *testing.T, m identity.Manifest, cfg modelinstance.Config) (*modelinstance.Instance, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New(m)
	inst := modelinstance.New(cfg.Name, cfg.Version, modelinstance.Options{
		Engine:    eng,
		Source:    memSource{},
		Logger:    zerolog.Nop(),
		DrainPoll: time.Millisecond,
	})
	if err := inst.LoadModel(testCtx(t), cfg); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	return inst, eng
}

func newExecutor() *Executor[*testReq, *testResp] {
	return New[*testReq, *testResp](testAdapter{}, Options{Logger: zerolog.Nop(), WaitForLoaded: 2 * time.Second})
}

// waitIdle waits until the instance holds no use lease and no context.
func waitIdle(t *testing.T, inst *modelinstance.Instance) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inst.InUse() == 0 && inst.Status().PoolInUse == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("leases still held: use=%d contexts=%d", inst.InUse(), inst.Status().PoolInUse)
}

type result struct {
	resp *testResp
	err  error
}

// collector is an async callback that hands results to a channel.
type collector struct {
	ch chan result
}

func newCollector() *collector { return &collector{ch: make(chan result, 1)} }

func (c *collector) cb(resp *testResp, err error) { c.ch <- result{resp, err} }

func (c *collector) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not invoked")
		return result{}
	}
}
