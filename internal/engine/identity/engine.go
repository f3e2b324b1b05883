package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"inferd/internal/engine"
	"inferd/internal/errdefs"
	"inferd/internal/tensor"
)

var errClosed = errors.New("compiled model closed")

// Engine reads manifests and compiles them for the CPU.
type Engine struct{}

// New returns an identity engine.
func New() *Engine { return &Engine{} }

// ReadModel parses model.yaml from the artifact set.
func (e *Engine) ReadModel(files map[string][]byte) (engine.Model, error) {
	b, ok := files[ManifestFile]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", errdefs.ErrPathInvalid, ManifestFile)
	}
	man, err := ParseManifest(b)
	if err != nil {
		return nil, err
	}
	return FromManifest(man)
}

// Compile applies batch and shape overrides. Only CPU and AUTO devices are
// supported.
func (e *Engine) Compile(ctx context.Context, model engine.Model, device string, cfg engine.CompileConfig) (engine.CompiledModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, ok := model.(*Model)
	if !ok {
		return nil, fmt.Errorf("%w: foreign model type %T", errdefs.ErrCompileFailed, model)
	}
	switch strings.ToUpper(device) {
	case "", "CPU", "AUTO":
	default:
		return nil, fmt.Errorf("%w: device %q not supported", errdefs.ErrCompileFailed, device)
	}
	cm := &CompiledModel{
		model:   m,
		inputs:  map[string]tensor.Info{},
		outputs: map[string]tensor.Info{},
		states:  map[string]tensor.Info{},
	}
	for _, in := range m.inputs {
		info := in.Clone()
		if cfg.BatchSize > 0 && info.HasBatch() {
			info.Shape[info.BatchIndex] = tensor.Fixed(cfg.BatchSize)
		}
		if s, ok := cfg.Shapes[info.Name]; ok {
			if len(s) != len(info.Shape) {
				return nil, fmt.Errorf("%w: input %q: cannot reshape %s to %s", errdefs.ErrCompileFailed, info.Name, info.Shape, s)
			}
			info.Shape = s.Clone()
		}
		cm.inputs[info.Name] = info
	}
	for name := range cfg.Shapes {
		if _, ok := cm.inputs[name]; !ok {
			return nil, fmt.Errorf("%w: shape override for unknown input %q", errdefs.ErrCompileFailed, name)
		}
	}
	for _, st := range m.states {
		cm.states[st.Name] = st.Clone()
	}
	for _, out := range m.outputs {
		info := out.Clone()
		src := m.outFrom[out.Name]
		if name, ok := strings.CutPrefix(src, StatePrefix); ok {
			info.Shape = cm.states[name].Shape.Clone()
		} else {
			info.Shape = cm.inputs[src].Shape.Clone()
			info.BatchIndex = cm.inputs[src].BatchIndex
		}
		cm.outputs[info.Name] = info
	}
	return cm, nil
}

// CompiledModel is a manifest bound to concrete shapes.
type CompiledModel struct {
	model   *Model
	inputs  map[string]tensor.Info
	outputs map[string]tensor.Info
	states  map[string]tensor.Info

	mu     sync.Mutex
	closed bool
}

func (c *CompiledModel) Inputs() map[string]tensor.Info  { return tensor.CloneInfos(c.inputs) }
func (c *CompiledModel) Outputs() map[string]tensor.Info { return tensor.CloneInfos(c.outputs) }
func (c *CompiledModel) OptimalContexts() int            { return c.model.optimal }

func (c *CompiledModel) CreateContext() (engine.ExecutionContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	ec := &Context{cm: c, inputs: map[string]tensor.Tensor{}, outputs: map[string]tensor.Tensor{}}
	ec.ResetState()
	return ec, nil
}

func (c *CompiledModel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Context is one execution context.
type Context struct {
	cm *CompiledModel

	mu      sync.Mutex
	inputs  map[string]tensor.Tensor
	outputs map[string]tensor.Tensor
	states  map[string]tensor.Tensor
}

func (c *Context) SetInput(name string, t tensor.Tensor) error {
	info, ok := c.cm.inputs[name]
	if !ok {
		return fmt.Errorf("unknown input %q", name)
	}
	if t.Precision != info.Precision {
		return fmt.Errorf("input %q: precision %s, expected %s", name, t.Precision, info.Precision)
	}
	if !info.Shape.Match(t.Shape) {
		return fmt.Errorf("input %q: shape %s does not fit %s", name, tensor.DimsString(t.Shape), info.Shape)
	}
	c.mu.Lock()
	c.inputs[name] = t
	c.mu.Unlock()
	return nil
}

func (c *Context) Output(name string) (tensor.Tensor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.outputs[name]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("output %q not produced", name)
	}
	return t, nil
}

func (c *Context) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	outputs := make(map[string]tensor.Tensor, len(c.cm.outputs))
	for name := range c.cm.outputs {
		src := c.cm.model.outFrom[name]
		if st, ok := strings.CutPrefix(src, StatePrefix); ok {
			outputs[name] = c.states[st].Clone()
			continue
		}
		in, ok := c.inputs[src]
		if !ok {
			return fmt.Errorf("input %q not set", src)
		}
		outputs[name] = in.Clone()
	}
	for st, src := range c.cm.model.stFrom {
		in, ok := c.inputs[src]
		if !ok {
			return fmt.Errorf("input %q not set", src)
		}
		c.states[st] = in.Clone()
	}
	c.outputs = outputs
	return nil
}

func (c *Context) RunAsync(done func(error)) error {
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("engine panic: %v", r)
				}
			}()
			err = c.Run(context.Background())
		}()
		done(err)
	}()
	return nil
}

func (c *Context) StateNames() []string {
	names := make([]string, 0, len(c.cm.states))
	for n := range c.cm.states {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Context) GetState(name string) (tensor.Tensor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.states[name]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("unknown state %q", name)
	}
	return t.Clone(), nil
}

func (c *Context) SetState(name string, t tensor.Tensor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cm.states[name]; !ok {
		return fmt.Errorf("unknown state %q", name)
	}
	c.states[name] = t.Clone()
	return nil
}

func (c *Context) ResetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = make(map[string]tensor.Tensor, len(c.cm.states))
	for name, info := range c.cm.states {
		dims := make([]int64, len(info.Shape))
		for i, d := range info.Shape {
			dims[i] = 1
			if d.IsStatic() {
				dims[i] = d.Min
			} else if d.Min > 0 {
				dims[i] = d.Min
			}
		}
		c.states[name] = tensor.Zero(info.Precision, dims)
	}
}

func (c *Context) Close() error { return nil }
