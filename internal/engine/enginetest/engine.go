// Package enginetest provides a scriptable engine for tests. It runs the
// identity engine underneath and lets tests inject compile failures, block
// or fail runs, and count calls.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"inferd/internal/engine"
	"inferd/internal/engine/identity"
	"inferd/internal/tensor"
)

// Engine is a test double for engine.Engine. Set the Func fields before use;
// unset funcs are ignored. All methods are safe for concurrent use.
type Engine struct {
	Manifest identity.Manifest

	// ReadFunc, when set, replaces artifact parsing.
	ReadFunc func(files map[string][]byte) error
	// CompileFunc runs before every compile; a non-nil error fails it.
	CompileFunc func(device string, cfg engine.CompileConfig) error
	// RunFunc runs before every inference, sync or async. It may block.
	RunFunc func(ctx context.Context) error

	inner identity.Engine

	mu           sync.Mutex
	ReadCalls    int
	CompileCalls int
	RunCalls     int
	Configs      []engine.CompileConfig
	Closed       int
	Contexts     int
}

// New returns an engine serving the given manifest.
func New(m identity.Manifest) *Engine { return &Engine{Manifest: m} }

// Echo returns a manifest with one FP32 input "x" of shape (-1,2) echoed to
// output "y".
func Echo() identity.Manifest {
	return identity.Manifest{
		Inputs:  []identity.TensorSpec{{Name: "x", Precision: "FP32", Shape: "(-1,2)"}},
		Outputs: []identity.TensorSpec{{Name: "y", From: "x"}},
	}
}

// Stateful returns Echo plus a state "h" fed from "x" and exposed as
// output "prev".
func Stateful() identity.Manifest {
	m := Echo()
	m.Inputs[0].Shape = "(1,2)"
	m.States = []identity.TensorSpec{{Name: "h", Precision: "FP32", Shape: "(1,2)", From: "x"}}
	m.Outputs = append(m.Outputs, identity.TensorSpec{Name: "prev", From: identity.StatePrefix + "h"})
	return m
}

func (e *Engine) ReadModel(files map[string][]byte) (engine.Model, error) {
	e.mu.Lock()
	e.ReadCalls++
	fn := e.ReadFunc
	e.mu.Unlock()
	if fn != nil {
		if err := fn(files); err != nil {
			return nil, err
		}
	}
	return identity.FromManifest(e.Manifest)
}

func (e *Engine) Compile(ctx context.Context, model engine.Model, device string, cfg engine.CompileConfig) (engine.CompiledModel, error) {
	e.mu.Lock()
	e.CompileCalls++
	e.Configs = append(e.Configs, cfg)
	fn := e.CompileFunc
	e.mu.Unlock()
	if fn != nil {
		if err := fn(device, cfg); err != nil {
			return nil, err
		}
	}
	cm, err := e.inner.Compile(ctx, model, device, cfg)
	if err != nil {
		return nil, err
	}
	return &compiled{CompiledModel: cm, e: e}, nil
}

// Stats returns call counters under the lock.
func (e *Engine) Stats() (compiles, runs, closed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CompileCalls, e.RunCalls, e.Closed
}

// LastConfig returns the most recent compile config.
func (e *Engine) LastConfig() engine.CompileConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Configs) == 0 {
		return engine.CompileConfig{}
	}
	return e.Configs[len(e.Configs)-1]
}

func (e *Engine) beforeRun(ctx context.Context) error {
	e.mu.Lock()
	e.RunCalls++
	fn := e.RunFunc
	e.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

type compiled struct {
	engine.CompiledModel
	e *Engine
}

func (c *compiled) CreateContext() (engine.ExecutionContext, error) {
	ec, err := c.CompiledModel.CreateContext()
	if err != nil {
		return nil, err
	}
	c.e.mu.Lock()
	c.e.Contexts++
	c.e.mu.Unlock()
	return &execContext{ExecutionContext: ec, e: c.e}, nil
}

func (c *compiled) Close() error {
	c.e.mu.Lock()
	c.e.Closed++
	c.e.mu.Unlock()
	return c.CompiledModel.Close()
}

type execContext struct {
	engine.ExecutionContext
	e *Engine
}

func (x *execContext) Run(ctx context.Context) error {
	if err := x.e.beforeRun(ctx); err != nil {
		return err
	}
	return x.ExecutionContext.Run(ctx)
}

func (x *execContext) RunAsync(done func(error)) error {
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("engine panic: %v", r)
				}
			}()
			err = x.Run(context.Background())
		}()
		done(err)
	}()
	return nil
}

// F32 builds an FP32 tensor from values.
func F32(dims []int64, vals ...float32) tensor.Tensor {
	return tensor.Tensor{Precision: tensor.FP32, Shape: dims, Data: tensor.EncodeFloat32(vals)}
}

// Interface guards.
var (
	_ engine.Engine           = (*Engine)(nil)
	_ engine.CompiledModel    = (*compiled)(nil)
	_ engine.ExecutionContext = (*execContext)(nil)
)
