// Package engine declares the execution-engine capabilities the serving core
// consumes. Implementations compile model artifacts for a device and hand out
// execution contexts; the core never looks inside them.
package engine

import (
	"context"

	"inferd/internal/tensor"
)

// Engine reads and compiles models.
type Engine interface {
	// ReadModel parses model artifacts keyed by file name.
	ReadModel(files map[string][]byte) (Model, error)
	// Compile builds a device-specific executable for model.
	Compile(ctx context.Context, model Model, device string, cfg CompileConfig) (CompiledModel, error)
}

// Model is a parsed, device-independent model.
type Model interface {
	Inputs() []tensor.Info
	Outputs() []tensor.Info
}

// CompileConfig carries the overrides applied at compile time.
type CompileConfig struct {
	// BatchSize overrides the batch dimension of every batched input when > 0.
	BatchSize int64
	// Shapes overrides whole input shapes by input name.
	Shapes map[string]tensor.Shape
	// PluginConfig is passed through to the device plugin.
	PluginConfig map[string]string
}

// CompiledModel is an executable model bound to one device.
type CompiledModel interface {
	Inputs() map[string]tensor.Info
	Outputs() map[string]tensor.Info
	// OptimalContexts is the device's preferred number of parallel
	// execution contexts, or 0 when it has no opinion.
	OptimalContexts() int
	CreateContext() (ExecutionContext, error)
	Close() error
}

// ExecutionContext runs one inference at a time and owns the model's
// internal memory state for stateful models.
type ExecutionContext interface {
	SetInput(name string, t tensor.Tensor) error
	Output(name string) (tensor.Tensor, error)
	Run(ctx context.Context) error
	// RunAsync starts inference and returns immediately; done is called
	// exactly once, from an engine goroutine, with the outcome.
	RunAsync(done func(error)) error
	// StateNames lists the internal state variables; empty for stateless
	// models.
	StateNames() []string
	GetState(name string) (tensor.Tensor, error)
	SetState(name string, t tensor.Tensor) error
	// ResetState sets every state variable to its default value.
	ResetState()
	Close() error
}
