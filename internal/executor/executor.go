// Package executor runs inference requests against a model instance. It
// takes a use lease, validates the request (reloading the instance when the
// request asks for another batch size or shape), leases an execution
// context, converts inputs, runs the engine and writes outputs through a
// dialect adapter.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inferd/internal/errdefs"
	"inferd/internal/metrics"
	"inferd/internal/modelinstance"
	"inferd/internal/processor"
	"inferd/internal/tensor"
)

const tracerName = "inferd/internal/executor"

// DefaultWaitForLoaded bounds how long a request waits for a loading or
// reloading instance.
const DefaultWaitForLoaded = 10 * time.Second

// Options configures an Executor.
type Options struct {
	Logger zerolog.Logger
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// WaitForLoaded is the use-lease wait on instances that are not yet
	// AVAILABLE. Negative means fail at once.
	WaitForLoaded time.Duration
}

// Executor serves one request dialect.
type Executor[Req, Resp any] struct {
	adapter Adapter[Req, Resp]
	log     zerolog.Logger
	tracer  trace.Tracer
	wait    time.Duration
}

// New returns an executor for adapter a.
func New[Req, Resp any](a Adapter[Req, Resp], opts Options) *Executor[Req, Resp] {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	switch {
	case opts.WaitForLoaded == 0:
		opts.WaitForLoaded = DefaultWaitForLoaded
	case opts.WaitForLoaded < 0:
		opts.WaitForLoaded = 0
	}
	return &Executor[Req, Resp]{adapter: a, log: opts.Logger, tracer: opts.Tracer, wait: opts.WaitForLoaded}
}

// Infer runs req synchronously.
func (e *Executor[Req, Resp]) Infer(ctx context.Context, inst *modelinstance.Instance, req Req) (Resp, error) {
	var zero Resp
	start := time.Now()
	rep := metrics.For(inst.Name(), inst.Version())
	ctx, span := e.startSpan(ctx, "infer", inst)
	defer span.End()

	done := func(err error) error {
		if err != nil {
			fail(span, err)
		}
		rep.Request("sync", err, time.Since(start))
		return err
	}

	f, err := e.begin(ctx, inst, req, rep)
	if err != nil {
		return zero, done(err)
	}
	defer f.release()

	t0 := time.Now()
	err = e.stage(ctx, "prediction", func() error {
		return protect(func() error { return f.exec.Context().Run(ctx) })
	})
	rep.Inference(time.Since(t0))
	if err != nil {
		return zero, done(fmt.Errorf("%w: %w", errdefs.ErrInference, err))
	}

	resp, err := e.finish(ctx, f, req)
	if err != nil {
		return zero, done(err)
	}
	return resp, done(nil)
}

// begin runs every stage up to and including pre-inference processing. On
// success the returned inflight owns the use lease, the execution lease and
// the processor.
func (e *Executor[Req, Resp]) begin(ctx context.Context, inst *modelinstance.Instance, req Req, rep *metrics.Reporter) (*inflight, error) {
	params, err := e.adapter.SequenceParams(req)
	if err != nil {
		return nil, err
	}
	inputs, err := e.extract(req)
	if err != nil {
		return nil, err
	}
	descs := make([]modelinstance.InputDesc, len(inputs))
	for i, in := range inputs {
		descs[i] = in.desc()
	}

	f := &inflight{rep: rep}
	ok := false
	defer func() {
		if !ok {
			f.release()
		}
	}()

	if err := e.use(ctx, inst, f, params); err != nil {
		return nil, err
	}
	var v modelinstance.Validation
	err = e.stage(ctx, "validate", func() (err error) {
		v, err = f.use.Validate(descs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v.NeedsReload() {
		// Our own use lease would keep the reload from draining.
		f.use.Release()
		f.use = nil
		e.log.Debug().Str("model", inst.Name()).Int64("version", inst.Version()).
			Int64("batch_size", v.Param.BatchSize).Int("reshaped_inputs", len(v.Param.Shapes)).
			Msg("reloading for request")
		err = e.stage(ctx, "reload", func() error { return inst.ReloadWithParameter(ctx, v.Param) })
		if err != nil {
			return nil, err
		}
		if err := e.use(ctx, inst, f, params); err != nil {
			return nil, err
		}
		v, err = f.use.Validate(descs)
		if err != nil {
			return nil, err
		}
		if v.NeedsReload() {
			cause := errdefs.ErrInvalidBatchSize
			if v.Reshape {
				cause = errdefs.ErrInvalidShape
			}
			return nil, fmt.Errorf("%w: %s version %d was reloaded to another configuration meanwhile", cause, inst.Name(), inst.Version())
		}
	}

	if err := e.stage(ctx, "prepare", f.proc.Prepare); err != nil {
		return nil, err
	}

	waitStart := time.Now()
	err = e.stage(ctx, "get_infer_request", func() error {
		lease, err := f.use.Pool().Acquire(ctx)
		if err != nil {
			return err
		}
		f.exec = lease
		rep.ContextAcquired()
		return nil
	})
	rep.WaitForContext(time.Since(waitStart))
	if err != nil {
		return nil, err
	}

	ec := f.exec.Context()
	if err := e.stage(ctx, "deserialize", func() error { return deserialize(f.use.Inputs(), inputs, ec) }); err != nil {
		return nil, err
	}
	if err := e.stage(ctx, "pre", func() error { return f.proc.PreInferenceProcessing(ec) }); err != nil {
		return nil, err
	}
	ok = true
	return f, nil
}

// use takes a use lease on inst and a fresh processor bound to it.
func (e *Executor[Req, Resp]) use(ctx context.Context, inst *modelinstance.Instance, f *inflight, params processor.Params) error {
	err := e.stage(ctx, "wait_for_loaded", func() (err error) {
		f.use, err = inst.WaitForLoaded(ctx, e.wait)
		return err
	})
	if err != nil {
		return err
	}
	f.proc = processor.New(f.use)
	return f.proc.ExtractRequestParameters(params)
}

func (e *Executor[Req, Resp]) extract(req Req) ([]Input, error) {
	names := e.adapter.InputNames(req)
	inputs := make([]Input, 0, len(names))
	for _, name := range names {
		in, err := e.adapter.ExtractInput(req, name)
		if err != nil {
			return nil, err
		}
		in.Name = name
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// finish runs post-inference processing and writes the outputs.
func (e *Executor[Req, Resp]) finish(ctx context.Context, f *inflight, req Req) (Resp, error) {
	var zero Resp
	resp := e.adapter.NewResponse(req)
	write := func(name string, t tensor.Tensor) error { return e.adapter.WriteOutput(resp, name, t) }
	ec := f.exec.Context()
	if err := e.stage(ctx, "post", func() error { return f.proc.PostInferenceProcessing(write, ec) }); err != nil {
		return zero, err
	}
	if err := e.stage(ctx, "serialize", func() error { return serialize(f.use.Outputs(), ec, write) }); err != nil {
		return zero, err
	}
	return resp, nil
}

func (e *Executor[Req, Resp]) startSpan(ctx context.Context, name string, inst *modelinstance.Instance) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("model.name", inst.Name()),
		attribute.Int64("model.version", inst.Version()),
	))
}

// stage runs fn inside a child span.
func (e *Executor[Req, Resp]) stage(ctx context.Context, name string, fn func() error) error {
	_, span := e.tracer.Start(ctx, name)
	err := fn()
	if err != nil {
		fail(span, err)
	}
	span.End()
	return err
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", errdefs.KindOf(err).String()))
}

// protect turns a panic in fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errdefs.ErrInternal, r)
		}
	}()
	return fn()
}
