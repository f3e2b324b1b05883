package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inferd/internal/errdefs"
	"inferd/internal/metrics"
	"inferd/internal/modelinstance"
	"inferd/internal/pool"
	"inferd/internal/processor"
)

// inflight holds everything a request has acquired. For async requests it
// moves into the engine completion and is released there.
type inflight struct {
	use  *modelinstance.UseLease
	proc processor.Processor
	exec *pool.Lease
	rep  *metrics.Reporter
	once sync.Once
}

// release frees the sequence, the execution context and the use lease, in
// that order. Extra calls are no-ops.
func (f *inflight) release() {
	f.once.Do(func() {
		if f.proc != nil {
			f.proc.Release()
		}
		if f.exec != nil {
			f.exec.Release()
			f.rep.ContextReleased()
		}
		f.use.Release()
	})
}

// InferAsync starts req and returns once the engine accepted it. cb runs on
// an engine goroutine with the response or the failure; when cb is nil the
// adapter's callback for req is used. Errors raised before submission are
// returned directly and cb is not called.
func (e *Executor[Req, Resp]) InferAsync(ctx context.Context, inst *modelinstance.Instance, req Req, cb Callback[Resp]) error {
	if cb == nil {
		cb = e.adapter.Callback(req)
	}
	if cb == nil {
		return fmt.Errorf("%w: async request without a callback", errdefs.ErrInternal)
	}
	start := time.Now()
	rep := metrics.For(inst.Name(), inst.Version())
	ctx, span := e.startSpan(ctx, "infer_async", inst)

	f, err := e.begin(ctx, inst, req, rep)
	if err != nil {
		fail(span, err)
		span.End()
		rep.Request("async", err, time.Since(start))
		return err
	}

	log := e.log.With().Str("model", inst.Name()).Int64("version", inst.Version()).Logger()
	submitted := time.Now()
	var fired sync.Once
	complete := func(runErr error) {
		fired.Do(func() {
			defer span.End()
			defer f.release()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("async callback panicked")
				}
			}()
			rep.Inference(time.Since(submitted))
			var (
				resp Resp
				err  error
			)
			if runErr != nil {
				err = fmt.Errorf("%w: %w", errdefs.ErrInference, runErr)
			} else {
				err = protect(func() (err error) {
					resp, err = e.finish(ctx, f, req)
					return err
				})
			}
			rep.Request("async", err, time.Since(start))
			if err != nil {
				fail(span, err)
				var zero Resp
				cb(zero, err)
				return
			}
			cb(resp, nil)
		})
	}

	err = protect(func() error { return f.exec.Context().RunAsync(complete) })
	if err != nil {
		// The engine refused the job; complete will not run.
		err = fmt.Errorf("%w: %w", errdefs.ErrInference, err)
		fired.Do(func() {})
		f.release()
		fail(span, err)
		span.End()
		rep.Request("async", err, time.Since(start))
		return err
	}
	return nil
}
