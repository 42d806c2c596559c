package async

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"
)

// Dispatcher executes handlers asynchronously with panic recovery and a
// concurrency bound. Webhook handlers use it to acknowledge deliveries
// before the run they start has finished.
type Dispatcher struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a Dispatcher that runs at most maxConcurrent handlers at a
// time. A bound below 1 means unbounded.
func New(maxConcurrent int) *Dispatcher {
	d := &Dispatcher{}
	if maxConcurrent > 0 {
		d.sem = make(chan struct{}, maxConcurrent)
	}
	return d
}

// Dispatch executes a handler function asynchronously with proper context and panic recovery
//
// Parameters:
//   - ctx: Original context (values will be preserved, but cancellation won't affect the async handler)
//   - handler: Function to execute asynchronously
//
// Behavior:
//   - Creates a new background context with preserved logger
//   - Executes handler in a new goroutine once a concurrency slot is free
//   - Recovers from panics and logs them
//   - Logs and reports errors returned by handler
func (d *Dispatcher) Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	newCtx := newBackgroundContext(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if d.sem != nil {
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
		}

		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger := ctxlog.From(newCtx)
				logger.Error("panic in async handler",
					"recover", r,
					"stack", string(stack))
			}
		}()

		if err := handler(newCtx); err != nil {
			logger := ctxlog.From(newCtx)
			logger.Error("error in async handler", "error", err)
			sentry.CaptureException(err)
		}
	}()
}

// Wait blocks until every dispatched handler has returned or ctx is done.
// Called during shutdown so in-flight runs can finish.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newBackgroundContext creates a new background context preserving important values
//
// Preserved values:
//   - ctxlog logger
//
// Returns: New context.Background() with preserved values
func newBackgroundContext(ctx context.Context) context.Context {
	newCtx := context.Background()
	newCtx = ctxlog.With(newCtx, ctxlog.From(ctx))
	return newCtx
}
