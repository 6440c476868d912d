package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/engine"
)

// FakeEngine is a canned calculation engine. It records every request it
// receives and tracks how many were in flight at once, which is what the
// concurrency-cap tests assert on.
type FakeEngine struct {
	mu        sync.Mutex
	requests  []*engine.Request
	active    int
	maxActive int

	// Delay holds every request open, long enough for overlap to be
	// observable.
	Delay time.Duration
	// Files is attached to every result, as if retrieved into the workdir.
	Files []string
	// OutputsFn overrides the canned per-request outputs.
	OutputsFn func(req *engine.Request) map[string]cty.Value
	// Fail maps task keys to injected errors.
	Fail map[string]error
}

// TaskKey renders a request's identity the way Fail keys it: the stage name,
// with the fan-out item label in brackets when present.
func TaskKey(req *engine.Request) string {
	if req.Item == "" {
		return req.Stage
	}
	return fmt.Sprintf("%s[%s]", req.Stage, req.Item)
}

// Run implements engine.Engine.
func (f *FakeEngine) Run(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	start := time.Now()

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	delay := f.Delay
	failErr := f.Fail[TaskKey(req)]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if failErr != nil {
		return nil, failErr
	}

	outputs := map[string]cty.Value{"energy": cty.NumberFloatVal(-13.5)}
	if f.OutputsFn != nil {
		outputs = f.OutputsFn(req)
	}
	return &engine.Result{
		Outputs: outputs,
		Files:   slices.Clone(f.Files),
		Elapsed: time.Since(start),
	}, nil
}

// Requests returns a copy of everything the engine was asked to run, in
// arrival order.
func (f *FakeEngine) Requests() []*engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

// MaxActive returns the high-water mark of concurrent requests.
func (f *FakeEngine) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
