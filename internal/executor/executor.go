// Package executor runs a compiled task graph on a pool of workers. Ready
// nodes are dispatched as their dependency counters reach zero; engine
// submissions across the whole pool are additionally bounded by the graph's
// global concurrency cap.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/engine"
	"github.com/kilnworks/kiln/internal/store"
)

// Executor orchestrates the end-to-end execution of a task graph. It manages
// the worker pool, the global engine-slot semaphore, and failure propagation.
type Executor struct {
	// Graph is the compiled task graph being executed.
	Graph *dag.Graph

	registry   *brick.Registry
	engine     engine.Engine
	store      store.Store
	numWorkers int
	sem        *semaphore.Weighted
	wg         sync.WaitGroup
}

// New creates an executor for a compiled graph. The engine-slot semaphore is
// sized from the graph's concurrency cap; a cap of zero or less leaves
// submissions unbounded.
func New(graph *dag.Graph, registry *brick.Registry, eng engine.Engine, st store.Store, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		Graph:      graph,
		registry:   registry,
		engine:     eng,
		store:      st,
		numWorkers: workers,
	}
	if graph.MaxParallel > 0 {
		e.sem = semaphore.NewWeighted(int64(graph.MaxParallel))
	}
	return e
}

// Run executes the entire graph concurrently and returns an error if any
// node fails. It respects the cancellation signal from the provided context.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *dag.Node, len(e.Graph.Nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debug("Initializing executor, finding root nodes...")
	rootNodeCount := 0
	for _, node := range e.Graph.Nodes {
		if node.DepCount() == 0 {
			logger.Debug("Found root node.", "nodeID", node.ID)
			readyChan <- node
			rootNodeCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootNodeCount)

	e.wg.Add(len(e.Graph.Nodes))

	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	logger.Info("Waiting for all tasks to complete...")
	e.wg.Wait()
	logger.Info("All tasks completed.")
	close(readyChan)

	if err := e.collectFailures(ctx); err != nil {
		return err
	}
	// A canceled run drains cleanly but is not a successful one.
	return ctx.Err()
}

// collectFailures walks the finished graph in stage order and reports the
// failed nodes, wrapping the first real failure as the root cause. Skip
// markers and cancellations are symptoms, not causes, and never win.
func (e *Executor) collectFailures(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var failedNodes []string
	var rootCauseError error
	for _, stage := range e.Graph.StageOrder() {
		for _, node := range append(e.Graph.ComputeNodes(stage), e.Graph.ExtractNodes(stage)...) {
			if node.GetState() != dag.Failed {
				continue
			}
			logger.Error("Node failed execution.", "nodeID", node.ID, "error", node.Error)
			if node.Error != nil && !strings.HasPrefix(node.Error.Error(), "skipped") && !errors.Is(node.Error, context.Canceled) {
				failedNodes = append(failedNodes, node.ID)
				if rootCauseError == nil {
					rootCauseError = node.Error
				}
			}
		}
	}

	if rootCauseError != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failedNodes, ", "), rootCauseError)
	}
	return nil
}

// skipDependents recursively marks all downstream nodes as failed and
// decrements the WaitGroup.
func (e *Executor) skipDependents(ctx context.Context, node *dag.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.Dependents {
		err := fmt.Errorf("skipped due to upstream failure of '%s'", node.ID)
		if dependent.Skip(err, &e.wg) {
			logger.Warn("Skipping dependent node due to upstream failure.", "nodeID", dependent.ID, "dependency", node.ID)
			e.skipDependents(ctx, dependent)
		}
	}
}

func (e *Executor) acquireSlot(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	return e.sem.Acquire(ctx, 1)
}

func (e *Executor) releaseSlot() {
	if e.sem != nil {
		e.sem.Release(1)
	}
}
