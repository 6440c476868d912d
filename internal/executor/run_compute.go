package executor

import (
	"context"
	"fmt"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/engine"
)

// runComputeNode executes one stage item: it resolves the node's inputs,
// asks the brick to build the item's task set, and runs every task in it.
func (e *Executor) runComputeNode(ctx context.Context, node *dag.Node) error {
	logger := ctxlog.FromContext(ctx).With("task", node.ID)
	logger.Info("▶️ Starting task")

	b, err := e.registry.Lookup(node.Stage.Type)
	if err != nil {
		return err
	}

	inputs, restart, err := e.resolveBindings(ctx, node)
	if err != nil {
		return err
	}

	ts, err := b.BuildTasks(ctx, &brick.BuildContext{
		Stage:   node.Stage,
		Item:    node.Item,
		Config:  node.Config,
		Inputs:  inputs,
		Restart: restart,
		Store:   e.store,
		RunID:   e.store.RunID(),
	})
	if err != nil {
		return err
	}

	if err := e.runTaskSet(ctx, b, ts); err != nil {
		return err
	}
	node.Tasks = ts

	logger.Info("✅ Finished task")
	return nil
}

// runTaskSet runs a task set's specs in order. Engine submissions take a
// global slot first so the whole run never exceeds the concurrency cap;
// local tasks bypass the cap.
func (e *Executor) runTaskSet(ctx context.Context, b brick.Brick, ts *brick.TaskSet) error {
	logger := ctxlog.FromContext(ctx)

	for _, spec := range ts.Specs {
		var res *engine.Result
		var err error

		if spec.Local {
			runner, ok := b.(brick.LocalRunner)
			if !ok {
				return fmt.Errorf("brick '%s' produced a local task but cannot run locally", ts.Brick)
			}
			res, err = runner.RunLocal(ctx, spec)
		} else {
			if err := e.acquireSlot(ctx); err != nil {
				return err
			}
			logger.Debug("Submitting task to engine.", "stage", ts.Stage, "item", ts.Item)
			res, err = e.engine.Run(ctx, e.request(ts, spec))
			e.releaseSlot()
		}

		if err != nil {
			return err
		}
		ts.Ran = append(ts.Ran, res)
	}
	return nil
}

func (e *Executor) request(ts *brick.TaskSet, spec *brick.TaskSpec) *engine.Request {
	return &engine.Request{
		RunID:   e.store.RunID(),
		Stage:   ts.Stage,
		Item:    ts.Item,
		Brick:   ts.Brick,
		Config:  spec.Config,
		Inputs:  spec.Inputs,
		Workdir: spec.Workdir,
		Restart: spec.Restart,
	}
}
