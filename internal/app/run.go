package app

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/executor"
	"github.com/kilnworks/kiln/internal/store"
)

// RunOptions carries one run's inputs.
type RunOptions struct {
	// Paths are the pipeline definition files or directories.
	Paths []string
	// Input is the pipeline's initial input value, NilVal when none.
	Input cty.Value
	// Scratch is the root directory run workspaces are created under.
	Scratch string
	// Workers sizes the executor's worker pool.
	Workers int
	// MaxParallel caps concurrent engine submissions. Zero or negative
	// means unlimited.
	MaxParallel int
	// StatusAddr, when set, serves run status over HTTP for the run's
	// duration.
	StatusAddr string
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID    string
	Elapsed  time.Duration
	Graph    *dag.Graph
	Warnings []string
}

// BuildGraph validates nothing further; it turns an already validated
// pipeline into an executable task graph.
func (a *App) BuildGraph(ctx context.Context, val *Validation, initial cty.Value, maxParallel int) (*dag.Graph, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	return dag.Build(ctx, val.Graph, dag.Options{Initial: initial, MaxParallel: maxParallel})
}

// Run executes a pipeline end to end: load, validate, build, execute.
func (a *App) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	start := time.Now()

	val, err := a.Validate(ctx, opts.Paths...)
	if err != nil {
		return nil, err
	}
	for _, w := range val.Warnings {
		a.logger.Warn("Validation warning.", "detail", w.String())
	}

	graph, err := a.BuildGraph(ctx, val, opts.Input, opts.MaxParallel)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Task graph built.", "node_count", len(graph.Nodes))

	st, err := store.NewLocalStore(opts.Scratch)
	if err != nil {
		return nil, err
	}
	a.logger.Info("🔥 Starting pipeline run.", "run_id", st.RunID(), "stages", len(val.Stages), "nodes", len(graph.Nodes))

	if opts.StatusAddr != "" {
		a.startStatusServer(opts.StatusAddr, graph)
	}

	exec := executor.New(graph, a.registry, a.engine, st, opts.Workers)
	if err := exec.Run(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("🏁 Execution finished.", "elapsed", time.Since(start).Round(time.Millisecond))

	return &RunResult{
		RunID:    st.RunID(),
		Elapsed:  time.Since(start),
		Graph:    graph,
		Warnings: warningStrings(val),
	}, nil
}

func warningStrings(val *Validation) []string {
	out := make([]string, 0, len(val.Warnings))
	for _, w := range val.Warnings {
		out = append(out, w.String())
	}
	return out
}
