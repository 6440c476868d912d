// Package localengine runs calculation tasks as subprocesses on the local
// machine. The task document is written into the working directory, the
// configured engine command is invoked on it, and outputs are read back from
// the outputs document the command leaves behind.
package localengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/engine"
)

const (
	taskFileName    = "task.json"
	outputsFileName = "outputs.json"
)

// Config selects the engine command to run for each task.
type Config struct {
	// Command is the engine executable. Required.
	Command string
	// Args are prepended to the task file argument.
	Args []string
}

// Engine submits tasks as local subprocesses.
type Engine struct {
	cfg Config
}

// New creates a local engine from its configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run writes the task document, invokes the engine command in the task's
// working directory and collects its outputs.
func (e *Engine) Run(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	logger := ctxlog.FromContext(ctx).With("engine", "local", "stage", req.Stage, "item", req.Item)

	if e.cfg.Command == "" {
		return nil, fmt.Errorf("no local engine command configured")
	}
	if req.Workdir == nil {
		return nil, fmt.Errorf("task for stage '%s' has no working directory", req.Stage)
	}

	payload, err := req.WireJSON()
	if err != nil {
		return nil, err
	}
	taskFile := filepath.Join(req.Workdir.Path, taskFileName)
	if err := os.WriteFile(taskFile, payload, 0o644); err != nil {
		return nil, fmt.Errorf("writing task document: %w", err)
	}

	args := append(slices.Clone(e.cfg.Args), taskFile)
	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	cmd.Dir = req.Workdir.Path
	cmd.Env = append(os.Environ(),
		"KILN_RUN_ID="+req.RunID,
		"KILN_STAGE="+req.Stage,
		"KILN_BRICK="+req.Brick,
	)

	logger.Debug("Invoking engine command.", "command", e.cfg.Command, "workdir", req.Workdir.Path)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, tail(out))
	}
	elapsed := time.Since(start)
	logger.Debug("Engine command finished.", "elapsed", elapsed)

	outputs, err := readOutputs(req.Workdir.Path)
	if err != nil {
		return nil, err
	}
	files, err := listFiles(req.Workdir.Path)
	if err != nil {
		return nil, err
	}

	return &engine.Result{Outputs: outputs, Files: files, Elapsed: elapsed}, nil
}

// readOutputs loads the outputs document if the command produced one. A
// task with no outputs document simply exposes nothing.
func readOutputs(workdir string) (map[string]cty.Value, error) {
	data, err := os.ReadFile(filepath.Join(workdir, outputsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]cty.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading outputs document: %w", err)
	}
	return engine.DecodeOutputs(data)
}

func listFiles(workdir string) ([]string, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return nil, fmt.Errorf("listing working directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// tail returns the trailing part of command output for error reporting.
func tail(out []byte) string {
	const max = 400
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
