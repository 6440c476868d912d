package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/engine"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/fsutil"
	"github.com/kilnworks/kiln/internal/hcl"
	"github.com/kilnworks/kiln/internal/localengine"
	"github.com/kilnworks/kiln/internal/pipeline"
	"github.com/kilnworks/kiln/internal/remoteengine"
	"github.com/kilnworks/kiln/internal/settings"
	kyaml "github.com/kilnworks/kiln/internal/yaml"
)

// Config holds everything an App instance needs to run.
type Config struct {
	LogLevel  string
	LogFormat string
	Engine    settings.EngineSettings
}

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *brick.Registry
	engine   engine.Engine
	loaders  map[string]pipeline.Loader
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and registry. A
// brick whose descriptor is defective is an authoring error and panics;
// the bricks parameter exists for tests, production callers pass none.
func New(outW io.Writer, cfg *Config, bricks ...brick.Brick) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := brick.New()
	if len(bricks) == 0 {
		bricks = coreBricks
	}
	for _, b := range bricks {
		if err := reg.Register(b); err != nil {
			panic(err)
		}
	}
	logger.Debug("All bricks registered.", "count", len(bricks), "types", reg.Types())

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	logger.Debug("Calculation engine configured.", "mode", cfg.Engine.Mode)

	hclLoader := hcl.NewLoader()
	yamlLoader := kyaml.NewLoader()
	loaders := map[string]pipeline.Loader{
		hcl.Extension: hclLoader,
	}
	for _, ext := range kyaml.Extensions {
		loaders[ext] = yamlLoader
	}

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		engine:   eng,
		loaders:  loaders,
	}, nil
}

// newEngine builds the configured calculation engine.
func newEngine(cfg settings.EngineSettings) (engine.Engine, error) {
	switch cfg.Mode {
	case "", "local":
		return localengine.New(localengine.Config{
			Command: cfg.Command,
			Args:    cfg.Args,
		}), nil
	case "remote":
		if cfg.URL == "" {
			return nil, fault.Configf("remote engine mode needs engine.url")
		}
		return remoteengine.New(remoteengine.Config{
			URL:                cfg.URL,
			Namespace:          cfg.Namespace,
			Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}), nil
	default:
		return nil, fault.Configf("unknown engine mode '%s', want local or remote", cfg.Mode)
	}
}

// Registry returns the application's brick registry. This is primarily for
// testing.
func (a *App) Registry() *brick.Registry {
	return a.registry
}

// SetEngine replaces the calculation engine. This is primarily for testing.
func (a *App) SetEngine(e engine.Engine) {
	a.engine = e
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Validation is the outcome of loading and validating a pipeline.
type Validation struct {
	Stages   []*pipeline.Stage
	Graph    *connect.Graph
	Warnings []connect.Warning
}

// Validate loads the pipeline definitions at the given paths and resolves
// every stage connection against the registered bricks.
func (a *App) Validate(ctx context.Context, paths ...string) (*Validation, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	stages, err := a.LoadPipeline(ctx, paths...)
	if err != nil {
		return nil, err
	}
	graph, warnings, err := connect.Resolve(ctx, stages, a.registry)
	if err != nil {
		return nil, err
	}
	return &Validation{Stages: stages, Graph: graph, Warnings: warnings}, nil
}

// LoadPipeline reads stage definitions from files and directories,
// dispatching each file to the loader for its format. Files load in sorted
// path order, stages in file order.
func (a *App) LoadPipeline(ctx context.Context, paths ...string) ([]*pipeline.Stage, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	files, err := a.expandPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fault.Configf("no pipeline definitions found under %s", strings.Join(paths, ", "))
	}

	var stages []*pipeline.Stage
	for _, file := range files {
		loader := a.loaderFor(file)
		if loader == nil {
			return nil, fault.Configf("unsupported pipeline file '%s'", file)
		}
		loaded, err := loader.Load(ctx, file)
		if err != nil {
			return nil, err
		}
		stages = append(stages, loaded...)
	}
	a.logger.Debug("Pipeline loaded.", "files", len(files), "stages", len(stages))
	return stages, nil
}

// expandPaths resolves directories to the definition files inside them.
func (a *App) expandPaths(paths []string) ([]string, error) {
	extensions := make([]string, 0, len(a.loaders))
	for ext := range a.loaders {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fault.Configf("pipeline path %s: %v", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := fsutil.FindFilesByExtensions(path, extensions...)
		if err != nil {
			return nil, fault.Configf("scanning %s: %v", path, err)
		}
		files = append(files, found...)
	}
	return files, nil
}

func (a *App) loaderFor(file string) pipeline.Loader {
	name := filepath.Base(file)
	for ext, loader := range a.loaders {
		if strings.HasSuffix(name, ext) {
			return loader
		}
	}
	return nil
}
