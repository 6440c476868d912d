// Package yaml loads pipeline definitions written in YAML. A pipeline file
// holds one ordered stage list:
//
//	stages:
//	  - name: relax
//	    type: vasp
//	    nsw: 100
//	    structure_from: input
//
// Every key besides name and type becomes part of the stage's config tree.
package yaml

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/fsutil"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// Extensions are the file suffixes pipeline files are discovered by.
var Extensions = []string{".kiln.yaml", ".kiln.yml"}

// Loader parses YAML pipeline files into the agnostic stage model.
type Loader struct{}

// NewLoader creates a YAML pipeline loader.
func NewLoader() *Loader {
	return &Loader{}
}

type document struct {
	Stages []map[string]any `yaml:"stages"`
}

// Load reads every pipeline file under the given paths, in sorted path
// order, and returns the combined ordered stage list.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*pipeline.Stage, error) {
	logger := ctxlog.FromContext(ctx)

	var stages []*pipeline.Stage
	for _, path := range paths {
		files, err := expand(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			parsed, err := parseFile(ctx, file)
			if err != nil {
				return nil, err
			}
			stages = append(stages, parsed...)
		}
	}

	logger.Debug("Loaded pipeline definition.", "stages", len(stages))
	return stages, nil
}

func parseFile(ctx context.Context, path string) ([]*pipeline.Stage, error) {
	ctxlog.FromContext(ctx).Debug("Parsing pipeline file.", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Configf("reading %s: %v", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fault.Configf("parsing %s: %v", path, err)
	}

	stages := make([]*pipeline.Stage, 0, len(doc.Stages))
	for _, raw := range doc.Stages {
		stage, err := translateStage(path, raw)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func translateStage(path string, raw map[string]any) (*pipeline.Stage, error) {
	name, _ := raw["name"].(string)
	brickType, _ := raw["type"].(string)
	delete(raw, "name")
	delete(raw, "type")

	config, err := cfgtree.FromGo(raw)
	if err != nil {
		return nil, fault.Configf("%s: stage '%s': %v", path, name, err)
	}
	return &pipeline.Stage{Name: name, Type: brickType, Config: config}, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fault.Configf("pipeline path %s: %v", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtensions(path, Extensions...)
}
