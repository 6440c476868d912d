// Package hcl loads pipeline definitions written in HCL. A pipeline file is
// a sequence of stage blocks:
//
//	stage "vasp" "relax" {
//	  nsw            = 100
//	  structure_from = "input"
//	}
//
// Stage order in the file is pipeline order. Attribute values must be
// static; stages reference each other through the *_from fields, not
// through expression references.
package hcl

import (
	"context"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/fsutil"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// Extension is the file suffix pipeline files are discovered by.
const Extension = ".kiln.hcl"

var pipelineSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "stage", LabelNames: []string{"type", "name"}},
	},
}

// Loader parses HCL pipeline files into the agnostic stage model.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates an HCL pipeline loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads every pipeline file under the given paths, in sorted path
// order, and returns the combined ordered stage list. Directories are
// searched recursively for pipeline files.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*pipeline.Stage, error) {
	logger := ctxlog.FromContext(ctx)

	var stages []*pipeline.Stage
	for _, path := range paths {
		files, err := expand(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			parsed, err := l.parseFile(ctx, file)
			if err != nil {
				return nil, err
			}
			stages = append(stages, parsed...)
		}
	}

	logger.Debug("Loaded pipeline definition.", "stages", len(stages))
	return stages, nil
}

func (l *Loader) parseFile(ctx context.Context, path string) ([]*pipeline.Stage, error) {
	ctxlog.FromContext(ctx).Debug("Parsing pipeline file.", "path", path)

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fault.Configf("parsing %s: %s", path, diags.Error())
	}

	content, diags := file.Body.Content(pipelineSchema)
	if diags.HasErrors() {
		return nil, fault.Configf("reading %s: %s", path, diags.Error())
	}

	var stages []*pipeline.Stage
	for _, block := range content.Blocks {
		stage, err := translateStage(block)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// translateStage converts one stage block into the agnostic model. Every
// attribute of the block body becomes a key of the stage config tree.
func translateStage(block *hcl.Block) (*pipeline.Stage, error) {
	brickType, name := block.Labels[0], block.Labels[1]

	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fault.Configf("stage '%s': %s", name, diags.Error())
	}

	values := make(map[string]cty.Value, len(attrs))
	for attrName, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fault.Configf("stage '%s': attribute '%s': %s", name, attrName, diags.Error())
		}
		values[attrName] = val
	}

	config := cty.EmptyObjectVal
	if len(values) > 0 {
		config = cty.ObjectVal(values)
	}
	return &pipeline.Stage{Name: name, Type: brickType, Config: config}, nil
}

// expand resolves a path argument to pipeline files: directories are
// searched recursively, files are taken as-is.
func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fault.Configf("pipeline path %s: %v", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtensions(path, Extension)
}
