package executor

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/porttype"
)

// runExtractNode publishes the outputs and extracted results of its paired
// compute node into the stage's namespace, making them visible to
// downstream stages.
func (e *Executor) runExtractNode(ctx context.Context, node *dag.Node) error {
	logger := ctxlog.FromContext(ctx).With("node", node.ID)
	logger.Debug("Collecting stage outputs.")

	b, err := e.registry.Lookup(node.Stage.Type)
	if err != nil {
		return err
	}
	compute, err := pairedCompute(node)
	if err != nil {
		return err
	}
	ns := e.Graph.Namespace(node.Stage.Name)

	sets := compute.Expanded
	if !compute.IsPlaceholder {
		if compute.Tasks == nil {
			return fmt.Errorf("no task set recorded for '%s'", compute.ID)
		}
		sets = []*brick.TaskSet{compute.Tasks}
	}

	desc := b.Descriptor()
	for _, ts := range sets {
		outputs, err := b.Outputs(ts)
		if err != nil {
			return err
		}
		if err := checkOutputs(desc, outputs); err != nil {
			return fmt.Errorf("stage '%s': %w", node.Stage.Name, err)
		}
		ns.SetOutputs(ts.Item, outputs)

		rec, err := b.Results(ts)
		if err != nil {
			return err
		}
		ns.SetResults(ts.Item, rec)
	}

	logger.Info("📦 Stage outputs published", "stage", node.Stage.Name, "items", len(sets))
	return nil
}

// pairedCompute returns the compute node an extract node collects from. The
// builder links exactly one per extraction.
func pairedCompute(node *dag.Node) (*dag.Node, error) {
	for _, dep := range node.Deps {
		if dep.Kind == dag.ComputeNode && dep.Stage.Name == node.Stage.Name {
			return dep, nil
		}
	}
	return nil, fmt.Errorf("extract node '%s' has no compute dependency", node.ID)
}

// checkOutputs rejects publications that break the brick's own contract:
// undeclared port names or payloads of the wrong kind.
func checkOutputs(desc *brick.Descriptor, outputs map[string]cty.Value) error {
	for name, val := range outputs {
		port, ok := desc.Output(name)
		if !ok {
			return fmt.Errorf("brick '%s' published undeclared output '%s'", desc.Type, name)
		}
		if !porttype.Conforms(port.Kind, val) {
			return fmt.Errorf("brick '%s' output '%s' is not a valid '%s' payload", desc.Type, name, port.Kind)
		}
	}
	return nil
}
