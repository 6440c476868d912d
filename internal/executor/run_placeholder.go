package executor

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
)

// runPlaceholderNode expands a dynamic fan-out at runtime: the item map is
// read from the producing stage's output, each item's override is deep-merged
// over the shared base, and the items run one after another under the same
// engine-slot cap as everything else.
func (e *Executor) runPlaceholderNode(ctx context.Context, node *dag.Node) error {
	logger := ctxlog.FromContext(ctx).With("task", node.ID)
	logger.Info("🧩 Expanding dynamic fan-out")

	b, err := e.registry.Lookup(node.Stage.Type)
	if err != nil {
		return err
	}

	inputs, restart, err := e.resolveBindings(ctx, node)
	if err != nil {
		return err
	}
	items, err := dynamicItems(node, inputs)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logger.Warn("Dynamic fan-out expanded to zero items, stage produces nothing.", "stage", node.Stage.Name)
		return nil
	}

	base, _ := cfgtree.Get(node.Stage.Config, brick.BaseKey)
	for _, label := range cfgtree.SortedGoKeys(items) {
		ts, err := b.BuildTasks(ctx, &brick.BuildContext{
			Stage:   node.Stage,
			Item:    label,
			Config:  cfgtree.Merge(base, items[label]),
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
		node.Expanded = append(node.Expanded, ts)
	}

	logger.Info("✅ Finished dynamic fan-out", "items", len(node.Expanded))
	return nil
}

// dynamicItems locates the node's item-map binding and decodes its runtime
// value into per-label override trees.
func dynamicItems(node *dag.Node, inputs map[string]cty.Value) (map[string]cty.Value, error) {
	for _, binding := range node.Bindings {
		if binding.Port.SourceField != brick.ItemsFromKey {
			continue
		}
		raw, ok := inputs[binding.Port.Name]
		if !ok {
			return nil, fmt.Errorf("dynamic items from stage '%s' are unavailable", binding.Producer)
		}
		if !cfgtree.IsTree(raw) {
			return nil, fmt.Errorf("dynamic items from stage '%s' are not a mapping", binding.Producer)
		}
		items := make(map[string]cty.Value)
		for it := raw.ElementIterator(); it.Next(); {
			k, v := it.Element()
			items[k.AsString()] = v
		}
		return items, nil
	}
	return nil, fmt.Errorf("node '%s' has no dynamic items binding", node.ID)
}
