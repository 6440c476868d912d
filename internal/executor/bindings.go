package executor

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/dag"
	"github.com/kilnworks/kiln/internal/porttype"
	"github.com/kilnworks/kiln/internal/store"
)

// resolveBindings materializes a node's input values from the namespaces of
// its producing stages. Persistent-handle inputs are split off as the
// restart handle; everything else lands in the input map keyed by port name.
func (e *Executor) resolveBindings(ctx context.Context, node *dag.Node) (map[string]cty.Value, *store.Handle, error) {
	logger := ctxlog.FromContext(ctx)

	inputs := make(map[string]cty.Value)
	var restart *store.Handle

	for _, binding := range node.Bindings {
		var val cty.Value

		switch {
		case binding.Initial:
			if e.Graph.Initial.IsNull() {
				// Optional port with no pipeline input: nothing to feed.
				continue
			}
			val = e.Graph.Initial

		default:
			ns := e.Graph.Namespace(binding.Producer)
			if ns == nil {
				return nil, nil, fmt.Errorf("node '%s' reads from unbuilt stage '%s'", node.ID, binding.Producer)
			}
			v, ok := ns.PortValue(binding.Output)
			if !ok {
				if binding.Satisfied {
					return nil, nil, fmt.Errorf("stage '%s' published no output '%s' for input '%s' of '%s'",
						binding.Producer, binding.Output, binding.Port.Name, node.ID)
				}
				// Flagged as a warning at validation; genuinely absent now.
				logger.Debug("Auto-resolved input is unavailable at runtime, leaving port empty.",
					"nodeID", node.ID, "port", binding.Port.Name, "producer", binding.Producer)
				continue
			}
			val = v
		}

		if binding.Port.Kind == porttype.RemoteHandle {
			h, err := store.FromVal(val)
			if err != nil {
				return nil, nil, fmt.Errorf("input '%s' of '%s': %w", binding.Port.Name, node.ID, err)
			}
			restart = h
			continue
		}
		inputs[binding.Port.Name] = val
	}

	return inputs, restart, nil
}
