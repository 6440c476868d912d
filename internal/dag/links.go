package dag

import (
	"context"
	"fmt"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/connect"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/fault"
)

// linkNodes performs the second pass, establishing dependency links:
// cross-stage edges from resolved bindings, the compute-to-extract edge of
// every item, and serialization edges between items that share a scratch
// directory.
func linkNodes(ctx context.Context, resolved *connect.Graph, graph *Graph) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting node linking pass.")

	for _, stageName := range graph.stageOrder {
		computes := graph.computes[stageName]
		extracts := graph.extracts[stageName]

		for _, binding := range resolved.Bindings(stageName) {
			if binding.Initial {
				if err := checkInitialBinding(graph, stageName, binding); err != nil {
					return err
				}
				continue
			}

			producerExtracts := graph.extracts[binding.Producer]
			if len(producerExtracts) == 0 {
				return fmt.Errorf("stage '%s' depends on unbuilt stage '%s'", stageName, binding.Producer)
			}
			for _, producer := range producerExtracts {
				for _, compute := range computes {
					logger.Debug("Linking cross-stage dependency.",
						"from_node_id", producer.ID, "to_node_id", compute.ID, "port", binding.Port.Name)
					addEdge(producer, compute)
				}
			}
		}

		// Each item's extraction runs right after its compute node.
		for i := range computes {
			addEdge(computes[i], extracts[i])
		}

		// Items sharing a scratch directory must not run concurrently.
		if len(computes) > 1 && hasKey(computes[0].Stage.Config, brick.ScratchKey) {
			for i := 1; i < len(computes); i++ {
				logger.Debug("Serializing fan-out items over shared scratch.",
					"from_node_id", computes[i-1].ID, "to_node_id", computes[i].ID)
				addEdge(computes[i-1], computes[i])
			}
		}
	}

	logger.Debug("Finished node linking pass.")
	return nil
}

// checkInitialBinding verifies a binding satisfied by the pipeline's initial
// input actually has one to read when the port is required.
func checkInitialBinding(graph *Graph, stageName string, binding *connect.Binding) error {
	if graph.Initial.IsNull() && binding.Port.Required {
		return fault.Configf("%s: input '%s' reads the pipeline input, but none was provided", stageName, binding.Port.Name)
	}
	return nil
}
