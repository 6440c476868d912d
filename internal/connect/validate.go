// Package connect validates the connections between pipeline stages before
// anything is built or submitted.
//
// Validation is a single ordered walk over the stage list. Each stage is
// checked against the bricks seen so far, so forward references, unknown
// stages and self references all surface as the same condition: the named
// producer is not behind the consumer. The walk fails fast on the first
// fatal finding and accumulates non-fatal warnings across the whole list.
package connect

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/pipeline"
)

// seenStage is what the walk remembers about a stage once it has been
// admitted: its declaration and the descriptor it validated against.
type seenStage struct {
	stage *pipeline.Stage
	desc  *brick.Descriptor
}

// Validate runs the connection walk and returns the accumulated warnings.
// A nil error means every stage connects to something that exists, is
// type-compatible and satisfies the port's prerequisites.
func Validate(ctx context.Context, stages []*pipeline.Stage, reg *brick.Registry) ([]Warning, error) {
	_, warnings, err := Resolve(ctx, stages, reg)
	return warnings, err
}

// Resolve runs the connection walk and additionally returns the resolved
// connection graph for the builder. The input stage list is never mutated;
// resolution results live only in the returned graph.
func Resolve(ctx context.Context, stages []*pipeline.Stage, reg *brick.Registry) (*Graph, []Warning, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting connection walk.", "stages", len(stages))

	graph := newGraph(stages)
	warnings := []Warning{}
	seen := make(map[string]*seenStage, len(stages))
	order := make([]string, 0, len(stages))

	for _, stage := range stages {
		if err := checkStageName(stage, seen); err != nil {
			return nil, nil, err
		}

		b, err := reg.Lookup(stage.Type)
		if err != nil {
			return nil, nil, err
		}
		if err := b.ValidateConfig(ctx, stage, slices.Clone(order)); err != nil {
			return nil, nil, err
		}

		desc := b.Descriptor()
		for _, port := range desc.EffectiveInputs(stage.Config) {
			binding, warn, err := resolveInput(stage, port, seen, order)
			if err != nil {
				return nil, nil, err
			}
			if warn != nil {
				warnings = append(warnings, *warn)
			}
			if binding != nil {
				graph.add(stage.Name, binding)
			}
		}

		seen[stage.Name] = &seenStage{stage: stage, desc: desc}
		order = append(order, stage.Name)
		graph.admit(stage, desc)
	}

	logger.Debug("Connection walk complete.", "stages", len(order), "warnings", len(warnings))
	return graph, warnings, nil
}

func checkStageName(stage *pipeline.Stage, seen map[string]*seenStage) error {
	switch stage.Name {
	case "":
		return fault.Configf("stage of brick type '%s' has no name", stage.Type)
	case pipeline.SourceInput, pipeline.SourceAuto:
		return fault.Configf("stage name '%s' shadows a reserved source keyword", stage.Name)
	}
	if stage.Type == "" {
		return fault.Configf("stage '%s' has no brick type", stage.Name)
	}
	if _, dup := seen[stage.Name]; dup {
		return fault.Configf("duplicate stage name '%s'", stage.Name)
	}
	return nil
}

// resolveInput resolves a single input port against the stages seen so far.
// It returns a binding when the port connects, a warning when an implicit
// connection is kept despite a conditionally absent output, and an error on
// any fatal finding.
func resolveInput(stage *pipeline.Stage, port *brick.InputPort, seen map[string]*seenStage, order []string) (*Binding, *Warning, error) {
	raw, ok := cfgtree.Get(stage.Config, port.SourceField)
	if !ok {
		if port.Required {
			return nil, nil, fault.Configf("%s: missing field %s", stage.Name, port.SourceField)
		}
		return nil, nil, nil
	}
	if raw.IsNull() || raw.Type() != cty.String {
		return nil, nil, fault.Configf("%s: field %s must name a stage, got %s", stage.Name, port.SourceField, cfgtree.Render(raw))
	}

	source := raw.AsString()
	implicit := false
	var producerName string

	switch source {
	case pipeline.SourceInput:
		return &Binding{Port: port, Source: source, Initial: true, Satisfied: true}, nil, nil
	case pipeline.SourceAuto:
		if len(order) == 0 {
			// First stage: auto falls back to the pipeline's initial input.
			return &Binding{Port: port, Source: source, Initial: true, Implicit: true, Satisfied: true}, nil, nil
		}
		producerName = order[len(order)-1]
		implicit = true
	default:
		producerName = source
	}

	producer, ok := seen[producerName]
	if !ok {
		err := fault.Connectionf("%s: %s refers to unknown stage '%s'", stage.Name, port.SourceField, producerName)
		return nil, nil, fault.WithSuggestion(err, producerName, order)
	}

	if !slices.Contains(port.Producers, producer.stage.Type) {
		return nil, nil, fault.Connectionf("%s: input '%s' connects to stage '%s' of brick type '%s', not compatible with bricks %s",
			stage.Name, port.Name, producerName, producer.stage.Type, renderBrickSet(port.Producers))
	}

	outputName := port.OutputName()
	binding := &Binding{
		Port:      port,
		Source:    source,
		Producer:  producerName,
		Output:    outputName,
		Implicit:  implicit,
		Satisfied: true,
	}

	var warn *Warning
	output, ok := producer.desc.Output(outputName)
	switch {
	case !ok:
		if !implicit {
			return nil, nil, fault.Connectionf("%s: stage '%s' doesn't produce output '%s'", stage.Name, producerName, outputName)
		}
		binding.Satisfied = false
		warn = &Warning{Stage: stage.Name, Port: port.Name, Producer: producerName, Detail: fmt.Sprintf("no '%s' output", outputName)}
	case output.Condition != nil && !output.Condition.Eval(producer.stage.Config):
		detail := output.Condition.Describe(producer.stage.Config)
		if !implicit {
			return nil, nil, fault.Connectionf("%s: stage '%s' doesn't produce output '%s' (%s)", stage.Name, producerName, outputName, detail)
		}
		binding.Satisfied = false
		warn = &Warning{Stage: stage.Name, Port: port.Name, Producer: producerName, Detail: detail}
	}

	if err := checkPrerequisites(stage, port, producer); err != nil {
		return nil, nil, err
	}
	return binding, warn, nil
}

// checkPrerequisites verifies the producer's configuration promises
// everything the consuming port needs. All missing prerequisites are
// collected into a single error so the user fixes them in one round.
func checkPrerequisites(stage *pipeline.Stage, port *brick.InputPort, producer *seenStage) error {
	if port.Needs == nil {
		return nil
	}

	var missing []string
	for _, key := range cfgtree.SortedGoKeys(port.Needs.Settings) {
		want := port.Needs.Settings[key]
		got, ok := cfgtree.GetFold(producer.stage.Config, key)
		if !ok || !cfgtree.Equal(got, want) {
			missing = append(missing, key+"="+cfgtree.Render(want))
		}
	}
	for _, file := range port.Needs.Artifacts {
		if !willRetrieve(producer, file) {
			missing = append(missing, file+" in retrieve")
		}
	}

	if len(missing) > 0 {
		return fault.Connectionf("%s: stage '%s' does not satisfy prerequisites for input '%s': missing %s",
			stage.Name, producer.stage.Name, port.Name, strings.Join(missing, ", "))
	}
	return nil
}

// willRetrieve reports whether the producer stage will pull a file back
// from its run, either through the brick's default retrieve list or an
// explicit retrieve entry in the stage config.
func willRetrieve(producer *seenStage, file string) bool {
	if slices.Contains(producer.desc.DefaultRetrieve, file) {
		return true
	}
	list, ok := cfgtree.Get(producer.stage.Config, "retrieve")
	if !ok || !list.CanIterateElements() {
		return false
	}
	for it := list.ElementIterator(); it.Next(); {
		_, v := it.Element()
		if !v.IsNull() && v.Type() == cty.String && v.AsString() == file {
			return true
		}
	}
	return false
}

func renderBrickSet(types []string) string {
	return "[" + strings.Join(types, ", ") + "]"
}
