package brick

import (
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/fault"
	"github.com/kilnworks/kiln/internal/porttype"
)

// Needs lists what a producing stage must already satisfy for a consumer's
// input to be valid: configuration values the producer must carry, and
// artifact files it must have been told to retrieve.
type Needs struct {
	// Settings maps config keys (matched case-insensitively) to the value
	// each must hold on the producer.
	Settings map[string]cty.Value
	// Artifacts are file names that must appear in the producer's retrieve
	// list or in its brick's always-retrieved defaults.
	Artifacts []string
}

// InputPort declares one input connection point of a brick.
type InputPort struct {
	// Name identifies the port within the brick.
	Name string
	// Kind is the port's semantic data kind.
	Kind porttype.Kind
	// Required marks ports whose source field must be present in the
	// stage config.
	Required bool
	// SourceField is the stage-config key naming the producing stage.
	SourceField string
	// FromOutput names the producer output port this input draws from.
	// Empty means the input's own name.
	FromOutput string
	// Producers is the set of brick types that can satisfy this port.
	Producers []string
	// Condition, when set, includes the port in the effective input set
	// only while the stage's own config matches.
	Condition *Condition
	// Needs, when set, are prerequisites the resolved producer must satisfy.
	Needs *Needs
}

// OutputName returns the producer output port this input draws from.
func (p *InputPort) OutputName() string {
	if p.FromOutput != "" {
		return p.FromOutput
	}
	return p.Name
}

// OutputPort declares one output of a brick.
type OutputPort struct {
	// Name identifies the port within the brick.
	Name string
	// Kind is the port's semantic data kind.
	Kind porttype.Kind
	// Condition, when set, makes the output available only while the
	// producing stage's own config matches.
	Condition *Condition
}

// Descriptor is a brick type's fixed connection contract. Descriptors are
// immutable and registered once per brick type at process start.
type Descriptor struct {
	// Type is the brick type name stages refer to.
	Type string
	// Inputs and Outputs declare the brick's ports, keyed by port name.
	Inputs  map[string]*InputPort
	Outputs map[string]*OutputPort
	// DefaultRetrieve lists artifacts the brick always retrieves,
	// independent of the stage's own retrieve list.
	DefaultRetrieve []string
	// FanOut marks bricks whose stages expand into sibling tasks from a
	// per-item override map.
	FanOut bool
}

// EffectiveInputs returns the input ports active for the given stage
// config, in stable name order. Conditional ports whose rule does not match
// are excluded.
func (d *Descriptor) EffectiveInputs(config cty.Value) []*InputPort {
	names := make([]string, 0, len(d.Inputs))
	for name := range d.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	ports := make([]*InputPort, 0, len(names))
	for _, name := range names {
		p := d.Inputs[name]
		if p.Condition != nil && !p.Condition.Eval(config) {
			continue
		}
		ports = append(ports, p)
	}
	return ports
}

// Output returns the named output port, if declared.
func (d *Descriptor) Output(name string) (*OutputPort, bool) {
	p, ok := d.Outputs[name]
	return p, ok
}

// OutputNames returns the declared output port names in stable order.
func (d *Descriptor) OutputNames() []string {
	names := make([]string, 0, len(d.Outputs))
	for name := range d.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validate rejects impossible contracts at registration time. Violations
// are authoring defects, not user errors.
func (d *Descriptor) validate() error {
	if d.Type == "" {
		return fault.Schemaf("brick descriptor has no type name")
	}
	for name, p := range d.Inputs {
		if p.Name == "" {
			p.Name = name
		}
		if !porttype.Registered(p.Kind) {
			return fault.Schemaf("brick '%s': input port '%s': unregistered port kind '%s'", d.Type, name, p.Kind)
		}
		if p.SourceField == "" {
			return fault.Schemaf("brick '%s': input port '%s': missing source field", d.Type, name)
		}
		if len(p.Producers) == 0 {
			return fault.Schemaf("brick '%s': input port '%s': no compatible producers declared", d.Type, name)
		}
		if err := validateCondition(d.Type, "input", name, p.Condition); err != nil {
			return err
		}
		if p.Needs != nil && len(p.Needs.Settings) == 0 && len(p.Needs.Artifacts) == 0 {
			return fault.Schemaf("brick '%s': input port '%s': empty prerequisites", d.Type, name)
		}
	}
	for name, p := range d.Outputs {
		if p.Name == "" {
			p.Name = name
		}
		if !porttype.Registered(p.Kind) {
			return fault.Schemaf("brick '%s': output port '%s': unregistered port kind '%s'", d.Type, name, p.Kind)
		}
		if err := validateCondition(d.Type, "output", name, p.Condition); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(brickType, direction, port string, c *Condition) error {
	if c == nil {
		return nil
	}
	if len(c.Path) == 0 {
		return fault.Schemaf("brick '%s': %s port '%s': conditional rule has empty path", brickType, direction, port)
	}
	if !knownOp(c.Op) {
		return fault.Schemaf("brick '%s': %s port '%s': unknown operator '%s'", brickType, direction, port, c.Op)
	}
	if c.Value == cty.NilVal {
		return fault.Schemaf("brick '%s': %s port '%s': conditional rule has no comparison value", brickType, direction, port)
	}
	return nil
}
