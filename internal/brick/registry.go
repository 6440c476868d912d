package brick

import (
	"log/slog"
	"sort"

	"github.com/kilnworks/kiln/internal/fault"
)

// Registry holds all registered bricks for a single application instance.
type Registry struct {
	bricks map[string]Brick
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{bricks: make(map[string]Brick)}
}

// Register validates a brick's descriptor and adds it to the registry. The
// returned error is always a schema error: descriptor defects are
// authoring-time failures, caught before any pipeline is processed.
func (r *Registry) Register(b Brick) error {
	d := b.Descriptor()
	if d == nil {
		return fault.Schemaf("brick has no descriptor")
	}
	if err := d.validate(); err != nil {
		return err
	}
	if _, exists := r.bricks[d.Type]; exists {
		return fault.Schemaf("brick type '%s' already registered", d.Type)
	}
	slog.Debug("Registering brick.", "type", d.Type)
	r.bricks[d.Type] = b
	return nil
}

// Lookup returns the brick registered for the given type.
func (r *Registry) Lookup(brickType string) (Brick, error) {
	b, ok := r.bricks[brickType]
	if !ok {
		err := fault.Schemaf("unknown brick type '%s'", brickType)
		return nil, fault.WithSuggestion(err, brickType, r.Types())
	}
	return b, nil
}

// Describe returns the descriptor registered for the given type.
func (r *Registry) Describe(brickType string) (*Descriptor, error) {
	b, err := r.Lookup(brickType)
	if err != nil {
		return nil, err
	}
	return b.Descriptor(), nil
}

// Types returns the registered brick types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.bricks))
	for t := range r.bricks {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
