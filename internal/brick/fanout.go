package brick

// Stage-config keys of the fan-out contract, interpreted by fan-out bricks
// and by the graph builder.
const (
	// BaseKey holds the shared configuration merged under every item.
	BaseKey = "base"
	// ItemsKey holds a static map of per-item override trees.
	ItemsKey = "items"
	// ItemsFromKey names the stage whose output supplies items at runtime.
	ItemsFromKey = "items_from"
	// ScratchKey marks a stage's items as sharing one external scratch
	// directory, which forces them to run one at a time.
	ScratchKey = "scratch"
)
