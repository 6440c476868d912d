package dag

import (
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/kilnworks/kiln/internal/brick"
	"github.com/kilnworks/kiln/internal/cfgtree"
)

// Namespace holds a stage's published values: the outputs its brick exposes
// for downstream stages and the records it extracts for reporting. One
// namespace exists per stage; the stage's extract node populates it and
// downstream compute nodes read it, so access is concurrency-safe.
type Namespace struct {
	mu      sync.RWMutex
	stage   string
	fanOut  bool
	outputs map[string]map[string]cty.Value
	results map[string]brick.Record
}

func newNamespace(stage string, fanOut bool) *Namespace {
	return &Namespace{
		stage:   stage,
		fanOut:  fanOut,
		outputs: make(map[string]map[string]cty.Value),
		results: make(map[string]brick.Record),
	}
}

// Stage returns the owning stage name.
func (ns *Namespace) Stage() string {
	return ns.stage
}

// FanOut reports whether the namespace is itemized.
func (ns *Namespace) FanOut() bool {
	return ns.fanOut
}

// SetOutputs publishes the outputs of one item. The empty item label is the
// whole stage for one-to-one stages.
func (ns *Namespace) SetOutputs(item string, outputs map[string]cty.Value) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.outputs[item] = outputs
}

// SetResults publishes the extracted record of one item.
func (ns *Namespace) SetResults(item string, rec brick.Record) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.results[item] = rec
}

// Output returns one published output of one item.
func (ns *Namespace) Output(item, port string) (cty.Value, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	outputs, ok := ns.outputs[item]
	if !ok {
		return cty.NilVal, false
	}
	v, ok := outputs[port]
	return v, ok
}

// PortValue returns the stage-level value of an output port. For one-to-one
// stages that is the port's value directly; for fan-out stages it is an
// object keyed by item label.
func (ns *Namespace) PortValue(port string) (cty.Value, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if !ns.fanOut {
		outputs, ok := ns.outputs[""]
		if !ok {
			return cty.NilVal, false
		}
		v, ok := outputs[port]
		return v, ok
	}

	perItem := make(map[string]cty.Value)
	for item, outputs := range ns.outputs {
		if v, ok := outputs[port]; ok {
			perItem[item] = v
		}
	}
	if len(perItem) == 0 {
		return cty.NilVal, false
	}
	return cty.ObjectVal(perItem), true
}

// Items returns the item labels published so far, sorted.
func (ns *Namespace) Items() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return cfgtree.SortedGoKeys(ns.results)
}

// Results returns a copy of the per-item extracted records.
func (ns *Namespace) Results() map[string]brick.Record {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make(map[string]brick.Record, len(ns.results))
	for item, rec := range ns.results {
		out[item] = rec
	}
	return out
}
