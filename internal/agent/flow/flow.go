// Package flow implements the Flow Store: named directed graphs of agent
// nodes and edges, persisted as JSON files under agent_flows/ in the data
// root.
package flow

import "github.com/mnemnk/runtime/internal/agent/value"

// Node declares a would-be agent instance inside a flow.
type Node struct {
	ID      string                 `json:"id"`
	DefName string                 `json:"def_name"`
	Enabled bool                   `json:"enabled"`
	Config  map[string]value.Value `json:"config,omitempty"`
	X       float64                `json:"x,omitempty"`
	Y       float64                `json:"y,omitempty"`
	W       float64                `json:"w,omitempty"`
	H       float64                `json:"h,omitempty"`
}

// Edge is a directed connection between two nodes with optional channel
// filters. Empty handles are normalized to "*" at edge-ingest time by the
// router, not here — Edge stores what was declared.
type Edge struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	SourceHandle string `json:"source_handle"`
	TargetID     string `json:"target_id"`
	TargetHandle string `json:"target_handle"`
}

// Flow is a named graph of nodes and edges. Path records the file it was
// loaded from/will be saved to; it is not part of the flow's identity and
// is excluded from equality comparisons used by round-trip tests.
type Flow struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Path  string `json:"-"`
}

// NormalizedHandle returns "*" for "" and "*" (spec.md invariant 5); any
// other value passes through unchanged.
func NormalizedHandle(h string) string {
	if h == "" {
		return "*"
	}
	return h
}

// EnabledNodeIDs returns the ids of every enabled node in the flow.
func (f *Flow) EnabledNodeIDs() []string {
	out := make([]string, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.Enabled {
			out = append(out, n.ID)
		}
	}
	return out
}

// NodeByID returns the node with the given id, if present.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// EdgeByID returns the edge with the given id, if present.
func (f *Flow) EdgeByID(id string) (*Edge, bool) {
	for i := range f.Edges {
		if f.Edges[i].ID == id {
			return &f.Edges[i], true
		}
	}
	return nil, false
}
