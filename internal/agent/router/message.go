package router

import "github.com/mnemnk/runtime/internal/agent/value"

type kind int

const (
	kindAgentOut kind = iota
	kindBoardOut
	kindStore
)

// message is the tagged union carried by the central queue: AgentOut |
// BoardOut | Store, per spec.md §4.4.
type message struct {
	kind     kind
	agentOut *agentOutMsg
	boardOut *boardOutMsg
	store    *storeMsg
}

type agentOutMsg struct {
	sourceID string
	ch       string
	data     value.Data
}

type boardOutMsg struct {
	name string
	data value.Data
}

type storeMsg struct {
	agentID string
	kind    string
	value   value.Value
}
