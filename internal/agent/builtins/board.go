package builtins

import (
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/value"
)

const configBoardName = "$board"

// boardInAgent writes every value it receives onto a named board, per
// original_source's board.rs BoardInAgent. board_name == "*" uses the
// incoming channel name as the board name instead of a fixed one. It
// maintains the board_subscribers index (register on start/config,
// unregister on stop) so Router.UnregisterAgentEverywhere can clean it up
// if the instance is dropped without a clean stop.
type boardInAgent struct {
	instance.BaseAgent
	router    *router.Router
	boardName string
}

func newBoardInAgent(id, defName string, config map[string]value.Value, emitter instance.Emitter, rtr *router.Router) *boardInAgent {
	a := &boardInAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter), router: rtr}
	a.boardName, _ = a.MergedConfig()[configBoardName].AsString()
	return a
}

func (a *boardInAgent) Start() error {
	return a.RunStart(func() error {
		if a.boardName != "" && a.boardName != "*" {
			a.router.RegisterBoardSubscriber(a.boardName, a.ID())
		}
		return nil
	})
}

func (a *boardInAgent) Stop() error {
	return a.RunStop(func() error {
		a.router.UnregisterAgentEverywhere(a.ID())
		return nil
	})
}

func (a *boardInAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	newName, _ := a.MergedConfig()[configBoardName].AsString()
	if newName == a.boardName {
		return nil
	}
	if a.boardName != "" && a.boardName != "*" {
		a.router.UnregisterBoardSubscriber(a.boardName, a.ID())
	}
	a.boardName = newName
	if a.Status() == instance.StatusRun && a.boardName != "" && a.boardName != "*" {
		a.router.RegisterBoardSubscriber(a.boardName, a.ID())
	}
	return nil
}

func (a *boardInAgent) Process(actx value.Context, data value.Data) error {
	boardName := a.boardName
	if boardName == "" {
		return nil
	}
	if boardName == "*" {
		if actx.Ch == "" {
			return nil
		}
		boardName = actx.Ch
	}
	if err := a.Emitter.TryEmitBoardOut(boardName, data); err != nil {
		a.Emitter.EmitError(a.ID(), err)
		return err
	}
	return nil
}

func boardInDef(emitter instance.Emitter, rtr *router.Router) *definition.Definition {
	return &definition.Definition{
		Name: "$board_in", Title: "Board In", Category: "Core", Kind: definition.KindBuiltin,
		Inputs: []string{"*"},
		DefaultConfig: map[string]definition.ConfigEntry{
			configBoardName: {Title: "Board Name", Description: "* = incoming channel", Type: "string", Default: value.String("")},
		},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newBoardInAgent(id, defName, config, emitter, rtr), nil
		},
	}
}

// boardOutAgent re-emits the board's last value on its own outgoing edges
// whenever the board is written, by registering as a board_out_agent for
// board_name, per original_source's board.rs BoardOutAgent and spec.md
// §4.4's BoardOut dispatch algorithm.
type boardOutAgent struct {
	instance.BaseAgent
	router    *router.Router
	boardName string
}

func newBoardOutAgent(id, defName string, config map[string]value.Value, emitter instance.Emitter, rtr *router.Router) *boardOutAgent {
	a := &boardOutAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter), router: rtr}
	a.boardName, _ = a.MergedConfig()[configBoardName].AsString()
	return a
}

func (a *boardOutAgent) Start() error {
	return a.RunStart(func() error {
		if a.boardName != "" {
			a.router.RegisterBoardOutAgent(a.boardName, a.ID())
		}
		return nil
	})
}

func (a *boardOutAgent) Stop() error {
	return a.RunStop(func() error {
		a.router.UnregisterAgentEverywhere(a.ID())
		return nil
	})
}

func (a *boardOutAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	newName, _ := a.MergedConfig()[configBoardName].AsString()
	if newName == a.boardName {
		return nil
	}
	if a.boardName != "" {
		a.router.UnregisterBoardOutAgent(a.boardName, a.ID())
	}
	a.boardName = newName
	if a.Status() == instance.StatusRun && a.boardName != "" {
		a.router.RegisterBoardOutAgent(a.boardName, a.ID())
	}
	return nil
}

func (a *boardOutAgent) Process(actx value.Context, data value.Data) error { return nil }

func boardOutDef(emitter instance.Emitter, rtr *router.Router) *definition.Definition {
	return &definition.Definition{
		Name: "$board_out", Title: "Board Out", Category: "Core", Kind: definition.KindBuiltin,
		Outputs: []string{"*"},
		DefaultConfig: map[string]definition.ConfigEntry{
			configBoardName: {Title: "Board Name", Type: "string", Default: value.String("")},
		},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newBoardOutAgent(id, defName, config, emitter, rtr), nil
		},
	}
}
