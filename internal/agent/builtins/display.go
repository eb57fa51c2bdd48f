package builtins

import (
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
)

// displayAgent forwards whatever it receives straight to the UI as a
// display event under a fixed key, per original_source's display.rs
// DisplayDataAgent/DebugDataAgent (both bodies are identical in the
// original; they exist as two defs for two different UI renderings of the
// same passthrough-to-display behavior).
type displayAgent struct {
	instance.BaseAgent
	displayKey string
}

func newDisplayAgent(id, defName, displayKey string, config map[string]value.Value, emitter instance.Emitter) *displayAgent {
	return &displayAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter), displayKey: displayKey}
}

func (a *displayAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *displayAgent) Stop() error  { return a.RunStop(func() error { return nil }) }
func (a *displayAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	return nil
}

func (a *displayAgent) Process(actx value.Context, data value.Data) error {
	a.EmitDisplay(a.displayKey, data)
	return nil
}

func displayDataDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name:     "$display_data",
		Title:    "Display Data",
		Category: "Display",
		Kind:     definition.KindBuiltin,
		Inputs:   []string{"data"},
		DisplayConfig: map[string]definition.DisplayEntry{
			"data": {Type: "*"},
		},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newDisplayAgent(id, defName, "data", config, emitter), nil
		},
	}
}

func debugDataDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name:     "$debug_data",
		Title:    "Debug Data",
		Category: "Display",
		Kind:     definition.KindBuiltin,
		Inputs:   []string{"*"},
		DisplayConfig: map[string]definition.DisplayEntry{
			"data": {Type: "object"},
		},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newDisplayAgent(id, defName, "data", config, emitter), nil
		},
	}
}
