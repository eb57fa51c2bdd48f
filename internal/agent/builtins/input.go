package builtins

import (
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
)

const categoryInput = "Core/Input"

// inputAgent implements every "$<kind>_input" definition: it has no wired
// inputs and emits its configured value on channel configKey whenever a
// reconcile SetConfig lands while the agent is actually running (status
// Run), mirroring original_source's input.rs "status check before output"
// comment — set_config fires even for instances that were never started.
type inputAgent struct {
	instance.BaseAgent
	configKey string
	kind      value.Kind
}

func newInputAgent(id, defName, configKey string, kind value.Kind, globalConfig, instanceConfig map[string]value.Value, emitter instance.Emitter) *inputAgent {
	return &inputAgent{
		BaseAgent: instance.NewBase(id, defName, globalConfig, instanceConfig, emitter),
		configKey: configKey,
		kind:      kind,
	}
}

func (a *inputAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *inputAgent) Stop() error  { return a.RunStop(func() error { return nil }) }

func (a *inputAgent) Process(actx value.Context, data value.Data) error { return nil }

func (a *inputAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	if a.Status() != instance.StatusRun {
		return nil
	}
	v, ok := a.MergedConfig()[a.configKey]
	if !ok {
		return nil
	}
	return a.Emit(a.configKey, value.New(string(a.kind), v))
}

func inputDef(name, title, configKey string, kind value.Kind, defaultValue value.Value) *definition.Definition {
	return &definition.Definition{
		Name:     name,
		Title:    title,
		Category: categoryInput,
		Kind:     definition.KindBuiltin,
		Outputs:  []string{configKey},
		DefaultConfig: map[string]definition.ConfigEntry{
			configKey: {Type: string(kind), Default: defaultValue},
		},
	}
}

func unitInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$unit_input", "Unit Input", "unit", value.KindUnit, value.Unit())
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "unit", value.KindUnit, globals, config, emitter), nil
	}
	return d
}

func booleanInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$boolean_input", "Boolean Input", "boolean", value.KindBoolean, value.Boolean(false))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "boolean", value.KindBoolean, globals, config, emitter), nil
	}
	return d
}

func integerInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$integer_input", "Integer Input", "integer", value.KindInteger, value.Integer(0))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "integer", value.KindInteger, globals, config, emitter), nil
	}
	return d
}

func numberInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$number_input", "Number Input", "number", value.KindNumber, value.Number(0))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "number", value.KindNumber, globals, config, emitter), nil
	}
	return d
}

func stringInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$string_input", "String Input", "string", value.KindString, value.String(""))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "string", value.KindString, globals, config, emitter), nil
	}
	return d
}

func textInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$text_input", "Text Input", "text", value.KindText, value.Text(""))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "text", value.KindText, globals, config, emitter), nil
	}
	return d
}

func objectInputDef(emitter instance.Emitter) *definition.Definition {
	d := inputDef("$object_input", "Object Input", "object", value.KindObject, value.Object(map[string]value.Value{}))
	globals := defaultConfigValues(d.DefaultConfig)
	d.Factory = func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return newInputAgent(id, defName, "object", value.KindObject, globals, config, emitter), nil
	}
	return d
}
