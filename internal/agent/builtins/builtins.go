// Package builtins implements the built-in (in-process) agent definitions
// every runtime ships without a subprocess: input triggers, display sinks,
// truthy/regex filters, stream correlation, and the board bridge. Grounded
// directly in original_source's src-tauri/src/mnemnk/agent/builtins/*.rs,
// translated from the Rust AsAgent trait to package instance's
// BaseAgent-embedding convention.
package builtins

import (
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/value"
)

// RegisterAll registers every built-in definition with reg. emitter is
// wired into each instance's BaseAgent; rtr is needed directly (not just
// through the narrow instance.Emitter interface) by $board_out, which must
// call Router.RegisterBoardOutAgent/UnregisterBoardOutAgent, and by
// $board_in, which maintains the board_subscribers index.
func RegisterAll(reg *definition.Registry, emitter instance.Emitter, rtr *router.Router) error {
	defs := []*definition.Definition{
		unitInputDef(emitter),
		booleanInputDef(emitter),
		integerInputDef(emitter),
		numberInputDef(emitter),
		stringInputDef(emitter),
		textInputDef(emitter),
		objectInputDef(emitter),
		displayDataDef(emitter),
		debugDataDef(emitter),
		truthyPassDef(emitter),
		falsyPassDef(emitter),
		passRegexListDef(emitter),
		blockRegexListDef(emitter),
		streamDef(emitter),
		streamZipDef(emitter, 2),
		streamZipDef(emitter, 3),
		streamZipDef(emitter, 4),
		boardInDef(emitter, rtr),
		boardOutDef(emitter, rtr),
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// defaultConfigValues flattens a definition's default_config schema into a
// plain value map, seeding BaseAgent's global_config layer.
func defaultConfigValues(entries map[string]definition.ConfigEntry) map[string]value.Value {
	out := make(map[string]value.Value, len(entries))
	for k, e := range entries {
		out[k] = e.Default
	}
	return out
}
