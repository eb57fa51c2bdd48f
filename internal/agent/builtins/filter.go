package builtins

import (
	"regexp"
	"strings"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
)

const categoryFilter = "Core/Filter"

// truthyFilterAgent implements both $truthy_pass and $falsy_pass: pass is
// true for $truthy_pass, false for $falsy_pass, matching
// original_source's filter.rs TruthyPassAgent/FalsyPassAgent (mirror
// images of the same is_truthy check).
type truthyFilterAgent struct {
	instance.BaseAgent
	pass bool
}

func newTruthyFilterAgent(id, defName string, pass bool, config map[string]value.Value, emitter instance.Emitter) *truthyFilterAgent {
	return &truthyFilterAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter), pass: pass}
}

func (a *truthyFilterAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *truthyFilterAgent) Stop() error  { return a.RunStop(func() error { return nil }) }
func (a *truthyFilterAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	return nil
}

func (a *truthyFilterAgent) Process(actx value.Context, data value.Data) error {
	if data.Value.Truthy() == a.pass {
		return a.Emit(actx.Ch, data)
	}
	return nil
}

func truthyPassDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name: "$truthy_pass", Title: "Truthy Pass", Category: categoryFilter, Kind: definition.KindBuiltin,
		Inputs: []string{"*"}, Outputs: []string{"*"},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newTruthyFilterAgent(id, defName, true, config, emitter), nil
		},
	}
}

func falsyPassDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name: "$falsy_pass", Title: "Falsy Pass", Category: categoryFilter, Kind: definition.KindBuiltin,
		Inputs: []string{"*"}, Outputs: []string{"*"},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newTruthyFilterAgent(id, defName, false, config, emitter), nil
		},
	}
}

// regexListAgent implements $pass_regex_list / $block_regex_list: a
// newline-separated list of patterns, each anchored at the start, tested
// against data.value[field]. No RegexSet-equivalent library appears
// anywhere in the corpus, so this compiles the patterns individually with
// the standard regexp package and checks each in turn — the same match-
// any-of-N semantics as original_source's regex::RegexSet, just without a
// single combined automaton.
type regexListAgent struct {
	instance.BaseAgent
	pass bool

	mu      sync.Mutex
	field   string
	regexes []*regexp.Regexp
}

func newRegexListAgent(id, defName string, pass bool, config map[string]value.Value, emitter instance.Emitter) *regexListAgent {
	a := &regexListAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter), pass: pass}
	a.applyConfig(a.MergedConfig())
	return a
}

func (a *regexListAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *regexListAgent) Stop() error  { return a.RunStop(func() error { return nil }) }

func (a *regexListAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	a.applyConfig(a.MergedConfig())
	return nil
}

func (a *regexListAgent) applyConfig(merged map[string]value.Value) {
	field, _ := merged["field"].AsString()
	listText, _ := merged["regex_list"].AsString()

	var compiled []*regexp.Regexp
	for _, line := range strings.Split(listText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		re, err := regexp.Compile("^" + line)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}

	a.mu.Lock()
	a.field = field
	a.regexes = compiled
	a.mu.Unlock()
}

func (a *regexListAgent) isMatch(data value.Data) bool {
	a.mu.Lock()
	field, regexes := a.field, a.regexes
	a.mu.Unlock()
	if len(regexes) == 0 || field == "" {
		return false
	}
	obj, ok := data.Value.AsObject()
	if !ok {
		return false
	}
	fieldValue, ok := obj[field]
	if !ok {
		return false
	}
	s, ok := fieldValue.AsString()
	if !ok {
		return false
	}
	for _, re := range regexes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (a *regexListAgent) Process(actx value.Context, data value.Data) error {
	if a.isMatch(data) == a.pass {
		return a.Emit(actx.Ch, data)
	}
	return nil
}

func regexListDefaultConfig() map[string]definition.ConfigEntry {
	return map[string]definition.ConfigEntry{
		"field":      {Title: "Field", Type: "string", Default: value.String("")},
		"regex_list": {Title: "regex list", Type: "text", Default: value.Text("")},
	}
}

func passRegexListDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name: "$pass_regex_list", Title: "Pass Regex List", Category: categoryFilter, Kind: definition.KindBuiltin,
		Inputs: []string{"*"}, Outputs: []string{"*"}, DefaultConfig: regexListDefaultConfig(),
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newRegexListAgent(id, defName, true, config, emitter), nil
		},
	}
}

func blockRegexListDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name: "$block_regex_list", Title: "Block Regex List", Category: categoryFilter, Kind: definition.KindBuiltin,
		Inputs: []string{"*"}, Outputs: []string{"*"}, DefaultConfig: regexListDefaultConfig(),
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newRegexListAgent(id, defName, false, config, emitter), nil
		},
	}
}
