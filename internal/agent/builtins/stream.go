package builtins

import (
	"fmt"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
)

const categoryStream = "Core/Stream"

// streamAgent stamps each passing value with a monotonically increasing
// "$stream:<name>" metadata id, per original_source's stream.rs
// StreamAgent; an empty stream name makes it a no-op passthrough.
type streamAgent struct {
	instance.BaseAgent

	mu     sync.Mutex
	lastID int64
}

func newStreamAgent(id, defName string, config map[string]value.Value, emitter instance.Emitter) *streamAgent {
	return &streamAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter)}
}

func (a *streamAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *streamAgent) Stop() error  { return a.RunStop(func() error { return nil }) }
func (a *streamAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	return nil
}

func (a *streamAgent) Process(actx value.Context, data value.Data) error {
	stream, _ := a.MergedConfig()["stream"].AsString()
	if stream == "" {
		return a.Emit("data", data)
	}

	a.mu.Lock()
	a.lastID++
	id := a.lastID
	a.mu.Unlock()

	out := data.WithMetadata(value.StreamMetadataKey(stream), value.Integer(id))
	return a.Emit("data", out)
}

func streamDef(emitter instance.Emitter) *definition.Definition {
	return &definition.Definition{
		Name: "$stream", Title: "Stream", Category: categoryStream, Kind: definition.KindBuiltin,
		Inputs: []string{"data"}, Outputs: []string{"data"},
		DefaultConfig: map[string]definition.ConfigEntry{
			"stream": {Type: "string", Default: value.String("")},
		},
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return newStreamAgent(id, defName, config, emitter), nil
		},
	}
}

// streamZipAgent implements $stream_zip2/3/4: it waits until one value has
// arrived on each of in1..inN, then emits a single object keyed by the
// configured key1..keyN, per original_source's stream.rs StreamZipAgent.
// When a "stream" name is configured, a new stream id resets any partial
// accumulation, per spec.md invariant 7 / SPEC_FULL.md §3's StreamZipN
// semantics.
type streamZipAgent struct {
	instance.BaseAgent

	mu          sync.Mutex
	n           int
	inChannels  []string
	keys        []string
	values      []value.Value
	haveValue   []bool
	currentID   int64
	haveCurrent bool
}

func newStreamZipAgent(id, defName string, n int, config map[string]value.Value, emitter instance.Emitter) *streamZipAgent {
	a := &streamZipAgent{BaseAgent: instance.NewBase(id, defName, nil, config, emitter)}
	a.applyConfig(n, a.MergedConfig())
	return a
}

func (a *streamZipAgent) Start() error { return a.RunStart(func() error { return nil }) }
func (a *streamZipAgent) Stop() error  { return a.RunStop(func() error { return nil }) }

func (a *streamZipAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	merged := a.MergedConfig()
	n := a.n
	if nv, ok := merged["n"].AsInt(); ok && nv > 1 {
		n = int(nv)
	}
	a.applyConfig(n, merged)
	return nil
}

func (a *streamZipAgent) applyConfig(n int, merged map[string]value.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i], _ = merged[fmt.Sprintf("key%d", i+1)].AsString()
	}

	if a.n == n {
		a.keys = keys
		return
	}

	a.n = n
	a.inChannels = make([]string, n)
	for i := 0; i < n; i++ {
		a.inChannels[i] = fmt.Sprintf("in%d", i+1)
	}
	a.keys = keys
	a.values = make([]value.Value, n)
	a.haveValue = make([]bool, n)
	a.currentID = 0
	a.haveCurrent = false
}

func (a *streamZipAgent) Process(actx value.Context, data value.Data) error {
	stream, _ := a.MergedConfig()["stream"].AsString()

	a.mu.Lock()
	for i, k := range a.keys {
		if k == "" {
			a.mu.Unlock()
			return fmt.Errorf("stream zip: key%d is not set", i+1)
		}
	}

	if stream != "" {
		id, ok := data.StreamID(stream)
		if !ok {
			a.mu.Unlock()
			return nil
		}
		if !a.haveCurrent || id != a.currentID {
			a.currentID = id
			a.haveCurrent = true
			for i := range a.values {
				a.haveValue[i] = false
			}
		}
	}

	for i, ch := range a.inChannels {
		if ch == actx.Ch {
			a.values[i] = data.Value
			a.haveValue[i] = true
		}
	}

	for _, got := range a.haveValue {
		if !got {
			a.mu.Unlock()
			return nil
		}
	}

	obj := make(map[string]value.Value, a.n)
	for i, k := range a.keys {
		obj[k] = a.values[i]
		a.haveValue[i] = false
	}
	a.mu.Unlock()

	out := value.Data{Kind: "object", Value: value.Object(obj), Metadata: data.Metadata}
	return a.Emit("data", out)
}

func streamZipDef(emitter instance.Emitter, n int) *definition.Definition {
	name := fmt.Sprintf("$stream_zip%d", n)
	inputs := make([]string, n)
	config := map[string]definition.ConfigEntry{
		"n":      {Type: "integer", Default: value.Integer(int64(n))},
		"stream": {Type: "string", Default: value.String("")},
	}
	for i := 0; i < n; i++ {
		inputs[i] = fmt.Sprintf("in%d", i+1)
		config[fmt.Sprintf("key%d", i+1)] = definition.ConfigEntry{Type: "string", Default: value.String("")}
	}
	return &definition.Definition{
		Name: name, Title: fmt.Sprintf("Zip%d", n), Category: categoryStream, Kind: definition.KindBuiltin,
		Inputs: inputs, Outputs: []string{"data"}, DefaultConfig: config,
		Factory: func(id, defName string, cfg map[string]value.Value) (definition.Instance, error) {
			return newStreamZipAgent(id, defName, n, cfg, emitter), nil
		},
	}
}
