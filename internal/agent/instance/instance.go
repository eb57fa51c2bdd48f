// Package instance defines the Agent contract every live agent satisfies —
// built-in or subprocess — and BaseAgent, the shared lifecycle/state-machine
// plumbing concrete agents embed.
package instance

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mnemnk/runtime/internal/agent/value"
)

// Status is the agent lifecycle state, monotone per spec.md invariant 3:
// Init -> Start -> Run -> Stop -> Init.
type Status int32

const (
	StatusInit Status = iota
	StatusStart
	StatusRun
	StatusStop
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "Init"
	case StatusStart:
		return "Start"
	case StatusRun:
		return "Run"
	case StatusStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

var (
	ErrNotInit        = errors.New("instance: start requires status Init")
	ErrUnknownDefName = errors.New("instance: unknown definition name")
	ErrUnknownDefKind = errors.New("instance: unknown definition kind")
)

// Emitter is the subset of the router/environment an agent needs to push
// output, board writes, and UI events — kept as a narrow interface here so
// package instance never imports package router (router depends on
// instance, not the reverse).
type Emitter interface {
	TryEmit(id, ch string, data value.Data) error
	TryEmitBoardOut(boardName string, data value.Data) error
	EmitDisplay(id, key string, data value.Data)
	EmitError(id string, err error)
}

// Agent is the capability set every live instance exposes, matching
// spec.md §4.3. It structurally satisfies definition.Instance (Start/Stop)
// without either package importing the other.
type Agent interface {
	ID() string
	DefName() string
	Status() Status
	Start() error
	Stop() error
	SetConfig(config map[string]value.Value) error
	Process(actx value.Context, data value.Data) error
}

// BaseAgent holds the fields and lifecycle plumbing common to every agent
// kind: status, merged config, and the emitter used to produce output.
// Concrete agents embed BaseAgent and implement Start/Stop/Process
// themselves, calling RunStart/RunStop to get the status-transition
// guarantees spec.md §3 invariant 3 requires.
type BaseAgent struct {
	id      string
	defName string

	status atomic.Int32

	mu             sync.Mutex
	globalConfig   map[string]value.Value
	instanceConfig map[string]value.Value

	Emitter Emitter
}

// NewBase constructs a BaseAgent. globalConfig is the per-kind singleton
// config (from the definition's global_config defaults merged with any
// ConfigProvider override); instanceConfig is this node's per-instance
// config from the flow document.
func NewBase(id, defName string, globalConfig, instanceConfig map[string]value.Value, emitter Emitter) BaseAgent {
	b := BaseAgent{
		id:             id,
		defName:        defName,
		globalConfig:   cloneConfig(globalConfig),
		instanceConfig: cloneConfig(instanceConfig),
		Emitter:        emitter,
	}
	b.status.Store(int32(StatusInit))
	return b
}

func cloneConfig(m map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (b *BaseAgent) ID() string      { return b.id }
func (b *BaseAgent) DefName() string { return b.defName }

// Status returns the current lifecycle state.
func (b *BaseAgent) Status() Status { return Status(b.status.Load()) }

// MergedConfig returns global_config ⊕ instance_config, instance wins on
// key collision, per spec.md §4.3.
func (b *BaseAgent) MergedConfig() map[string]value.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := cloneConfig(b.globalConfig)
	for k, v := range b.instanceConfig {
		out[k] = v
	}
	return out
}

// SetInstanceConfig replaces the per-instance config. Idempotent: calling
// twice with an identical map leaves MergedConfig's output unchanged, per
// spec.md §8 invariant 4.
func (b *BaseAgent) SetInstanceConfig(config map[string]value.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instanceConfig = cloneConfig(config)
}

// RunStart transitions Init -> Start, invokes doStart, and on success
// transitions Start -> Run. On failure the status is left at Start; the
// reconcile loop is responsible for removing the instance from the map
// without retrying, per spec.md §4.6/§7.
func (b *BaseAgent) RunStart(doStart func() error) error {
	if b.Status() != StatusInit {
		return fmt.Errorf("%w: agent %s is %s", ErrNotInit, b.id, b.Status())
	}
	b.status.Store(int32(StatusStart))
	if err := doStart(); err != nil {
		if b.Emitter != nil {
			b.Emitter.EmitError(b.id, err)
		}
		return err
	}
	b.status.Store(int32(StatusRun))
	return nil
}

// RunStop transitions to Stop, invokes doStop, then settles at Init —
// idempotent regardless of the status RunStop was called from, matching
// spec.md's "stop() — idempotent" contract.
func (b *BaseAgent) RunStop(doStop func() error) error {
	if b.Status() == StatusInit {
		return nil
	}
	b.status.Store(int32(StatusStop))
	err := doStop()
	b.status.Store(int32(StatusInit))
	if err != nil && b.Emitter != nil {
		b.Emitter.EmitError(b.id, err)
	}
	return err
}

// Emit is a convenience wrapper agents call from Process to produce output
// on a channel, surfacing any QueueFull error via EmitError per spec.md §7
// (the router does not retry).
func (b *BaseAgent) Emit(ch string, data value.Data) error {
	if b.Emitter == nil {
		return nil
	}
	if err := b.Emitter.TryEmit(b.id, ch, data); err != nil {
		b.Emitter.EmitError(b.id, err)
		return err
	}
	return nil
}

// EmitDisplay pushes a UI display event for this agent.
func (b *BaseAgent) EmitDisplay(key string, data value.Data) {
	if b.Emitter != nil {
		b.Emitter.EmitDisplay(b.id, key, data)
	}
}
