// Package router implements the edge-indexed message router: the single
// consumer of the central message queue that dispatches AgentOut, BoardOut,
// and Store messages to their targets, per spec.md §4.4.
package router

import (
	"context"
	"errors"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/logger"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by TryEmit/TryEmitBoardOut/TryEmitStore when the
// central queue is at capacity; spec.md §4.4 requires this never blocks.
var ErrQueueFull = errors.New("router: message queue full")

// InstanceLookup resolves a live instance by id. The reconcile loop is the
// only writer of the underlying map; Router only ever reads through this
// interface, matching spec.md §5's single-writer rule.
type InstanceLookup interface {
	Get(id string) (instance.Agent, bool)
}

// EventSink is the narrow persistence surface the router needs for Store
// dispatch; the full interface (query/search/resolve_image) lives in
// package eventsink and is implemented by sqliteeventsink/pgeventsink.
type EventSink interface {
	Store(agentID, kind string, v value.Value) error
}

// UIEventSink is the unidirectional event surface described in spec.md §6.
type UIEventSink interface {
	WriteBoard(boardName string, data value.Data)
	Display(agentID, key string, data value.Data)
	Error(agentID string, err error)
	Input(agentID, ch string)
}

// BoardMirror optionally republishes board writes onto an external bus
// (the NATS mirror described in SPEC_FULL.md §2/§4.4). Failures are the
// mirror implementation's problem to log; Router never inspects them.
type BoardMirror interface {
	PublishBoard(name string, data value.Data)
}

// edgeTarget is one outgoing connection from a source node.
type edgeTarget struct {
	targetID     string
	sourceHandle string
	targetHandle string
}

// Router holds the edge index, board indices/cache, and the central
// message queue, and runs the single dispatch loop that drains it.
type Router struct {
	instances InstanceLookup
	eventSink EventSink
	ui        UIEventSink
	mirror    BoardMirror
	log       *logger.Logger

	queue chan message

	mu               sync.RWMutex
	edges            map[string][]edgeTarget
	boardOutAgents   map[string]map[string]struct{}
	boardSubscribers map[string]map[string]struct{}
	boardData        map[string]value.Data
}

// Config tunes queue capacity; zero value defaults to 4096 per spec.md §5.
type Config struct {
	QueueCapacity int
}

// New constructs a Router. instances, eventSink, ui, and mirror may be
// nil/omitted; a nil EventSink/UIEventSink/BoardMirror simply means that
// dispatch path is a no-op, not an error.
func New(cfg Config, instances InstanceLookup, eventSink EventSink, ui UIEventSink, mirror BoardMirror, log *logger.Logger) *Router {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	if log == nil {
		log = logger.Default()
	}
	return &Router{
		instances:        instances,
		eventSink:        eventSink,
		ui:               ui,
		mirror:           mirror,
		log:              log,
		queue:            make(chan message, cfg.QueueCapacity),
		edges:            make(map[string][]edgeTarget),
		boardOutAgents:   make(map[string]map[string]struct{}),
		boardSubscribers: make(map[string]map[string]struct{}),
		boardData:        make(map[string]value.Data),
	}
}

// EdgeSpec is the minimal shape RebuildEdges needs from a flow edge —
// decoupled from package flow's Edge type so router has no dependency on
// flow.
type EdgeSpec struct {
	SourceID     string
	SourceHandle string
	TargetID     string
	TargetHandle string
}

// RebuildEdges replaces the edge index wholesale from the given set,
// normalizing empty/"*" handles per spec.md invariant 5. Called by the
// reconcile loop after every want/have diff.
func (r *Router) RebuildEdges(specs []EdgeSpec) {
	edges := make(map[string][]edgeTarget, len(specs))
	for _, e := range specs {
		src := normalizeHandle(e.SourceHandle)
		tgt := normalizeHandle(e.TargetHandle)
		edges[e.SourceID] = append(edges[e.SourceID], edgeTarget{
			targetID:     e.TargetID,
			sourceHandle: src,
			targetHandle: tgt,
		})
	}
	r.mu.Lock()
	r.edges = edges
	r.mu.Unlock()
}

func normalizeHandle(h string) string {
	if h == "" || h == "*" {
		return "*"
	}
	return h
}

// RegisterBoardOutAgent adds id to the producer-side index for boardName:
// when boardName receives a write, id is treated as if it had just emitted
// that data on channel boardName, re-entering ordinary AgentOut dispatch
// over id's own outgoing edges.
func (r *Router) RegisterBoardOutAgent(boardName, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.boardOutAgents[boardName]
	if !ok {
		set = make(map[string]struct{})
		r.boardOutAgents[boardName] = set
	}
	set[id] = struct{}{}
}

// UnregisterBoardOutAgent removes id from boardName's producer-side index.
func (r *Router) UnregisterBoardOutAgent(boardName, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.boardOutAgents[boardName]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.boardOutAgents, boardName)
		}
	}
}

// RegisterBoardSubscriber adds id to boardName's consumer-side index,
// maintained by board-in agents per spec.md §3 invariant 4.
func (r *Router) RegisterBoardSubscriber(boardName, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.boardSubscribers[boardName]
	if !ok {
		set = make(map[string]struct{})
		r.boardSubscribers[boardName] = set
	}
	set[id] = struct{}{}
}

// UnregisterBoardSubscriber removes id from boardName's consumer-side
// index; called on agent stop so invariant 4 (no stale ids) holds.
func (r *Router) UnregisterBoardSubscriber(boardName, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.boardSubscribers[boardName]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.boardSubscribers, boardName)
		}
	}
}

// UnregisterAgentEverywhere drops id from every board index, called when
// an instance is stopped by the reconcile loop regardless of which boards
// it participated in.
func (r *Router) UnregisterAgentEverywhere(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, set := range r.boardOutAgents {
		delete(set, id)
		if len(set) == 0 {
			delete(r.boardOutAgents, name)
		}
	}
	for name, set := range r.boardSubscribers {
		delete(set, id)
		if len(set) == 0 {
			delete(r.boardSubscribers, name)
		}
	}
}

// BoardData returns the last-value cache entry for name, if any.
func (r *Router) BoardData(name string) (value.Data, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.boardData[name]
	return d, ok
}

// TryEmit enqueues an AgentOut message; never blocks. Returns ErrQueueFull
// if the central queue is at capacity, per spec.md §4.4's backpressure
// policy.
func (r *Router) TryEmit(id, ch string, data value.Data) error {
	select {
	case r.queue <- message{kind: kindAgentOut, agentOut: &agentOutMsg{sourceID: id, ch: ch, data: data}}:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryEmitBoardOut enqueues a BoardOut message. An empty boardName is a
// no-op per spec.md §4.4's board-in semantics.
func (r *Router) TryEmitBoardOut(boardName string, data value.Data) error {
	if boardName == "" {
		return nil
	}
	select {
	case r.queue <- message{kind: kindBoardOut, boardOut: &boardOutMsg{name: boardName, data: data}}:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryEmitStore enqueues a Store message destined for the event sink.
func (r *Router) TryEmitStore(agentID, kind string, v value.Value) error {
	select {
	case r.queue <- message{kind: kindStore, store: &storeMsg{agentID: agentID, kind: kind, value: v}}:
		return nil
	default:
		return ErrQueueFull
	}
}

// EmitDisplay forwards a display event to the UI sink, if configured.
func (r *Router) EmitDisplay(agentID, key string, data value.Data) {
	if r.ui != nil {
		r.ui.Display(agentID, key, data)
	}
}

// EmitError forwards an error event to the UI sink, if configured, and logs
// it locally regardless.
func (r *Router) EmitError(agentID string, err error) {
	r.log.Warn("agent error", zap.String("agent_id", agentID), zap.Error(err))
	if r.ui != nil {
		r.ui.Error(agentID, err)
	}
}

// Run drains the central queue until ctx is cancelled. It is meant to run
// as the router's single dispatch task (spec.md §5).
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			r.dispatch(msg)
		}
	}
}

func (r *Router) dispatch(msg message) {
	switch msg.kind {
	case kindAgentOut:
		r.dispatchAgentOut(msg.agentOut)
	case kindBoardOut:
		r.dispatchBoardOut(msg.boardOut)
	case kindStore:
		r.dispatchStore(msg.store)
	}
}

func (r *Router) dispatchAgentOut(m *agentOutMsg) {
	r.mu.RLock()
	targets := r.edges[m.sourceID]
	r.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	for _, t := range targets {
		if t.sourceHandle != "*" && t.sourceHandle != m.ch {
			continue
		}
		effective := t.targetHandle
		if effective == "*" {
			effective = m.ch
		}

		target, ok := r.resolve(t.targetID)
		if !ok {
			r.log.Debug("router: dropping message, target not live",
				zap.String("source_id", m.sourceID), zap.String("target_id", t.targetID))
			continue
		}
		if err := target.Process(value.Context{Ch: effective}, m.data); err != nil {
			r.EmitError(t.targetID, err)
		}
	}
}

func (r *Router) dispatchBoardOut(m *boardOutMsg) {
	r.mu.Lock()
	r.boardData[m.name] = m.data
	var producers []string
	if set, ok := r.boardOutAgents[m.name]; ok {
		producers = make([]string, 0, len(set))
		for id := range set {
			producers = append(producers, id)
		}
	}
	r.mu.Unlock()

	for _, id := range producers {
		if err := r.TryEmit(id, m.name, m.data); err != nil {
			r.EmitError(id, err)
		}
	}

	if r.ui != nil {
		r.ui.WriteBoard(m.name, scrubImages(m.data))
	}
	if r.mirror != nil {
		r.mirror.PublishBoard(m.name, m.data)
	}
}

func (r *Router) dispatchStore(m *storeMsg) {
	if r.eventSink == nil {
		return
	}
	if err := r.eventSink.Store(m.agentID, m.kind, m.value); err != nil {
		r.EmitError(m.agentID, err)
	}
}

func (r *Router) resolve(id string) (instance.Agent, bool) {
	if r.instances == nil {
		return nil, false
	}
	return r.instances.Get(id)
}

// scrubImages returns a copy of data whose value is replaced by unit when
// it is itself an image, keeping write_board payloads small. Images nested
// inside objects or arrays are passed through unchanged.
func scrubImages(data value.Data) value.Data {
	if data.Value.Kind() != value.KindImage {
		return data
	}
	out := data
	out.Value = value.Unit()
	return out
}
