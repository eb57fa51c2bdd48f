// Package reconcile implements the want/have diff that keeps the live
// instance map in sync with the enabled flow graphs: stop removed
// instances, push config to kept ones, instantiate and start added ones,
// and rebuild the router's edge index. Grounded in the teacher's
// internal/agent/lifecycle.InstanceStore for the tracked-map shape and in
// Manager.Start's single "one operation at a time" discipline, generalized
// from a one-shot startup scan to a repeatable reconcile that runs at
// startup and on every Sync call. Flow, node and edge edits that only save
// a flow reach the live instances on the next Sync.
package reconcile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/flow"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/logger"
	"go.uber.org/zap"
)

// InstanceMap is the mutable table of live agent instances the reconciler
// owns. A narrow interface, not a concrete type, so the composition root
// (env) can inject its own locking table without reconcile importing it.
type InstanceMap interface {
	Get(id string) (instance.Agent, bool)
	Set(id string, agent instance.Agent)
	Delete(id string)
	Keys() []string
}

// Result summarizes one reconciliation pass, mainly for logging and tests.
type Result struct {
	Removed       []string
	Kept          []string
	Added         []string
	FailedToStart []string
}

// Reconciler ties the Definition Registry, Flow Store, instance map and
// Router together, per spec.md §4.6.
type Reconciler struct {
	registry *definition.Registry
	flows    *flow.Store
	router   *router.Router
	log      *logger.Logger

	mu        sync.Mutex
	instances InstanceMap
}

func New(registry *definition.Registry, flows *flow.Store, r *router.Router, instances InstanceMap, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Default()
	}
	return &Reconciler{registry: registry, flows: flows, router: r, instances: instances, log: log}
}

type wantedNode struct {
	flowName string
	node     flow.Node
}

// Sync runs one full reconciliation pass. It is serialized by mu: spec.md
// §4.6 requires exactly one reconciliation to run at a time.
func (rc *Reconciler) Sync() Result {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	want := rc.computeWant()
	have := rc.instances.Keys()
	haveSet := make(map[string]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
	}

	var result Result

	// to_remove = have - want
	for _, id := range have {
		if _, ok := want[id]; ok {
			continue
		}
		rc.stopAndDrop(id)
		result.Removed = append(result.Removed, id)
	}

	// to_keep = have ∩ want
	for id := range haveSet {
		wn, ok := want[id]
		if !ok {
			continue
		}
		agent, ok := rc.instances.Get(id)
		if !ok {
			continue
		}
		merged := mergedConfigOf(wn.node)
		if err := agent.SetConfig(merged); err != nil {
			rc.log.Warn("reconcile: set_config failed", zap.String("agent_id", id), zap.Error(err))
		}
		result.Kept = append(result.Kept, id)
	}

	// to_add = want - have
	var toAdd []string
	for id := range want {
		if _, ok := haveSet[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	sort.Strings(toAdd)
	for _, id := range toAdd {
		wn := want[id]
		agent, err := rc.instantiate(id, wn)
		if err != nil {
			rc.log.Warn("reconcile: instantiate failed", zap.String("agent_id", id), zap.Error(err))
			result.FailedToStart = append(result.FailedToStart, id)
			continue
		}
		rc.instances.Set(id, agent)
		result.Added = append(result.Added, id)
	}

	rc.rebuildEdges(want)

	// Start all to_add instances after the edge index is rebuilt, so a
	// newly started agent's first emission already has routes.
	for _, id := range result.Added {
		agent, ok := rc.instances.Get(id)
		if !ok {
			continue
		}
		if err := agent.Start(); err != nil {
			rc.log.Warn("reconcile: start failed, dropping", zap.String("agent_id", id), zap.Error(err))
			rc.router.UnregisterAgentEverywhere(id)
			rc.instances.Delete(id)
			result.FailedToStart = append(result.FailedToStart, id)
		}
	}
	// Remove started-but-failed ids from Added so callers see the final
	// membership, not the transient one.
	if len(result.FailedToStart) > 0 {
		failed := make(map[string]struct{}, len(result.FailedToStart))
		for _, id := range result.FailedToStart {
			failed[id] = struct{}{}
		}
		kept := result.Added[:0]
		for _, id := range result.Added {
			if _, ok := failed[id]; !ok {
				kept = append(kept, id)
			}
		}
		result.Added = kept
	}

	return result
}

func (rc *Reconciler) computeWant() map[string]wantedNode {
	want := make(map[string]wantedNode)
	for _, f := range rc.flows.AllEnabled() {
		for _, id := range f.EnabledNodeIDs() {
			node, ok := f.NodeByID(id)
			if !ok {
				continue
			}
			want[id] = wantedNode{flowName: f.Name, node: *node}
		}
	}
	return want
}

func (rc *Reconciler) stopAndDrop(id string) {
	if agent, ok := rc.instances.Get(id); ok {
		if err := agent.Stop(); err != nil {
			rc.log.Warn("reconcile: stop failed", zap.String("agent_id", id), zap.Error(err))
		}
	}
	rc.router.UnregisterAgentEverywhere(id)
	rc.instances.Delete(id)
}

func (rc *Reconciler) instantiate(id string, wn wantedNode) (instance.Agent, error) {
	def, ok := rc.registry.Get(wn.node.DefName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", definition.ErrUnknownKind, wn.node.DefName)
	}
	if def.Factory == nil {
		return nil, fmt.Errorf("definition %s has no factory", def.Name)
	}
	agent, err := def.Factory(id, def.Name, mergedConfigOf(wn.node))
	if err != nil {
		return nil, err
	}
	a, ok := agent.(instance.Agent)
	if !ok {
		return nil, fmt.Errorf("factory for %s did not return an instance.Agent", def.Name)
	}
	return a, nil
}

func mergedConfigOf(n flow.Node) map[string]value.Value {
	// Node.Config already carries the instance-level overrides; the
	// global layer is whatever the definition's Factory seeds into
	// BaseAgent (for Command definitions, the ConfigProvider override).
	// The definition's GlobalConfig entries are not merged here.
	// Reconcile only pushes the node's own config.
	out := make(map[string]value.Value, len(n.Config))
	for k, v := range n.Config {
		out[k] = v
	}
	return out
}

func (rc *Reconciler) rebuildEdges(want map[string]wantedNode) {
	var specs []router.EdgeSpec
	for _, f := range rc.flows.AllEnabled() {
		for _, e := range f.Edges {
			if _, ok := want[e.SourceID]; !ok {
				continue
			}
			if _, ok := want[e.TargetID]; !ok {
				continue
			}
			specs = append(specs, router.EdgeSpec{
				SourceID:     e.SourceID,
				SourceHandle: e.SourceHandle,
				TargetID:     e.TargetID,
				TargetHandle: e.TargetHandle,
			})
		}
	}
	rc.router.RebuildEdges(specs)
}
