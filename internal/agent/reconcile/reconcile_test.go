package reconcile

import (
	"errors"
	"testing"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/flow"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a minimal instance.Agent for reconcile-level tests: it
// doesn't talk to a real router, it just records lifecycle calls.
type fakeAgent struct {
	id        string
	defName   string
	started   bool
	stopped   bool
	config    map[string]value.Value
	failStart bool
}

func (a *fakeAgent) ID() string          { return a.id }
func (a *fakeAgent) DefName() string     { return a.defName }
func (a *fakeAgent) Status() instance.Status {
	if a.started {
		return instance.StatusRun
	}
	return instance.StatusInit
}
func (a *fakeAgent) Start() error {
	if a.failStart {
		return errors.New("boom")
	}
	a.started = true
	return nil
}
func (a *fakeAgent) Stop() error {
	a.stopped = true
	a.started = false
	return nil
}
func (a *fakeAgent) SetConfig(config map[string]value.Value) error {
	a.config = config
	return nil
}
func (a *fakeAgent) Process(actx value.Context, data value.Data) error { return nil }

func newTestReconciler(t *testing.T, failIDs map[string]bool) (*Reconciler, *Map, *flow.Store, *definition.Registry) {
	t.Helper()
	reg := definition.NewRegistry(nil)
	require.NoError(t, reg.Register(&definition.Definition{
		Name: "passthrough",
		Kind: definition.KindBuiltin,
		Factory: func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
			return &fakeAgent{id: id, defName: defName, config: config, failStart: failIDs[id]}, nil
		},
	}))

	dir := t.TempDir()
	store := flow.NewStore(dir, nil)
	r := router.New(router.Config{}, nil, nil, nil, nil, nil)
	instances := NewMap()
	rc := New(reg, store, r, instances, nil)
	return rc, instances, store, reg
}

func TestSyncAddsAndStartsInstances(t *testing.T) {
	rc, instances, store, _ := newTestReconciler(t, nil)

	f := store.New("main")
	f.Nodes = append(f.Nodes,
		flow.Node{ID: "n1", DefName: "passthrough", Enabled: true},
		flow.Node{ID: "n2", DefName: "passthrough", Enabled: true},
	)
	f.Edges = append(f.Edges, flow.Edge{ID: "e1", SourceID: "n1", TargetID: "n2"})
	require.NoError(t, store.Save(f))

	result := rc.Sync()
	assert.ElementsMatch(t, []string{"n1", "n2"}, result.Added)
	assert.Empty(t, result.FailedToStart)

	a1, ok := instances.Get("n1")
	require.True(t, ok)
	assert.True(t, a1.(*fakeAgent).started)
}

func TestSyncRemovesInstancesForDisabledNodes(t *testing.T) {
	rc, instances, store, _ := newTestReconciler(t, nil)

	f := store.New("main")
	f.Nodes = append(f.Nodes, flow.Node{ID: "n1", DefName: "passthrough", Enabled: true})
	require.NoError(t, store.Save(f))
	rc.Sync()

	f2, err := store.Get("main")
	require.NoError(t, err)
	f2.Nodes[0].Enabled = false
	require.NoError(t, store.Save(f2))

	result := rc.Sync()
	assert.Equal(t, []string{"n1"}, result.Removed)
	_, ok := instances.Get("n1")
	assert.False(t, ok)
}

func TestSyncPushesConfigToKeptInstances(t *testing.T) {
	rc, instances, store, _ := newTestReconciler(t, nil)

	f := store.New("main")
	f.Nodes = append(f.Nodes, flow.Node{ID: "n1", DefName: "passthrough", Enabled: true,
		Config: map[string]value.Value{"x": value.Integer(1)}})
	require.NoError(t, store.Save(f))
	rc.Sync()

	f2, err := store.Get("main")
	require.NoError(t, err)
	f2.Nodes[0].Config = map[string]value.Value{"x": value.Integer(2)}
	require.NoError(t, store.Save(f2))

	result := rc.Sync()
	assert.Equal(t, []string{"n1"}, result.Kept)

	a, ok := instances.Get("n1")
	require.True(t, ok)
	i, _ := a.(*fakeAgent).config["x"].AsInt()
	assert.EqualValues(t, 2, i)
}

func TestSyncDropsInstanceOnStartFailureWithoutRetry(t *testing.T) {
	rc, instances, store, _ := newTestReconciler(t, map[string]bool{"n1": true})

	f := store.New("main")
	f.Nodes = append(f.Nodes, flow.Node{ID: "n1", DefName: "passthrough", Enabled: true})
	require.NoError(t, store.Save(f))

	result := rc.Sync()
	assert.Equal(t, []string{"n1"}, result.FailedToStart)
	assert.Empty(t, result.Added)
	_, ok := instances.Get("n1")
	assert.False(t, ok)

	// A second sync over the same (still-failing) want set should attempt
	// to add it again, not silently skip it forever — reconcile has no
	// memory of past failures across calls.
	result2 := rc.Sync()
	assert.Equal(t, []string{"n1"}, result2.FailedToStart)
}

func TestSyncSkipsUnknownDefinition(t *testing.T) {
	rc, instances, store, _ := newTestReconciler(t, nil)

	f := store.New("main")
	f.Nodes = append(f.Nodes, flow.Node{ID: "n1", DefName: "does-not-exist", Enabled: true})
	require.NoError(t, store.Save(f))

	result := rc.Sync()
	assert.Equal(t, []string{"n1"}, result.FailedToStart)
	_, ok := instances.Get("n1")
	assert.False(t, ok)
}
