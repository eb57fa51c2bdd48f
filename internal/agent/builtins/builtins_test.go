package builtins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/reconcile"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOut struct {
	id, ch string
	data   value.Data
}

type fakeEmitter struct {
	mu   sync.Mutex
	outs []recordedOut
}

func (e *fakeEmitter) TryEmit(id, ch string, data value.Data) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outs = append(e.outs, recordedOut{id, ch, data})
	return nil
}
func (e *fakeEmitter) TryEmitBoardOut(boardName string, data value.Data) error { return nil }
func (e *fakeEmitter) EmitDisplay(id, key string, data value.Data)             {}
func (e *fakeEmitter) EmitError(id string, err error)                         {}

func (e *fakeEmitter) last() recordedOut {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outs[len(e.outs)-1]
}

func (e *fakeEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outs)
}

func TestIntegerInputEmitsOnSetConfigOnlyWhileRunning(t *testing.T) {
	em := &fakeEmitter{}
	def := integerInputDef(em)
	inst, err := def.Factory("n1", def.Name, map[string]value.Value{"integer": value.Integer(5)})
	require.NoError(t, err)
	agent := inst.(instance.Agent)

	// Before start, set_config must not emit.
	require.NoError(t, agent.SetConfig(map[string]value.Value{"integer": value.Integer(7)}))
	assert.Equal(t, 0, em.count())

	require.NoError(t, agent.Start())
	require.NoError(t, agent.SetConfig(map[string]value.Value{"integer": value.Integer(9)}))
	require.Equal(t, 1, em.count())
	out := em.last()
	assert.Equal(t, "n1", out.id)
	assert.Equal(t, "integer", out.ch)
	i, _ := out.data.Value.AsInt()
	assert.EqualValues(t, 9, i)
}

func TestTruthyAndFalsyPass(t *testing.T) {
	em := &fakeEmitter{}
	truthy, _ := truthyPassDef(em).Factory("t1", "$truthy_pass", nil)
	falsy, _ := falsyPassDef(em).Factory("f1", "$falsy_pass", nil)
	ta := truthy.(instance.Agent)
	fa := falsy.(instance.Agent)
	require.NoError(t, ta.Start())
	require.NoError(t, fa.Start())

	require.NoError(t, ta.Process(value.Context{Ch: "in"}, value.New("integer", value.Integer(1))))
	require.NoError(t, ta.Process(value.Context{Ch: "in"}, value.New("integer", value.Integer(0))))
	require.NoError(t, fa.Process(value.Context{Ch: "in"}, value.New("integer", value.Integer(1))))
	require.NoError(t, fa.Process(value.Context{Ch: "in"}, value.New("integer", value.Integer(0))))

	// The truthy input passed through $truthy_pass and the falsy input
	// passed through $falsy_pass; the other two calls were filtered out.
	assert.Equal(t, 2, em.count())
}

func TestRegexListPassAndBlock(t *testing.T) {
	em := &fakeEmitter{}
	def := passRegexListDef(em)
	inst, err := def.Factory("r1", def.Name, map[string]value.Value{
		"field":      value.String("name"),
		"regex_list": value.Text("foo.*\nbar"),
	})
	require.NoError(t, err)
	agent := inst.(instance.Agent)
	require.NoError(t, agent.Start())

	match := value.New("object", value.Object(map[string]value.Value{"name": value.String("foobaz")}))
	noMatch := value.New("object", value.Object(map[string]value.Value{"name": value.String("nope")}))

	require.NoError(t, agent.Process(value.Context{Ch: "in"}, match))
	require.NoError(t, agent.Process(value.Context{Ch: "in"}, noMatch))

	require.Equal(t, 1, em.count())
	name, _ := em.last().data.Value.AsObject()
	s, _ := name["name"].AsString()
	assert.Equal(t, "foobaz", s)
}

func TestStreamAgentStampsIncrementingMetadata(t *testing.T) {
	em := &fakeEmitter{}
	def := streamDef(em)
	inst, err := def.Factory("s1", def.Name, map[string]value.Value{"stream": value.String("cam")})
	require.NoError(t, err)
	agent := inst.(instance.Agent)
	require.NoError(t, agent.Start())

	require.NoError(t, agent.Process(value.Context{Ch: "data"}, value.New("string", value.String("a"))))
	require.NoError(t, agent.Process(value.Context{Ch: "data"}, value.New("string", value.String("b"))))

	require.Equal(t, 2, em.count())
	em.mu.Lock()
	first, second := em.outs[0].data, em.outs[1].data
	em.mu.Unlock()
	id1, ok := first.StreamID("cam")
	require.True(t, ok)
	id2, ok := second.StreamID("cam")
	require.True(t, ok)
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
}

func TestStreamZip2EmitsOnceBothInputsPresent(t *testing.T) {
	em := &fakeEmitter{}
	def := streamZipDef(em, 2)
	inst, err := def.Factory("z1", def.Name, map[string]value.Value{
		"key1": value.String("a"), "key2": value.String("b"),
	})
	require.NoError(t, err)
	agent := inst.(instance.Agent)
	require.NoError(t, agent.Start())

	require.NoError(t, agent.Process(value.Context{Ch: "in1"}, value.New("integer", value.Integer(1))))
	assert.Equal(t, 0, em.count())
	require.NoError(t, agent.Process(value.Context{Ch: "in2"}, value.New("integer", value.Integer(2))))
	require.Equal(t, 1, em.count())

	obj, ok := em.last().data.Value.AsObject()
	require.True(t, ok)
	a, _ := obj["a"].AsInt()
	b, _ := obj["b"].AsInt()
	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 2, b)
}

func TestStreamZip2ResetsOnNewStreamID(t *testing.T) {
	em := &fakeEmitter{}
	def := streamZipDef(em, 2)
	inst, err := def.Factory("z1", def.Name, map[string]value.Value{
		"key1": value.String("a"), "key2": value.String("b"), "stream": value.String("s"),
	})
	require.NoError(t, err)
	agent := inst.(instance.Agent)
	require.NoError(t, agent.Start())

	in1 := value.New("integer", value.Integer(1)).WithMetadata(value.StreamMetadataKey("s"), value.Integer(100))
	require.NoError(t, agent.Process(value.Context{Ch: "in1"}, in1))

	// A new stream id arrives before in2 completes the pair; the stale
	// in1 value must be discarded (spec's "earlier partial states are
	// discarded when a new id arrives").
	in1Next := value.New("integer", value.Integer(9)).WithMetadata(value.StreamMetadataKey("s"), value.Integer(101))
	require.NoError(t, agent.Process(value.Context{Ch: "in1"}, in1Next))

	in2 := value.New("integer", value.Integer(2)).WithMetadata(value.StreamMetadataKey("s"), value.Integer(101))
	require.NoError(t, agent.Process(value.Context{Ch: "in2"}, in2))

	require.Equal(t, 1, em.count())
	obj, _ := em.last().data.Value.AsObject()
	a, _ := obj["a"].AsInt()
	assert.EqualValues(t, 9, a)
}

func runRouterUntil(t *testing.T, r *router.Router, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestBoardOutReemitsOnBoardWrite(t *testing.T) {
	instances := reconcile.NewMap()
	r := router.New(router.Config{}, instances, nil, nil, nil, nil)

	// A $truthy_pass wired downstream of the $board_out node records what
	// the board write re-emits over out1's edges.
	em := &fakeEmitter{}
	downInst, err := truthyPassDef(em).Factory("down1", "$truthy_pass", nil)
	require.NoError(t, err)
	down := downInst.(instance.Agent)
	require.NoError(t, down.Start())
	instances.Set("down1", down)
	r.RebuildEdges([]router.EdgeSpec{{SourceID: "out1", TargetID: "down1"}})

	outDef := boardOutDef(r, r)
	inst, err := outDef.Factory("out1", outDef.Name, map[string]value.Value{configBoardName: value.String("cam")})
	require.NoError(t, err)
	outAgent := inst.(instance.Agent)
	require.NoError(t, outAgent.Start())

	require.NoError(t, r.TryEmitBoardOut("cam", value.New("string", value.String("hello"))))

	runRouterUntil(t, r, func() bool {
		d, ok := r.BoardData("cam")
		return ok && d.Value.Kind() == value.KindString && em.count() == 1
	})
	assert.Equal(t, "cam", em.last().ch)
}

func TestBoardInWritesBoardFromWildcardSource(t *testing.T) {
	r := router.New(router.Config{}, nil, nil, nil, nil, nil)

	inDef := boardInDef(r, r)
	inst, err := inDef.Factory("in1", inDef.Name, map[string]value.Value{configBoardName: value.String("*")})
	require.NoError(t, err)
	inAgent := inst.(instance.Agent)
	require.NoError(t, inAgent.Start())

	require.NoError(t, inAgent.Process(value.Context{Ch: "camera"}, value.New("string", value.String("frame"))))

	runRouterUntil(t, r, func() bool {
		_, ok := r.BoardData("camera")
		return ok
	})
}
