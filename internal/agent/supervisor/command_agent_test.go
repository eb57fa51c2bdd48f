package supervisor

import (
	"context"
	"testing"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommandDef(t *testing.T) *definition.Definition {
	t.Helper()
	return &definition.Definition{
		Name: "$test_command",
		Kind: definition.KindCommand,
		Command: &definition.Command{
			Cmd: "/bin/fake",
		},
	}
}

func TestCommandFactoryStartWritesConfigAndStop(t *testing.T) {
	pc := newPipeChild()
	em := &fakeEmitter{}
	sup := New(em, nil, func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		return pc, nil
	}, nil)

	factory, err := NewCommandFactory(sup, testCommandDef(t), map[string]value.Value{"global": value.Integer(1)}, em)
	require.NoError(t, err)

	inst, err := factory("agent1", "$test_command", map[string]value.Value{"local": value.Integer(2)})
	require.NoError(t, err)
	agent := inst.(instance.Agent)

	require.NoError(t, agent.Start())
	assert.Equal(t, instance.StatusRun, agent.Status())

	require.NoError(t, agent.Process(value.Context{Ch: "in"}, value.New("integer", value.Integer(5))))
	line := pc.readStdinLine(t)
	assert.Contains(t, line, `.IN `)

	require.NoError(t, agent.SetConfig(map[string]value.Value{"local": value.Integer(3)}))
	cfgLine := pc.readStdinLine(t)
	assert.Contains(t, cfgLine, ".CONFIG ")
	assert.Contains(t, cfgLine, `"local":3`)
	assert.Contains(t, cfgLine, `"global":1`)

	require.NoError(t, agent.Stop())
	quitLine := pc.readStdinLine(t)
	assert.Equal(t, ".QUIT\n", quitLine)
	assert.Equal(t, instance.StatusInit, agent.Status())
	pc.markExited()
}

func TestCommandFactoryRejectsDefinitionWithoutCommand(t *testing.T) {
	sup := New(&fakeEmitter{}, nil, nil, nil)
	_, err := NewCommandFactory(sup, &definition.Definition{Name: "$no_command", Kind: definition.KindCommand}, nil, nil)
	assert.Error(t, err)
}
