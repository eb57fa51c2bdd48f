package ymlsettings

import (
	"path/filepath"
	"testing"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	_, ok := p.GetAgentGlobalConfig("$truthy_pass")
	assert.False(t, ok)
}

func TestSaveThenOpenRoundTripsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	p, err := Open(path)
	require.NoError(t, err)

	err = p.Save(map[string]map[string]value.Value{
		"$integer_input": {
			"integer": value.Integer(42),
			"title":   value.String("counter"),
		},
	})
	require.NoError(t, err)

	cfg, ok := p.GetAgentGlobalConfig("$integer_input")
	require.True(t, ok)
	i, _ := cfg["integer"].AsInt()
	assert.EqualValues(t, 42, i)

	reopened, err := Open(path)
	require.NoError(t, err)
	cfg2, ok := reopened.GetAgentGlobalConfig("$integer_input")
	require.True(t, ok)
	s, _ := cfg2["title"].AsString()
	assert.Equal(t, "counter", s)
}

func TestGetAgentGlobalConfigUnknownDefName(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	require.NoError(t, p.Save(map[string]map[string]value.Value{
		"$truthy_pass": {},
	}))

	_, ok := p.GetAgentGlobalConfig("$unknown")
	assert.False(t, ok)
}
