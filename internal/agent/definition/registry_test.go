package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInstance struct{}

func (stubInstance) Start() error { return nil }
func (stubInstance) Stop() error  { return nil }

func stubFactory(id, defName string, config map[string]value.Value) (Instance, error) {
	return stubInstance{}, nil
}

func TestRegisterRejectsInvalidDefinition(t *testing.T) {
	r := NewRegistry(nil)
	require.Error(t, r.Register(&Definition{}))
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	def := &Definition{Name: "$display", Kind: KindBuiltin, Factory: stubFactory}
	require.NoError(t, r.Register(def))
	require.ErrorIs(t, r.Register(def), ErrAlreadyExists)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	def := &Definition{Name: "$display", Kind: KindBuiltin, Factory: stubFactory}
	require.NoError(t, r.Register(def))

	got, ok := r.Get("$display")
	require.True(t, ok)
	assert.Equal(t, "$display", got.Name)

	_, ok = r.Get("$missing")
	assert.False(t, ok)
}

func TestScanDirSkipsInvalidManifestButKeepsValid(t *testing.T) {
	root := t.TempDir()
	goodDir := filepath.Join(root, "agents", "echo")
	require.NoError(t, os.MkdirAll(goodDir, 0755))

	script := filepath.Join(goodDir, "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0755))

	manifestJSON := `{"agents":[{"kind":"Command","name":"echo","command":{"cmd":"./echo.sh"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(goodDir, "mnemnk.json"), []byte(manifestJSON), 0644))

	badDir := filepath.Join(root, "agents", "broken")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "mnemnk.json"), []byte(`not json`), 0644))

	r := NewRegistry(nil)
	require.NoError(t, r.ScanDir(root))

	def, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, KindCommand, def.Kind)

	_, ok = r.Get("broken")
	assert.False(t, ok)
}

func TestScanDirMissingAgentsDirIsNotAnError(t *testing.T) {
	r := NewRegistry(nil)
	assert.NoError(t, r.ScanDir(t.TempDir()))
}

func TestScanDirDecodesConfigAndDisplaySchemas(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "agents", "greeter")
	require.NoError(t, os.MkdirAll(dir, 0755))

	script := filepath.Join(dir, "greeter.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0755))

	manifestJSON := `{"agents":[{
		"kind":"Command","name":"greeter","command":{"cmd":"./greeter.sh"},
		"default_config":[["greeting",{"type":"string","default":"hello"}]],
		"global_config":[["rate_limit",{"type":"integer","default":5}]],
		"display_config":[["last_message",{"type":"string"}]]
	}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mnemnk.json"), []byte(manifestJSON), 0644))

	r := NewRegistry(nil)
	require.NoError(t, r.ScanDir(root))

	def, ok := r.Get("greeter")
	require.True(t, ok)

	require.Contains(t, def.DefaultConfig, "greeting")
	greeting, ok := def.DefaultConfig["greeting"].Default.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", greeting)

	require.Contains(t, def.GlobalConfig, "rate_limit")
	rateLimit, ok := def.GlobalConfig["rate_limit"].Default.AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 5, rateLimit)

	require.Contains(t, def.DisplayConfig, "last_message")
	assert.Equal(t, "string", def.DisplayConfig["last_message"].Type)
}

func TestScanDirRejectsMalformedConfigPair(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "agents", "broken_config")
	require.NoError(t, os.MkdirAll(dir, 0755))
	script := filepath.Join(dir, "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0755))

	manifestJSON := `{"agents":[{
		"kind":"Command","name":"broken_config","command":{"cmd":"./echo.sh"},
		"default_config":[[123,{"type":"string","default":"hello"}]]
	}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mnemnk.json"), []byte(manifestJSON), 0644))

	r := NewRegistry(nil)
	require.NoError(t, r.ScanDir(root))

	_, ok := r.Get("broken_config")
	assert.False(t, ok)
}
