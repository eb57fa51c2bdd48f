package env

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir: dir,
		Router:  config.RouterConfig{QueueCapacity: 64, ShutdownGraceMillis: 100},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "mnemnk.db"),
		},
	}
}

func TestNewWiresBuiltinsAndStartsEmpty(t *testing.T) {
	e, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(time.Second) })

	defs := e.registry.All()
	assert.NotEmpty(t, defs)
	for _, d := range defs {
		assert.NotNil(t, d.Factory, "definition %s has no factory after wiring", d.Name)
	}
}

func TestRunPerformsInitialReconcileAndStopsOnCancel(t *testing.T) {
	e, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(time.Second) })

	f := e.flows.New("demo")
	require.NoError(t, e.flows.Save(f))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestUnknownUIInputIsDroppedNotPanicked(t *testing.T) {
	e, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(time.Second) })

	assert.NotPanics(t, func() {
		e.handleUIInput("no-such-agent", "unit", value.Unit())
	})
}
