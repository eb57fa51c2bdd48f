package boardbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/config"
)

func TestNewWithEmptyURLDisablesMirror(t *testing.T) {
	m, err := New(config.NATSConfig{}, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.PublishBoard("demo", value.New("text", value.String("hello")))
	})
	assert.NotPanics(t, m.Close)
}

func TestSubjectNamespacing(t *testing.T) {
	bare, err := New(config.NATSConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mnemnk.board.demo", bare.subject("demo"))

	namespaced, err := New(config.NATSConfig{Namespace: "tenant1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tenant1.board.demo", namespaced.subject("demo"))
}

func TestNewWithUnreachableURLReturnsError(t *testing.T) {
	_, err := New(config.NATSConfig{URL: "nats://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
