package sqliteeventsink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "events.db"), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndQueryByDay(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Store("agent-1", "note", value.String("hello")))
	require.NoError(t, s.Store("agent-1", "note", value.Integer(7)))

	now := time.Now().UTC()
	rows, err := s.QueryByDay(now.Year(), int(now.Month()), now.Day())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "agent-1", rows[0].AgentID)
	assert.Equal(t, "note", rows[0].Kind)
}

func TestIndexYearCountsByDay(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store("agent-1", "note", value.String("a")))
	require.NoError(t, s.Store("agent-1", "note", value.String("b")))

	now := time.Now().UTC()
	counts, err := s.IndexYear(now.Year())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Count)
}

func TestSearchMatchesValueAndKind(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store("agent-1", "note", value.String("find me please")))
	require.NoError(t, s.Store("agent-1", "other", value.String("nothing interesting")))

	rows, err := s.Search("find me")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Value, "find me")
}

func TestResolveImageNotFoundWhenNoSidecar(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveImage("camera", "20260101/120000")
	assert.Error(t, err)
}
