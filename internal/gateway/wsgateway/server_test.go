package wsgateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemnk/runtime/internal/agent/builtins"
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/flow"
	"github.com/mnemnk/runtime/internal/agent/reconcile"
	"github.com/mnemnk/runtime/internal/agent/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	flows := flow.NewStore(t.TempDir(), nil)
	require.NoError(t, flows.Load())

	reg := definition.NewRegistry(nil)
	rtr := router.New(router.Config{}, nil, nil, nil, nil, nil)
	require.NoError(t, builtins.RegisterAll(reg, rtr, rtr))

	instances := reconcile.NewMap()
	rc := reconcile.New(reg, flows, rtr, instances, nil)

	hub := NewHub(nil)
	return NewServer(flows, reg, rc, nil, hub, nil)
}

func TestListDefinitionsReturnsBuiltins(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/definitions", nil)
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []definitionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.NotEmpty(t, views)
}

func TestFlowCRUDRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"name":"demo"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/flows", body)
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created flow.Flow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "demo", created.Name)

	nodeBody := strings.NewReader(`{"id":"n1","def_name":"$truthy_pass","enabled":true}`)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/flows/demo/nodes", nodeBody)
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/flows/demo", nil)
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched flow.Flow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	require.Len(t, fetched.Nodes, 1)
	assert.Equal(t, "n1", fetched.Nodes[0].ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/flows/demo/nodes/n1", nil)
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSetAgentEnabledRequiresFlowParam(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agents/n1/start", nil)
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventEndpointsNotFoundWithoutSink(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events/2026/03/05", nil)
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFlowPersistedToDisk(t *testing.T) {
	dir := t.TempDir()
	flows := flow.NewStore(dir, nil)
	require.NoError(t, flows.Load())
	reg := definition.NewRegistry(nil)
	rtr := router.New(router.Config{}, nil, nil, nil, nil, nil)
	require.NoError(t, builtins.RegisterAll(reg, rtr, rtr))
	rc := reconcile.New(reg, flows, rtr, reconcile.NewMap(), nil)
	s := NewServer(flows, reg, rc, nil, NewHub(nil), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(`{"name":"persisted"}`))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	reopened := flow.NewStore(dir, nil)
	require.NoError(t, reopened.Load())
	assert.Contains(t, reopened.List(), "persisted")
}
