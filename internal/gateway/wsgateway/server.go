package wsgateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/flow"
	"github.com/mnemnk/runtime/internal/agent/reconcile"
	"github.com/mnemnk/runtime/internal/common/logger"
	"github.com/mnemnk/runtime/internal/eventsink"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the UI Gateway's gin HTTP API plus websocket upgrade endpoint.
// It holds no state of its own beyond its collaborators: the Flow Store,
// Definition Registry, Reconciler, optional EventSink, and the Hub that
// carries the UI event surface.
type Server struct {
	flows      *flow.Store
	registry   *definition.Registry
	reconciler *reconcile.Reconciler
	sink       eventsink.Sink
	hub        *Hub
	log        *logger.Logger
	engine     *gin.Engine
}

// NewServer wires up the gin engine and route table. sink may be nil, in
// which case the event history endpoints return 404.
func NewServer(flows *flow.Store, registry *definition.Registry, reconciler *reconcile.Reconciler, sink eventsink.Sink, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		flows:      flows,
		registry:   registry,
		reconciler: reconciler,
		sink:       sink,
		hub:        hub,
		log:        log.With(zap.String("component", "ui_gateway")),
	}
	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the http.Handler to mount, e.g. under an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	s.engine.GET("/definitions", s.listDefinitions)

	flows := s.engine.Group("/flows")
	{
		flows.GET("", s.listFlows)
		flows.POST("", s.createFlow)
		flows.GET("/:name", s.getFlow)
		flows.POST("/:name/rename", s.renameFlow)
		flows.POST("/:name/nodes", s.addNode)
		flows.DELETE("/:name/nodes/:nodeId", s.deleteNode)
		flows.POST("/:name/edges", s.addEdge)
		flows.DELETE("/:name/edges/:edgeId", s.deleteEdge)
	}

	s.engine.POST("/reconcile", s.syncReconcile)

	agents := s.engine.Group("/agents")
	{
		agents.POST("/:id/start", s.setAgentEnabled(true))
		agents.POST("/:id/stop", s.setAgentEnabled(false))
	}

	events := s.engine.Group("/events")
	{
		events.GET("/:year/:month/:day", s.queryEventsByDay)
		events.GET("/index/:year", s.indexYear)
		events.GET("/search", s.searchEvents)
		events.GET("/image/:kind/*imageId", s.resolveEventImage)
	}

	s.engine.GET("/stream", s.streamAll)
}

// definitionView is the JSON-safe projection of a definition.Definition —
// Definition carries a Factory func field, which encoding/json cannot
// marshal.
type definitionView struct {
	Name          string                            `json:"name"`
	Kind          definition.Kind                   `json:"kind"`
	Title         string                            `json:"title"`
	Category      string                            `json:"category"`
	Description   string                            `json:"description"`
	Inputs        []string                          `json:"inputs,omitempty"`
	Outputs       []string                          `json:"outputs,omitempty"`
	DefaultConfig map[string]definition.ConfigEntry  `json:"default_config,omitempty"`
	GlobalConfig  map[string]definition.ConfigEntry  `json:"global_config,omitempty"`
	DisplayConfig map[string]definition.DisplayEntry `json:"display_config,omitempty"`
}

// listDefinitions returns every registered agent definition, for the flow
// editor's node palette.
func (s *Server) listDefinitions(c *gin.Context) {
	defs := s.registry.All()
	views := make([]definitionView, 0, len(defs))
	for _, d := range defs {
		views = append(views, definitionView{
			Name:          d.Name,
			Kind:          d.Kind,
			Title:         d.Title,
			Category:      d.Category,
			Description:   d.Description,
			Inputs:        d.Inputs,
			Outputs:       d.Outputs,
			DefaultConfig: d.DefaultConfig,
			GlobalConfig:  d.GlobalConfig,
			DisplayConfig: d.DisplayConfig,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) listFlows(c *gin.Context) {
	c.JSON(http.StatusOK, s.flows.List())
}

type createFlowRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) createFlow(c *gin.Context) {
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f := s.flows.New(req.Name)
	if err := s.flows.Save(f); err != nil {
		s.log.Error("create flow: save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) getFlow(c *gin.Context) {
	f, err := s.flows.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, f)
}

type renameFlowRequest struct {
	NewName string `json:"new_name" binding:"required"`
}

func (s *Server) renameFlow(c *gin.Context) {
	var req renameFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := s.flows.Rename(c.Param("name"), req.NewName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.flows.Save(f); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) addNode(c *gin.Context) {
	var node flow.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	name := c.Param("name")
	if err := s.flows.AddNode(name, node); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.saveByName(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (s *Server) deleteNode(c *gin.Context) {
	name := c.Param("name")
	if err := s.flows.DeleteNode(name, c.Param("nodeId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.saveByName(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addEdge(c *gin.Context) {
	var edge flow.Edge
	if err := c.ShouldBindJSON(&edge); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	name := c.Param("name")
	if err := s.flows.AddEdge(name, edge); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.saveByName(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, edge)
}

func (s *Server) deleteEdge(c *gin.Context) {
	name := c.Param("name")
	if err := s.flows.DeleteEdge(name, c.Param("edgeId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.saveByName(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// saveByName persists the flow named name in whatever state it is in,
// keeping the node/edge mutation endpoints durable across restarts.
func (s *Server) saveByName(name string) error {
	f, err := s.flows.Get(name)
	if err != nil {
		return err
	}
	return s.flows.Save(f)
}

// syncReconcile triggers one reconciliation pass immediately; useful for an
// explicit "apply" button in the UI. The flow, node and edge endpoints only
// save, so their changes reach the live instances on the next pass (this
// endpoint, an agent start/stop call, or process startup).
func (s *Server) syncReconcile(c *gin.Context) {
	result := s.reconciler.Sync()
	c.JSON(http.StatusOK, result)
}

// setAgentEnabled flips a node's Enabled bit in its owning flow, saves it,
// and runs a reconcile pass, which starts or stops the node's instance.
func (s *Server) setAgentEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID := c.Param("id")
		flowName := c.Query("flow")
		if flowName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "flow query parameter is required"})
			return
		}
		f, err := s.flows.Get(flowName)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		node, ok := f.NodeByID(nodeID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		node.Enabled = enabled
		for i := range f.Nodes {
			if f.Nodes[i].ID == nodeID {
				f.Nodes[i].Enabled = enabled
			}
		}
		if err := s.flows.Save(f); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		result := s.reconciler.Sync()
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) queryEventsByDay(c *gin.Context) {
	if s.sink == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event sink not configured"})
		return
	}
	year, month, day, err := parseYMD(c.Param("year"), c.Param("month"), c.Param("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.sink.QueryByDay(year, month, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) indexYear(c *gin.Context) {
	if s.sink == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event sink not configured"})
		return
	}
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	counts, err := s.sink.IndexYear(year)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) searchEvents(c *gin.Context) {
	if s.sink == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event sink not configured"})
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})
		return
	}
	records, err := s.sink.Search(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) resolveEventImage(c *gin.Context) {
	if s.sink == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event sink not configured"})
		return
	}
	imageID := c.Param("imageId")
	if len(imageID) > 0 && imageID[0] == '/' {
		imageID = imageID[1:]
	}
	data, err := s.sink.ResolveImage(c.Param("kind"), imageID)
	if err != nil {
		if err == eventsink.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// streamAll upgrades the connection and registers it with the Hub, mirrored
// on the teacher's StreamAll handler but with no per-task subscription
// step: every client receives the whole UI event surface.
func (s *Server) streamAll(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	clientID := uuid.New().String()
	client := NewClient(clientID, conn, s.hub, s.log)
	s.hub.Register(client)
	s.log.Info("ui client connected", zap.String("client_id", clientID))

	go client.WritePump()
	go client.ReadPump()
}

func parseYMD(yearS, monthS, dayS string) (int, int, int, error) {
	year, err := strconv.Atoi(yearS)
	if err != nil {
		return 0, 0, 0, errInvalidDate
	}
	month, err := strconv.Atoi(monthS)
	if err != nil {
		return 0, 0, 0, errInvalidDate
	}
	day, err := strconv.Atoi(dayS)
	if err != nil {
		return 0, 0, 0, errInvalidDate
	}
	return year, month, day, nil
}

var errInvalidDate = errors.New("wsgateway: invalid date")
