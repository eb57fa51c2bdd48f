// Package env is the composition root: it wires the Definition Registry,
// Flow Store, Router, Reconciler, Supervisor(s), ConfigProvider, EventSink,
// board bus mirror, and UI Gateway into one running system, and owns
// startup/shutdown ordering. Grounded in the teacher's cmd/kandev/main.go
// wiring style (construct every collaborator, start background loops,
// shut down on context cancellation), generalized from a single-purpose
// orchestrator binary into a package cmd/mnemnkd can call into.
package env

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	dockerclient "github.com/docker/docker/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemnk/runtime/internal/agent/builtins"
	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/flow"
	"github.com/mnemnk/runtime/internal/agent/reconcile"
	"github.com/mnemnk/runtime/internal/agent/router"
	"github.com/mnemnk/runtime/internal/agent/supervisor"
	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/boardbus"
	"github.com/mnemnk/runtime/internal/common/config"
	"github.com/mnemnk/runtime/internal/common/logger"
	"github.com/mnemnk/runtime/internal/configprovider"
	"github.com/mnemnk/runtime/internal/configprovider/ymlsettings"
	"github.com/mnemnk/runtime/internal/eventsink"
	"github.com/mnemnk/runtime/internal/eventsink/pgeventsink"
	"github.com/mnemnk/runtime/internal/eventsink/sqliteeventsink"
	"github.com/mnemnk/runtime/internal/gateway/wsgateway"
)

// backendKey identifies one Supervisor: the local host-exec supervisor, or
// one per distinct Docker (image, network) pair a Command manifest names.
// A single Supervisor's Spawner is fixed at construction (supervisor.New
// bakes in one exec/Docker backend for every child it manages), so a
// process that mixes local and several container images needs one
// Supervisor per backend rather than one shared instance.
type backendKey struct {
	image   string
	network string
}

// Environment is the fully-wired runtime: every collaborator named in
// SPEC_FULL.md plus the goroutines (router dispatch, hub broadcast) and
// shutdown sequencing that ties them together.
type Environment struct {
	cfg *config.Config
	log *logger.Logger

	sink         eventsink.Sink
	configStore  configprovider.Provider
	mirror       *boardbus.Mirror
	hub          *wsgateway.Hub
	instances    *reconcile.Map
	rtr          *router.Router
	registry     *definition.Registry
	flows        *flow.Store
	reconciler   *reconcile.Reconciler
	server       *wsgateway.Server
	dockerClient *dockerclient.Client
	supervisors  map[backendKey]*supervisor.Supervisor
}

// New constructs every collaborator but starts nothing; call Run to begin
// serving traffic and block until ctx is cancelled.
func New(cfg *config.Config, log *logger.Logger) (*Environment, error) {
	if log == nil {
		log = logger.Default()
	}

	sink, err := openEventSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("env: open event sink: %w", err)
	}

	configStore, err := ymlsettings.Open(filepath.Join(cfg.DataDir, "settings.yaml"))
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("env: open config provider: %w", err)
	}

	mirror, err := boardbus.New(cfg.NATS, log)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("env: connect board bus: %w", err)
	}

	hub := wsgateway.NewHub(log)
	instances := reconcile.NewMap()
	rtr := router.New(router.Config{QueueCapacity: cfg.Router.QueueCapacity}, instances, sink, hub, mirror, log)

	e := &Environment{
		cfg:         cfg,
		log:         log,
		sink:        sink,
		configStore: configStore,
		mirror:      mirror,
		hub:         hub,
		instances:   instances,
		rtr:         rtr,
		supervisors: make(map[backendKey]*supervisor.Supervisor),
	}

	if cfg.Docker.Enabled {
		cli, err := dockerclient.NewClientWithOpts(
			dockerclient.WithHost(cfg.Docker.Host),
			dockerclient.WithAPIVersionNegotiation(),
		)
		if err != nil {
			return nil, fmt.Errorf("env: create docker client: %w", err)
		}
		e.dockerClient = cli
	}

	reg := definition.NewRegistry(log)
	if err := builtins.RegisterAll(reg, rtr, rtr); err != nil {
		return nil, fmt.Errorf("env: register builtins: %w", err)
	}
	if err := reg.ScanDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("env: scan agent manifests: %w", err)
	}
	e.applyConfigOverrides(reg)
	if err := e.wireCommandFactories(reg); err != nil {
		return nil, fmt.Errorf("env: wire command factories: %w", err)
	}
	e.registry = reg

	flows := flow.NewStore(cfg.DataDir, log)
	if err := flows.Load(); err != nil {
		return nil, fmt.Errorf("env: load flows: %w", err)
	}
	e.flows = flows

	e.reconciler = reconcile.New(reg, flows, rtr, instances, log)
	e.server = wsgateway.NewServer(flows, reg, e.reconciler, sink, hub, log)
	hub.SetInputFunc(e.handleUIInput)

	return e, nil
}

func openEventSink(cfg *config.Config) (eventsink.Sink, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return pgeventsink.Open(cfg.Database.DSN(), cfg.DataDir, 25, 5)
	default:
		return sqliteeventsink.Open(cfg.Database.Path, cfg.DataDir)
	}
}

// applyConfigOverrides wraps every already-registered Factory (built-in
// definitions always have one; Command definitions do not yet, and are
// skipped here to be assigned by wireCommandFactories) so the persisted
// ConfigProvider override for that definition name sits between the
// definition's own schema defaults and the flow node's per-instance
// config, matching spec.md §6's global_config ⊕ instance_config precedence
// with the provider's value now the effective global_config layer.
func (e *Environment) applyConfigOverrides(reg *definition.Registry) {
	for _, def := range reg.All() {
		if def.Factory == nil {
			continue
		}
		orig := def.Factory
		name := def.Name
		def.Factory = func(id, defName string, nodeConfig map[string]value.Value) (definition.Instance, error) {
			override, ok := e.configStore.GetAgentGlobalConfig(name)
			if !ok {
				return orig(id, defName, nodeConfig)
			}
			return orig(id, defName, mergeConfig(override, nodeConfig))
		}
	}
}

// wireCommandFactories assigns a Factory to every Command-kind definition
// registry.ScanDir loaded with none (entryToDefinition never sets one —
// Definition.Validate only requires a Factory for non-Command kinds, since
// a manifest cannot describe Go code to run). Each is served by a
// supervisor.Supervisor selected by backend: one shared "local" Supervisor
// for definitions with no command.container, and one lazily-created
// Supervisor per distinct (image, network) pair otherwise, since a single
// Supervisor's Spawner cannot serve two different Docker images.
func (e *Environment) wireCommandFactories(reg *definition.Registry) error {
	for _, def := range reg.All() {
		if def.Kind != definition.KindCommand || def.Factory != nil {
			continue
		}
		sup, err := e.supervisorFor(def)
		if err != nil {
			return fmt.Errorf("definition %s: %w", def.Name, err)
		}
		override, _ := e.configStore.GetAgentGlobalConfig(def.Name)
		factory, err := supervisor.NewCommandFactory(sup, def, override, e.rtr)
		if err != nil {
			return fmt.Errorf("definition %s: %w", def.Name, err)
		}
		def.Factory = factory
	}
	return nil
}

func (e *Environment) supervisorFor(def *definition.Definition) (*supervisor.Supervisor, error) {
	key := backendKey{}
	if def.Command.Container != nil {
		key = backendKey{image: def.Command.Container.Image, network: def.Command.Container.Network}
	}
	if sup, ok := e.supervisors[key]; ok {
		return sup, nil
	}

	var spawn supervisor.Spawner
	if key != (backendKey{}) {
		if e.dockerClient == nil {
			return nil, fmt.Errorf("command %s requires docker, but docker is disabled", def.Name)
		}
		spawn = supervisor.NewDockerSpawner(e.dockerClient, key.image, key.network)
	}
	sup := supervisor.New(e.rtr, e.log, spawn, e.handleChildExit)
	e.supervisors[key] = sup
	return sup, nil
}

// handleChildExit reverts the owning agent's status to Init when its child
// process exits on its own (not via Quit), per spec.md §4.5 — realized by
// simply calling the agent's own Stop, whose RunStop contract settles at
// Init even though the underlying Quit write will fail against an already
// exited child.
func (e *Environment) handleChildExit(id string, err error) {
	if err != nil {
		e.rtr.EmitError(id, err)
	}
	agent, ok := e.instances.Get(id)
	if !ok {
		return
	}
	if err := agent.Stop(); err != nil {
		e.log.Warn("env: stop after child exit failed", zap.String("agent_id", id), zap.Error(err))
	}
}

// handleUIInput is wired to the Hub's InputFunc: a UI client's "input"
// frame reaches the named agent's Process method directly, bypassing the
// router's edge index since UI input has no source node of its own.
func (e *Environment) handleUIInput(agentID, channel string, v value.Value) {
	agent, ok := e.instances.Get(agentID)
	if !ok {
		e.log.Debug("env: input for unknown agent dropped", zap.String("agent_id", agentID))
		return
	}
	if err := agent.Process(value.Context{Ch: channel}, value.New(channel, v)); err != nil {
		e.rtr.EmitError(agentID, err)
	}
}

func mergeConfig(base, overlay map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Server returns the UI Gateway's http.Handler-bearing wrapper, for
// cmd/mnemnkd to mount under an http.Server.
func (e *Environment) Server() *wsgateway.Server { return e.server }

// Run performs the initial reconciliation pass, starts the router dispatch
// loop and hub broadcast loop, and blocks until ctx is cancelled.
func (e *Environment) Run(ctx context.Context) {
	result := e.reconciler.Sync()
	e.log.Info("initial reconcile complete",
		zap.Int("added", len(result.Added)),
		zap.Int("failed", len(result.FailedToStart)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.rtr.Run(gctx); return nil })
	g.Go(func() error { e.hub.Run(gctx); return nil })

	<-ctx.Done()
	_ = g.Wait()
}

// Shutdown stops every supervised child process (each Supervisor, in turn,
// waits one grace window shared by all its children before killing the
// ones still running), then closes the board bus mirror and event sink.
func (e *Environment) Shutdown(grace time.Duration) {
	for _, sup := range e.supervisors {
		sup.StopAll(grace)
	}
	e.mirror.Close()
	if err := e.sink.Close(); err != nil {
		e.log.Warn("env: event sink close failed", zap.Error(err))
	}
}
