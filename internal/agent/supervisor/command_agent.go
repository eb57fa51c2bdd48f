package supervisor

import (
	"fmt"

	"github.com/mnemnk/runtime/internal/agent/definition"
	"github.com/mnemnk/runtime/internal/agent/instance"
	"github.com/mnemnk/runtime/internal/agent/value"
)

// commandAgent adapts a Supervisor-managed child process to instance.Agent,
// per spec.md §4.5: Start spawns the child, Process writes a ".IN" frame to
// its stdin, Stop sends ".QUIT" and returns without waiting for the child
// to exit (Supervisor.StopAll kills children that are still running at
// shutdown), and SetConfig both updates the merged config snapshot BaseAgent
// tracks and pushes a live ".CONFIG" frame when the child is already
// running.
type commandAgent struct {
	instance.BaseAgent
	sup     *Supervisor
	cmdPath string
	args    []string
	dir     string
}

// NewCommandFactory returns a definition.Factory that spawns def's command
// through sup. globalConfig is resolved once by the caller (the
// composition root), matching the same baked-in-at-registration-time
// convention the built-in factories use, since definition.Factory only
// carries instance-level config.
func NewCommandFactory(sup *Supervisor, def *definition.Definition, globalConfig map[string]value.Value, emitter instance.Emitter) (definition.Factory, error) {
	if def.Command == nil {
		return nil, fmt.Errorf("supervisor: definition %s has no command", def.Name)
	}
	cmdPath, ok := def.ResolvedCommandPath(def.Command.Dir)
	if !ok {
		return nil, fmt.Errorf("supervisor: definition %s command path did not resolve", def.Name)
	}
	args := append([]string(nil), def.Command.Args...)
	dir := def.Command.Dir

	return func(id, defName string, config map[string]value.Value) (definition.Instance, error) {
		return &commandAgent{
			BaseAgent: instance.NewBase(id, defName, globalConfig, config, emitter),
			sup:       sup,
			cmdPath:   cmdPath,
			args:      args,
			dir:       dir,
		}, nil
	}, nil
}

func (a *commandAgent) Start() error {
	return a.RunStart(func() error {
		return a.sup.Start(a.ID(), a.cmdPath, a.args, a.dir, a.MergedConfig())
	})
}

func (a *commandAgent) Stop() error {
	return a.RunStop(func() error {
		return a.sup.Quit(a.ID())
	})
}

func (a *commandAgent) SetConfig(config map[string]value.Value) error {
	a.SetInstanceConfig(config)
	if a.Status() != instance.StatusRun {
		return nil
	}
	return a.sup.WriteConfig(a.ID(), a.MergedConfig())
}

func (a *commandAgent) Process(actx value.Context, data value.Data) error {
	return a.sup.WriteIn(a.ID(), actx, data)
}
