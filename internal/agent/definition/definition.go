// Package definition implements the Definition Registry: the catalog of
// agent kinds (schemas, channels, config schemas, factories) assembled from
// built-ins registered at startup and on-disk manifests under the data
// root's agents/ directory.
package definition

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mnemnk/runtime/internal/agent/value"
)

// Errors mirrors spec.md §7's registry error kinds.
var (
	ErrMissingEntry  = errors.New("definition: missing entry")
	ErrInvalidEntry  = errors.New("definition: invalid entry")
	ErrUnknownKind   = errors.New("definition: unknown kind")
	ErrAlreadyExists = errors.New("definition: already registered")
)

// Kind discriminates how a definition's instances are run.
type Kind string

const (
	KindBuiltin Kind = "Builtin"
	KindCommand Kind = "Command"
)

// ConfigEntry describes one entry in a default_config/global_config schema.
type ConfigEntry struct {
	Title       string      `json:"title,omitempty"`
	Type        string      `json:"type"` // boolean|integer|number|string|text|object|array
	Default     value.Value `json:"default"`
	Description string      `json:"description,omitempty"`
}

// DisplayEntry describes one UI-bound runtime readout.
type DisplayEntry struct {
	Title string `json:"title,omitempty"`
	Type  string `json:"type"`
}

// Container configures the Docker-backed command executor for a Command
// definition whose process should run inside a container rather than as a
// direct host child — a domain addition beyond the subprocess model
// spec.md describes, for agents whose manifest opts in.
type Container struct {
	Image   string `json:"image"`
	Network string `json:"network,omitempty"`
}

// Command describes how to spawn a Command-kind agent's child process.
type Command struct {
	Cmd       string     `json:"cmd"`
	Args      []string   `json:"args,omitempty"`
	Dir       string     `json:"dir,omitempty"`
	Container *Container `json:"container,omitempty"`
}

// Factory builds a new live agent instance for a definition. Builtins
// register a Factory directly; Command definitions get a generic factory
// supplied by the supervisor package at registration time.
type Factory func(id, defName string, config map[string]value.Value) (Instance, error)

// Instance is the minimal capability set the registry needs to know about;
// the full Agent contract lives in package instance. Kept here as an
// interface alias to avoid a dependency cycle between definition and
// instance (both depend on value, neither depends on the other).
type Instance interface {
	Start() error
	Stop() error
}

// Definition describes one agent kind, matching spec.md §3/§6.
type Definition struct {
	Name        string
	Kind        Kind
	Title       string
	Category    string
	Description string

	Inputs  []string
	Outputs []string

	DefaultConfig map[string]ConfigEntry
	GlobalConfig  map[string]ConfigEntry
	DisplayConfig map[string]DisplayEntry

	Command      *Command
	NativeThread bool

	Factory Factory
}

// ResolvedCommandPath returns Command.Cmd resolved against dir when it
// starts with the platform-relative prefix ("./" or ".\\"), with the
// platform executable suffix appended, matching §4.1's Command resolution
// rule. It returns ok=false when the definition has no Command.
func (d *Definition) ResolvedCommandPath(dir string) (string, bool) {
	if d.Command == nil {
		return "", false
	}
	cmd := d.Command.Cmd
	if len(cmd) >= 2 && (cmd[:2] == "./" || cmd[:2] == `.\`) {
		cmd = dir + cmd[1:]
	}
	if runtime.GOOS == "windows" {
		if len(cmd) < 4 || cmd[len(cmd)-4:] != ".exe" {
			cmd += ".exe"
		}
	}
	return cmd, true
}

// Validate checks the required fields of a Definition, returning
// ErrMissingEntry wrapped with the offending field name. Malformed manifest
// values are rejected earlier, by entryToDefinition, with ErrInvalidEntry.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingEntry)
	}
	if d.Kind == KindCommand && (d.Command == nil || d.Command.Cmd == "") {
		return fmt.Errorf("%w: command.cmd", ErrMissingEntry)
	}
	if d.Kind != KindCommand && d.Factory == nil {
		return fmt.Errorf("%w: factory", ErrMissingEntry)
	}
	return nil
}
