package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnemnk/runtime/internal/common/logger"
	"go.uber.org/zap"
)

// manifest mirrors the on-disk mnemnk.json / mnemnk.local.json shape from
// spec.md §6: { "agents": [ {...}, ... ] }.
type manifest struct {
	Agents []manifestEntry `json:"agents"`
}

type manifestEntry struct {
	Kind         string               `json:"kind"`
	Name         string               `json:"name"`
	Title        string               `json:"title"`
	Category     string               `json:"category"`
	Description  string               `json:"description"`
	Inputs       []string             `json:"inputs"`
	Outputs      []string             `json:"outputs"`
	Default      [][2]json.RawMessage `json:"default_config"`
	Global       [][2]json.RawMessage `json:"global_config"`
	Display      [][2]json.RawMessage `json:"display_config"`
	Command      *manifestCommand     `json:"command"`
	NativeThread bool                 `json:"native_thread"`
}

type manifestCommand struct {
	Cmd       string     `json:"cmd"`
	Args      []string   `json:"args"`
	Dir       string     `json:"dir"`
	Container *Container `json:"container"`
}

// Registry is the read-after-init-only catalog of agent definitions.
type Registry struct {
	defs map[string]*Definition
	log  *logger.Logger
}

// NewRegistry returns an empty registry. Register builtins with Register,
// then call ScanDir once before serving traffic; the registry is meant to
// become read-only once startup completes.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{defs: make(map[string]*Definition), log: log}
}

// Register adds a single definition, typically a built-in. It returns
// ErrAlreadyExists if the name collides, and ErrMissingEntry if the
// definition fails Validate.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// All returns every registered definition. The returned slice is a copy;
// callers must not rely on iteration order.
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// ScanDir walks <dataRoot>/agents/<def_dir>/{mnemnk.local.json,mnemnk.json}
// and registers every valid entry found, logging and skipping invalid ones
// without aborting, per spec.md §4.1/§7.
func (r *Registry) ScanDir(dataRoot string) error {
	agentsDir := filepath.Join(dataRoot, "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan agents dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(agentsDir, e.Name())
		r.loadManifestDir(dir)
	}
	return nil
}

func (r *Registry) loadManifestDir(dir string) {
	localPath := filepath.Join(dir, "mnemnk.local.json")
	path := localPath
	if _, err := os.Stat(localPath); err != nil {
		path = filepath.Join(dir, "mnemnk.json")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("definition: cannot read manifest", zap.Error(err), zap.String("path", path))
		}
		return
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		r.log.Warn("definition: malformed manifest, skipping", zap.Error(err), zap.String("path", path))
		return
	}

	for _, entry := range m.Agents {
		def, err := entryToDefinition(entry, dir)
		if err != nil {
			r.log.Warn("definition: invalid entry, skipping",
				zap.Error(err), zap.String("path", path), zap.String("name", entry.Name))
			continue
		}
		if err := r.Register(def); err != nil {
			r.log.Warn("definition: cannot register", zap.Error(err), zap.String("name", entry.Name))
		}
	}
}

func entryToDefinition(e manifestEntry, dir string) (*Definition, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingEntry)
	}
	if e.Kind != string(KindCommand) {
		return nil, fmt.Errorf("%w: kind (only Command supported from manifests)", ErrInvalidEntry)
	}
	if e.Command == nil || e.Command.Cmd == "" {
		return nil, fmt.Errorf("%w: command.cmd", ErrMissingEntry)
	}

	defaultConfig, err := decodeConfigEntries(e.Default)
	if err != nil {
		return nil, fmt.Errorf("%w: default_config: %v", ErrInvalidEntry, err)
	}
	globalConfig, err := decodeConfigEntries(e.Global)
	if err != nil {
		return nil, fmt.Errorf("%w: global_config: %v", ErrInvalidEntry, err)
	}
	displayConfig, err := decodeDisplayEntries(e.Display)
	if err != nil {
		return nil, fmt.Errorf("%w: display_config: %v", ErrInvalidEntry, err)
	}

	def := &Definition{
		Name:          e.Name,
		Kind:          KindCommand,
		Title:         e.Title,
		Category:      e.Category,
		Description:   e.Description,
		Inputs:        e.Inputs,
		Outputs:       e.Outputs,
		NativeThread:  e.NativeThread,
		DefaultConfig: defaultConfig,
		GlobalConfig:  globalConfig,
		DisplayConfig: displayConfig,
		Command: &Command{
			Cmd:       e.Command.Cmd,
			Args:      e.Command.Args,
			Dir:       e.Command.Dir,
			Container: e.Command.Container,
		},
	}

	resolved, _ := def.ResolvedCommandPath(dir)
	if _, err := os.Stat(resolved); err != nil && def.Command.Container == nil {
		return nil, fmt.Errorf("%w: command.cmd does not resolve to a file: %s", ErrInvalidEntry, resolved)
	}
	if def.Command.Container == nil {
		def.Command.Cmd = resolved
	}

	return def, nil
}

// decodeConfigEntries converts the manifest's [key, entry] pair encoding
// for default_config/global_config into a name-keyed map, preserving
// declared order is unnecessary since Definition stores these as a map.
func decodeConfigEntries(pairs [][2]json.RawMessage) (map[string]ConfigEntry, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]ConfigEntry, len(pairs))
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, fmt.Errorf("entry key: %w", err)
		}
		var entry ConfigEntry
		if err := json.Unmarshal(pair[1], &entry); err != nil {
			return nil, fmt.Errorf("entry %s: %w", key, err)
		}
		out[key] = entry
	}
	return out, nil
}

// decodeDisplayEntries is decodeConfigEntries' counterpart for
// display_config, whose values are DisplayEntry rather than ConfigEntry.
func decodeDisplayEntries(pairs [][2]json.RawMessage) (map[string]DisplayEntry, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]DisplayEntry, len(pairs))
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, fmt.Errorf("entry key: %w", err)
		}
		var entry DisplayEntry
		if err := json.Unmarshal(pair[1], &entry); err != nil {
			return nil, fmt.Errorf("entry %s: %w", key, err)
		}
		out[key] = entry
	}
	return out, nil
}
