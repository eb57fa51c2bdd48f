// Package ymlsettings implements configprovider.Provider over a
// settings.yaml file under the data root, grounded on original_source's
// settings.rs persistence and on this corpus's yaml.v3 precedent
// (everydev1618-govega's skills.Parse), adapted to the Store.Save
// write-whole-file style used by package flow for its own JSON persistence.
package ymlsettings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/configprovider"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of settings.yaml: one global config map per
// definition name.
type document struct {
	Agents map[string]map[string]interface{} `yaml:"agents"`
}

// Provider reads settings.yaml once at Open and keeps it in memory,
// rewriting the whole file on every Save.
type Provider struct {
	mu     sync.RWMutex
	path   string
	agents map[string]map[string]value.Value
}

var _ configprovider.Provider = (*Provider)(nil)

// Open loads path (typically <data_dir>/settings.yaml); a missing file is
// not an error, it starts the provider with no overrides.
func Open(path string) (*Provider, error) {
	p := &Provider{path: path, agents: make(map[string]map[string]value.Value)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("config provider: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config provider: parse %s: %w", path, err)
	}

	for defName, cfg := range doc.Agents {
		converted, err := fromYAMLConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("config provider: decode %s: %w", defName, err)
		}
		p.agents[defName] = converted
	}
	return p, nil
}

func (p *Provider) GetAgentGlobalConfig(defName string) (map[string]value.Value, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.agents[defName]
	if !ok {
		return nil, false
	}
	out := make(map[string]value.Value, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, true
}

// Save replaces the full settings document, both in memory and on disk.
func (p *Provider) Save(settings map[string]map[string]value.Value) error {
	doc := document{Agents: make(map[string]map[string]interface{}, len(settings))}
	agents := make(map[string]map[string]value.Value, len(settings))
	for defName, cfg := range settings {
		yamlCfg, err := toYAMLConfig(cfg)
		if err != nil {
			return fmt.Errorf("config provider: encode %s: %w", defName, err)
		}
		doc.Agents[defName] = yamlCfg
		cloned := make(map[string]value.Value, len(cfg))
		for k, v := range cfg {
			cloned[k] = v
		}
		agents[defName] = cloned
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config provider: marshal settings: %w", err)
	}
	if dir := filepath.Dir(p.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config provider: mkdir: %w", err)
		}
	}
	if err := os.WriteFile(p.path, raw, 0o644); err != nil {
		return fmt.Errorf("config provider: write %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.agents = agents
	p.mu.Unlock()
	return nil
}

// toYAMLConfig bridges value.Value (whose fields are private to package
// value) into yaml.v3-marshalable generic data by round-tripping through
// its existing json.Marshaler implementation.
func toYAMLConfig(cfg map[string]value.Value) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		out[k] = generic
	}
	return out, nil
}

func fromYAMLConfig(cfg map[string]interface{}) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(cfg))
	for k, raw := range cfg {
		jsonBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var v value.Value
		if err := json.Unmarshal(jsonBytes, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
