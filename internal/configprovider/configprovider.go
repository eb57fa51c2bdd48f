// Package configprovider defines the ConfigProvider contract from spec.md
// §6: per-definition global config persistence, consulted by the
// composition root when seeding each registered definition's global_config
// layer and updated whenever the UI saves settings.
package configprovider

import "github.com/mnemnk/runtime/internal/agent/value"

// Provider is the ConfigProvider interface from spec.md §6.
type Provider interface {
	// GetAgentGlobalConfig returns the persisted global config override for
	// defName, if one has been saved.
	GetAgentGlobalConfig(defName string) (map[string]value.Value, bool)

	// Save replaces the full settings document: one global config map per
	// definition name.
	Save(settings map[string]map[string]value.Value) error
}
