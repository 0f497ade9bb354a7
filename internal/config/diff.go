package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool           // true if any provider quota changed, or a provider was added/removed
	ProviderChanges  []ProviderDiff // per-provider diffs

	SemanticThresholdChanged bool
	NewSemanticThreshold     float64
}

// ProviderDiff describes what changed for a single provider between two configs.
type ProviderDiff struct {
	Name         string
	QuotaChanged bool
	Added        bool
	Removed      bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Semantic similarity threshold
	if old.Cache.SemanticThreshold != new.Cache.SemanticThreshold {
		d.SemanticThresholdChanged = true
		d.NewSemanticThreshold = new.Cache.SemanticThreshold
	}

	// Build provider lookup maps keyed by name.
	oldProviders := make(map[string]*ProviderConfig, len(old.Providers))
	for i := range old.Providers {
		oldProviders[old.Providers[i].Name] = &old.Providers[i]
	}
	newProviders := make(map[string]*ProviderConfig, len(new.Providers))
	for i := range new.Providers {
		newProviders[new.Providers[i].Name] = &new.Providers[i]
	}

	// Detect modified and removed providers.
	for name, oldP := range oldProviders {
		newP, exists := newProviders[name]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{
				Name:    name,
				Removed: true,
			})
			d.ProvidersChanged = true
			continue
		}
		if oldP.Quota != newP.Quota {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{
				Name:         name,
				QuotaChanged: true,
			})
			d.ProvidersChanged = true
		}
	}

	// Detect added providers.
	for name := range newProviders {
		if _, exists := oldProviders[name]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{
				Name:  name,
				Added: true,
			})
			d.ProvidersChanged = true
		}
	}

	return d
}
