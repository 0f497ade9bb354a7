package config_test

import (
	"testing"

	"github.com/MrWong99/aide/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: []config.ProviderConfig{
			{Name: "fast-remote", Kind: config.KindOpenAI, Model: "gpt-4o-mini",
				Quota: config.QuotaConfig{MaxRequests: 60}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.ProvidersChanged {
		t.Error("expected ProvidersChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.SemanticThresholdChanged {
		t.Error("expected SemanticThresholdChanged=false for identical configs")
	}
	if len(d.ProviderChanges) != 0 {
		t.Errorf("expected 0 provider changes, got %d", len(d.ProviderChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_QuotaChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "fast-remote", Quota: config.QuotaConfig{MaxRequests: 60}},
		},
	}
	new := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "fast-remote", Quota: config.QuotaConfig{MaxRequests: 120}},
		},
	}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	if len(d.ProviderChanges) != 1 {
		t.Fatalf("expected 1 provider change, got %d", len(d.ProviderChanges))
	}
	if !d.ProviderChanges[0].QuotaChanged {
		t.Error("expected QuotaChanged=true")
	}
}

func TestDiff_NonQuotaFieldIgnored(t *testing.T) {
	t.Parallel()
	// Model swaps need a restart; the diff must not flag them.
	old := &config.Config{
		Providers: []config.ProviderConfig{{Name: "local", Model: "llama3.1:8b"}},
	}
	new := &config.Config{
		Providers: []config.ProviderConfig{{Name: "local", Model: "llama3.2:3b"}},
	}

	d := config.Diff(old, new)
	if d.ProvidersChanged {
		t.Error("expected ProvidersChanged=false for model-only change")
	}
}

func TestDiff_ProviderAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: []config.ProviderConfig{{Name: "fast-remote"}},
	}
	new := &config.Config{
		Providers: []config.ProviderConfig{{Name: "fast-remote"}, {Name: "local"}},
	}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	found := false
	for _, pc := range d.ProviderChanges {
		if pc.Name == "local" && pc.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected local Added=true")
	}
}

func TestDiff_ProviderRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: []config.ProviderConfig{{Name: "fast-remote"}, {Name: "local"}},
	}
	new := &config.Config{
		Providers: []config.ProviderConfig{{Name: "fast-remote"}},
	}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	found := false
	for _, pc := range d.ProviderChanges {
		if pc.Name == "local" && pc.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected local Removed=true")
	}
}

func TestDiff_SemanticThresholdChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Cache: config.CacheConfig{SemanticThreshold: 0.92}}
	new := &config.Config{Cache: config.CacheConfig{SemanticThreshold: 0.85}}

	d := config.Diff(old, new)
	if !d.SemanticThresholdChanged {
		t.Error("expected SemanticThresholdChanged=true")
	}
	if d.NewSemanticThreshold != 0.85 {
		t.Errorf("expected NewSemanticThreshold=0.85, got %v", d.NewSemanticThreshold)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: []config.ProviderConfig{
			{Name: "a", Quota: config.QuotaConfig{MaxTokens: 1000}},
			{Name: "b"},
		},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Providers: []config.ProviderConfig{
			{Name: "a", Quota: config.QuotaConfig{MaxTokens: 2000}},
			{Name: "c"},
		},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	// a: quota changed, b: removed, c: added
	changes := make(map[string]config.ProviderDiff)
	for _, pc := range d.ProviderChanges {
		changes[pc.Name] = pc
	}
	if !changes["a"].QuotaChanged {
		t.Error("expected a QuotaChanged=true")
	}
	if !changes["b"].Removed {
		t.Error("expected b Removed=true")
	}
	if !changes["c"].Added {
		t.Error("expected c Added=true")
	}
}
