package dmengine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := defaultRuntimeConfig()

	if len(cfg.DiscoveryRelays) == 0 {
		t.Fatal("expected default discovery relays, got empty")
	}
	if cfg.DiscoveryRelays[0] != "wss://relay.damus.io" {
		t.Errorf("first default relay = %q, want %q", cfg.DiscoveryRelays[0], "wss://relay.damus.io")
	}
	if cfg.RelayMode != RelayModeHybrid {
		t.Errorf("RelayMode = %q, want %q", cfg.RelayMode, RelayModeHybrid)
	}
	if cfg.QueryLimit != 200 {
		t.Errorf("QueryLimit = %d, want 200", cfg.QueryLimit)
	}
	if cfg.NIP17FuzzDays != 2 {
		t.Errorf("NIP17FuzzDays = %d, want 2", cfg.NIP17FuzzDays)
	}
	if cfg.MediaCacheBytes <= 0 {
		t.Errorf("MediaCacheBytes = %d, want positive default", cfg.MediaCacheBytes)
	}
}

func TestConfigPath(t *testing.T) {
	t.Run("flag takes priority", func(t *testing.T) {
		got := configPath("/my/flag/path.toml")
		if got != "/my/flag/path.toml" {
			t.Errorf("configPath with flag = %q, want %q", got, "/my/flag/path.toml")
		}
	})

	t.Run("env var when no flag", func(t *testing.T) {
		t.Setenv("DMENGINE_CONFIG", "/env/path.toml")
		got := configPath("")
		if got != "/env/path.toml" {
			t.Errorf("configPath with env = %q, want %q", got, "/env/path.toml")
		}
	})

	t.Run("default when no flag or env", func(t *testing.T) {
		t.Setenv("DMENGINE_CONFIG", "")
		got := configPath("")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "dmengine", "config.toml")
		if got != want {
			t.Errorf("configPath default = %q, want %q", got, want)
		}
	})
}

func TestLoadRuntimeConfig(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		dir := t.TempDir()
		flagPath := filepath.Join(dir, "nonexistent.toml")
		cfg, err := LoadRuntimeConfig(flagPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.QueryLimit != 200 {
			t.Errorf("QueryLimit = %d, want 200", cfg.QueryLimit)
		}
		if len(cfg.DiscoveryRelays) == 0 {
			t.Error("expected default relays")
		}
	})

	t.Run("valid TOML parses", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		content := `
discovery_relays = ["wss://custom.relay"]
relay_mode = "strict_outbox"
query_limit = 50
`
		if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadRuntimeConfig(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.DiscoveryRelays) != 1 || cfg.DiscoveryRelays[0] != "wss://custom.relay" {
			t.Errorf("relays = %v, want [wss://custom.relay]", cfg.DiscoveryRelays)
		}
		if cfg.RelayMode != RelayModeStrictOutbox {
			t.Errorf("RelayMode = %q, want %q", cfg.RelayMode, RelayModeStrictOutbox)
		}
		if cfg.QueryLimit != 50 {
			t.Errorf("QueryLimit = %d, want 50", cfg.QueryLimit)
		}
	})

	t.Run("empty discovery relays get defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		content := `discovery_relays = []`
		if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadRuntimeConfig(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defaults := defaultRuntimeConfig()
		if len(cfg.DiscoveryRelays) != len(defaults.DiscoveryRelays) {
			t.Errorf("expected default relays when empty, got %d relays", len(cfg.DiscoveryRelays))
		}
	})

	t.Run("zero query_limit gets default", func(t *testing.T) {
		dir := t.TempDir()
		cfgFile := filepath.Join(dir, "config.toml")
		content := `query_limit = 0`
		if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadRuntimeConfig(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.QueryLimit != 200 {
			t.Errorf("QueryLimit = %d, want 200 (default)", cfg.QueryLimit)
		}
	})
}

func TestResolvedStateDir(t *testing.T) {
	t.Run("expands leading tilde", func(t *testing.T) {
		cfg := RuntimeConfig{StateDir: "~/.local/share/dmengine"}
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".local/share/dmengine")
		if got := cfg.ResolvedStateDir(); got != want {
			t.Errorf("ResolvedStateDir = %q, want %q", got, want)
		}
	})

	t.Run("absolute path untouched", func(t *testing.T) {
		cfg := RuntimeConfig{StateDir: "/var/lib/dmengine"}
		if got := cfg.ResolvedStateDir(); got != "/var/lib/dmengine" {
			t.Errorf("ResolvedStateDir = %q, want unchanged", got)
		}
	})
}
