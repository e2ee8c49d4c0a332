package dmengine

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RelayMode selects how a conversation's relay set is resolved (spec C1).
type RelayMode string

const (
	RelayModeDiscovery    RelayMode = "discovery"
	RelayModeHybrid       RelayMode = "hybrid"
	RelayModeStrictOutbox RelayMode = "strict_outbox"
)

// RuntimeConfig is the engine's TOML-loaded configuration, generalized from
// pinpox-nitrous's Config (config.go) to the fields the DM engine needs
// instead of the TUI's profile/relay/room settings.
type RuntimeConfig struct {
	DiscoveryRelays []string  `toml:"discovery_relays"`
	RelayMode       RelayMode `toml:"relay_mode"`
	RelayTTLMs      int       `toml:"relay_ttl_ms"`
	QueryLimit      int       `toml:"query_limit"`
	NIP17FuzzDays   int       `toml:"nip17_fuzz_days"`
	PrivateKeyFile  string    `toml:"private_key_file"`
	StateDir        string    `toml:"state_dir"`
	MediaCacheBytes int64     `toml:"media_cache_bytes"`
}

func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscoveryRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://nos.lol",
			"wss://purplepag.es",
		},
		RelayMode:     RelayModeHybrid,
		RelayTTLMs:    6000,
		QueryLimit:    200,
		NIP17FuzzDays: 2,
		StateDir:      "~/.local/share/dmengine",
		MediaCacheBytes: 256 * 1024 * 1024,
	}
}

// configPath resolves the config file location the same way
// pinpox-nitrous does: explicit flag, then env var, then XDG default.
func configPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("DMENGINE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "dmengine", "config.toml")
}

// LoadRuntimeConfig loads TOML config from flagPath (or its resolved
// default location), falling back to defaultRuntimeConfig for a missing
// file and filling in any zero-valued fields left unset by the file.
func LoadRuntimeConfig(flagPath string) (RuntimeConfig, error) {
	cfg := defaultRuntimeConfig()

	path := configPath(flagPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if len(cfg.DiscoveryRelays) == 0 {
		cfg.DiscoveryRelays = defaultRuntimeConfig().DiscoveryRelays
	}
	if cfg.RelayMode == "" {
		cfg.RelayMode = RelayModeHybrid
	}
	if cfg.RelayTTLMs <= 0 {
		cfg.RelayTTLMs = 6000
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 200
	}
	if cfg.NIP17FuzzDays <= 0 {
		cfg.NIP17FuzzDays = 2
	}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultRuntimeConfig().StateDir
	}
	if cfg.MediaCacheBytes <= 0 {
		cfg.MediaCacheBytes = defaultRuntimeConfig().MediaCacheBytes
	}

	return cfg, nil
}

// ResolvedStateDir expands a leading "~/" in StateDir against the user's
// home directory, mirroring the ~/ handling in LoadPrivateKey.
func (c RuntimeConfig) ResolvedStateDir() string {
	if len(c.StateDir) >= 2 && c.StateDir[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, c.StateDir[2:])
		}
	}
	return c.StateDir
}
