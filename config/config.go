// Package config loads the control-plane's TOML configuration file,
// grounded on spec.md §6.3's field list (HTTP bind address/port, API key,
// feature flags, cache TTL/page budget, log file path, SLEIGH-spec
// directory) and realized with github.com/BurntSushi/toml, an established
// dependency the rest of the pack's config-file examples reach for over a
// hand-rolled flag/env parser.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/memcore-dev/memcore/coreerr"
)

// Features gates the optional request-surface capabilities spec.md §6.3
// names: read/write/scan/dump/disasm/emu/rtti/schema.
type Features struct {
	Read     bool `toml:"read"`
	Write    bool `toml:"write"`
	Scan     bool `toml:"scan"`
	Dump     bool `toml:"dump"`
	Disasm   bool `toml:"disasm"`
	Emu      bool `toml:"emu"`
	RTTI     bool `toml:"rtti"`
	Schema   bool `toml:"schema"`
}

// Cache configures PageCache's TTL and page budget.
type Cache struct {
	TTLMillis int `toml:"ttl_ms"`
	MaxPages  int `toml:"max_pages"`
}

// Config is the full on-disk configuration shape.
type Config struct {
	BindAddress string   `toml:"bind_address"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	Features    Features `toml:"features"`
	Cache       Cache    `toml:"cache"`
	LogFilePath string   `toml:"log_file_path"`
	SleighSpecDir string `toml:"sleigh_spec_dir"`
	CacheDir    string   `toml:"cache_dir"`
}

// Default returns a Config with the same defaults the teacher repo's
// memory_cache.h and MCPConfig use: port 8765, localhost-only bind, all
// read-side features enabled and write disabled, 100ms TTL, 1024-page
// budget.
func Default() Config {
	return Config{
		BindAddress: "127.0.0.1",
		Port:        8765,
		Features: Features{
			Read:   true,
			Write:  false,
			Scan:   true,
			Dump:   true,
			Disasm: true,
			Emu:    false,
			RTTI:   true,
			Schema: true,
		},
		Cache: Cache{
			TTLMillis: 100,
			MaxPages:  1024,
		},
		LogFilePath: "memcored.log",
		CacheDir:    "memcore_cache",
	}
}

// TTL converts Cache.TTLMillis to a time.Duration.
func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLMillis) * time.Millisecond
}

// Load reads and decodes a TOML config file at path, starting from Default
// so an omitted field keeps its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, coreerr.Wrap(coreerr.Fatal, "config.Load", "path", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, overwriting any existing file.
func Save(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return coreerr.Wrap(coreerr.Fatal, "config.Save", "path", err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return coreerr.Wrap(coreerr.Fatal, "config.Save", "encode", err)
	}
	return nil
}
