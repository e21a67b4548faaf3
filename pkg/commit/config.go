package commit

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/tux3ce/pkg/fs"
)

// Config holds the overridable tunables for a mounted volume: the commit
// policy's intervals and the block geometry. Zero values mean "use the
// default", applied by DefaultConfig.
type Config struct {
	DeltaInterval  uint64 `json:"deltaInterval"`
	RollupInterval uint64 `json:"rollupInterval"`
	BlockSize      int    `json:"blockSize"`
}

// DefaultConfig returns the engine's built-in defaults, matching the
// original stub policy (every 10th end_change, every 3rd delta) and a
// 4096-byte block size.
func DefaultConfig() Config {
	return Config{
		DeltaInterval:  defaultDeltaInterval,
		RollupInterval: defaultRollupInterval,
		BlockSize:      4096,
	}
}

// LoadConfig reads a HuJSON (JSON-with-comments) configuration file from
// path through fsys and applies it on top of DefaultConfig: any field left
// at its zero value in the file keeps the default, any field present
// overrides it. This is the same defaults -> file -> explicit-override
// precedence chain the hosting tooling's own config loader uses.
func LoadConfig(fsys fs.FS, path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := fsys.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("commit: open config %q: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Config{}, fmt.Errorf("commit: read config %q: %w", path, err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("commit: parse config %q: %w", path, err)
	}

	var overrides Config
	if err := json.Unmarshal(standard, &overrides); err != nil {
		return Config{}, fmt.Errorf("commit: decode config %q: %w", path, err)
	}

	applyOverrides(&cfg, overrides)

	return cfg, nil
}

func applyOverrides(cfg *Config, overrides Config) {
	if overrides.DeltaInterval != 0 {
		cfg.DeltaInterval = overrides.DeltaInterval
	}

	if overrides.RollupInterval != 0 {
		cfg.RollupInterval = overrides.RollupInterval
	}

	if overrides.BlockSize != 0 {
		cfg.BlockSize = overrides.BlockSize
	}
}

// Policy builds a Policy value seeded from this config's intervals.
func (c Config) Policy() Policy {
	return Policy{DeltaInterval: c.DeltaInterval, RollupInterval: c.RollupInterval}
}
