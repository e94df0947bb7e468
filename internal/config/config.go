// Package config loads boot-time overrides for internal/limits.Config
// from a TOML file, the way zhukovaskychina-xmysql-server loads its
// server configuration with pelletier/go-toml.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"xv6go/internal/limits"
)

// tomlConfig mirrors limits.Config with TOML tags; only the fields a
// deployer is likely to tune are exposed (the static table sizes),
// everything else keeps the compiled-in default.
type tomlConfig struct {
	BSIZE   *int `toml:"bsize"`
	NBUF    *int `toml:"nbuf"`
	NBUCKET *int `toml:"nbucket"`
	NCPU    *int `toml:"ncpu"`
	PHYSTOP *int `toml:"phystop_bytes"`
}

// Load reads path and overlays any set fields onto limits.Default().
// A missing file is not an error: it returns the compiled-in defaults
// unchanged, matching the teacher's "static tables are boot constants,
// not required configuration" posture.
func Load(path string) (limits.Config, error) {
	cfg := limits.Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "reading boot config %s", path)
	}
	var tc tomlConfig
	if err := toml.Unmarshal(data, &tc); err != nil {
		return cfg, errors.Wrapf(err, "parsing boot config %s", path)
	}
	if tc.BSIZE != nil {
		cfg.BSIZE = *tc.BSIZE
	}
	if tc.NBUF != nil {
		cfg.NBUF = *tc.NBUF
	}
	if tc.NBUCKET != nil {
		cfg.NBUCKET = *tc.NBUCKET
	}
	if tc.NCPU != nil {
		cfg.NCPU = *tc.NCPU
	}
	if tc.PHYSTOP != nil {
		cfg.PHYSTOP = cfg.KernEnd + *tc.PHYSTOP
	}
	return cfg, nil
}
