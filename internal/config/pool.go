package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Pool declares one storage pool: a stable identifier and the backend root
// the listing service resolves paths against. For the S3 driver the path is
// "bucket" or "bucket/prefix".
type Pool struct {
	ID      uint64 `koanf:"pool_id"`
	Path    string `koanf:"path"`
	Backend string `koanf:"backend"` // http (default) | s3
}

// Mount assigns a pool to a filesystem mount point.
type Mount struct {
	PoolID     uint64 `koanf:"pool_id"`
	MountPoint string `koanf:"mount_point"`
}

// PoolConfig is the parsed pool registry. An empty registry is valid; the
// daemon treats it as "nothing to mount".
type PoolConfig struct {
	Pools  []Pool  `koanf:"pools"`
	Mounts []Mount `koanf:"mounts"`
}

// LoadPools reads the pool registry at path. Supports TOML and YAML by
// extension. Any read, parse, or validation failure is a configuration
// error; the caller is expected to treat it as fatal.
func LoadPools(path string) (*PoolConfig, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load pool config file: %w", err)
	}

	var pc PoolConfig
	if err := k.Unmarshal("", &pc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pool config file: %w", err)
	}

	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return &pc, nil
}

// Validate checks every pool and mount record for internal consistency.
// Mount-to-pool resolution is left to the daemon, which reports unknown
// pool references with mount context.
func (pc *PoolConfig) Validate() error {
	seen := make(map[uint64]struct{}, len(pc.Pools))
	for _, p := range pc.Pools {
		if p.Path == "" {
			return fmt.Errorf("pool %d has an empty path", p.ID)
		}
		switch p.Backend {
		case "", BackendHTTP, BackendS3:
		default:
			return fmt.Errorf("pool %d has unknown backend %q", p.ID, p.Backend)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate pool_id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	for _, m := range pc.Mounts {
		if m.MountPoint == "" {
			return fmt.Errorf("mount for pool %d has an empty mount_point", m.PoolID)
		}
	}
	return nil
}

// PoolByID returns the pool lookup the daemon joins mount definitions
// against. Built once after validation; read-only thereafter.
func (pc *PoolConfig) PoolByID() map[uint64]Pool {
	byID := make(map[uint64]Pool, len(pc.Pools))
	for _, p := range pc.Pools {
		byID[p.ID] = p
	}
	return byID
}
