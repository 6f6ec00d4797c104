package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays NESDB_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("NESDB_STORAGE_DIRECTORY"); v != "" {
		cfg.StorageDirectory = v
	}
	if v := os.Getenv("NESDB_PARTITION_NAME"); v != "" {
		cfg.PartitionName = v
	}
	if v := os.Getenv("NESDB_WRITE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteBufferSize = n
		}
	}
	if v := os.Getenv("NESDB_DIRTY_READS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DirtyReads = b
		}
	}
	if v := os.Getenv("NESDB_FLUSH_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FlushDelay = d
		}
	}
}
