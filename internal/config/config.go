package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration for a Storage instance.
type Config struct {
	StorageDirectory string        `json:"storageDirectory"`
	PartitionName    string        `json:"partitionName"`
	WriteBufferSize  int           `json:"writeBufferSize"`
	DirtyReads       bool          `json:"dirtyReads"`
	FlushDelay       time.Duration `json:"flushDelay"`
	// Metadata is an opaque index metadata blob. The nesdb tail command
	// passes it to EnsureIndex for the index it tails; Storage itself does
	// not read it.
	Metadata []byte `json:"metadata"`
}

// Default returns the engine's built-in defaults.
func Default() Config {
	return Config{
		StorageDirectory: DefaultDataDir(),
		PartitionName:    "store",
		WriteBufferSize:  16 << 10,
		DirtyReads:       true,
		FlushDelay:       0,
	}
}

// Load reads configuration from a JSON file layered on top of Default. An
// empty path returns Default unmodified.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
