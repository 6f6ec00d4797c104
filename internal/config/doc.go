// Package config loads and overlays the engine's runtime configuration:
// a JSON file, overridden by NESDB_* environment variables, on top of
// built-in defaults.
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/nesdb.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
