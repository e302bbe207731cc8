// Package config provides loading and environment overlay for node
// configuration. It exposes a Default() baseline, JSON or YAML files chosen by
// extension, and FLO_* environment overrides.
//
// Example:
//
//	cfg, err := config.Load("/etc/flolog.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
