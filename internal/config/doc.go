// Package config loads kvbridge configuration. It exposes a Default()
// baseline, JSON or YAML files via Load, a KVBRIDGE_* environment overlay and
// Validate.
//
// Example:
//
//	cfg, err := config.Load("/etc/kvbridge.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(cfg, logger)
//	defer rt.Close()
package config
