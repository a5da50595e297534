// Package config provides configuration loading for shellyflux.
//
// Configuration is loaded from a YAML file with three layers of precedence:
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. SHELLYFLUX_* environment variables
//
// Secrets (the InfluxDB token, MQTT credentials) should be supplied via
// environment variables rather than committed to the config file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.GetBaseInterval()
package config
