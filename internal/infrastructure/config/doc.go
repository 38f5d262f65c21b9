// Package config handles loading and validating vineyard configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with VINEYARD_* environment variables
//   - Validation of required fields, reported all at once
//   - Default value handling
//
// Sensitive values (store DSN, MQTT password, InfluxDB token) should be set
// through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/vineyard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	db, err := database.Open(cfg.Database())
package config
