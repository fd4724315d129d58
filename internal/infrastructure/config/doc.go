// Package config handles loading and validating streamlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with STREAMLINK_* environment variables
//   - Validation of required fields and cross-section rules
//   - Default value handling
//
// Security Considerations:
//   - Service and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/streamlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.URL)
package config
