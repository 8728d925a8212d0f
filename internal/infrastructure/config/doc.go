// Package config loads host configuration.
//
// Values come from BRIDGE_ prefixed environment variables with defaults. A
// TOML file named by BRIDGE_CONFIG_FILE, when set, is applied on top.
//
// Sections:
//   - Server: listen address and allowed CORS origins
//   - Bridge: per-session options (route on context, script stack depth)
//   - Upstream: timeout for requests continued to the network
//   - Logging: level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Bridge host listening on %s\n", cfg.Server.Addr())
package config
