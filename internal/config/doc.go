// Package config handles configuration loading for coven-leads.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Unset values get defaults, then the whole file is validated.
//
// # Configuration File
//
// Default location: $XDG_CONFIG_HOME/coven/leads.yaml, overridable with
// the COVEN_LEADS_CONFIG environment variable.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_LEADS_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	followup:
//	  delay: "24h"
//	  check_interval: "30m"
//
// check_interval must be smaller than delay.
//
// # Sections
//
//   - server: grpc_addr, http_addr (required unless tailscale is enabled)
//   - tailscale: enabled, hostname, auth_key, state_dir, ephemeral, https, funnel
//   - database: driver ("sqlite" or "sqlite3"), path
//   - auth: jwt_secret (empty disables auth; otherwise at least 32 bytes)
//   - followup: delay, check_interval
//   - conversation: script (path to a .yaml/.toml script; empty uses the default)
//   - dedupe: ttl, max_entries
//   - logging: level, format
package config
