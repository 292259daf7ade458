// Package config handles configuration loading for coven-inbox.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so an empty file is valid.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from COVEN_INBOX_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/inbox.yaml
//  4. ~/.config/coven/inbox.yaml
//
// A file whose name ends in .toml is decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_INBOX_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	channel:
//	  reconnect_interval: "1s"
//	  max_reconnect_interval: "30s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8090"   # websocket channel and health endpoint
//
//	database:
//	  driver: "sqlite"              # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "./coven-inbox.db"
//
//	auth:
//	  jwt_secret: "${COVEN_INBOX_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "24h"
//
//	channel:
//	  reconnect_interval: "1s"
//	  max_reconnect_interval: "30s"
//	  buffer_size: 64
//
//	dedupe:
//	  ttl: "10m"
//	  max_size: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    return err
//	}
package config
