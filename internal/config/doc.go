// Package config handles configuration loading for petchat-gateway.
//
// # Configuration File
//
// Lookup order (see ResolvePath):
//
//  1. The --config flag
//  2. Path from the PETCHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/petchat/gateway.yaml (~/.config when unset)
//
// With no file at all the gateway runs on Default().
//
// Files ending in .toml are decoded as TOML; anything else is YAML. Both use
// the same key names.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	ai:
//	  backoff_base: "1s"
//	  backoff_max: "30s"
//	  task_deadline: "2m"
//
// # Configuration Sections
//
//	server:
//	  listen_addr: "0.0.0.0:8888"    # framed chat protocol
//	  http_addr: "127.0.0.1:8080"    # admin API, empty disables
//	  grpc_addr: ""                  # gRPC health service, empty disables
//	  max_frame_size: 1048576
//	  outbound_queue: 256
//	  write_timeout: "10s"
//	  handshake_timeout: "10s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "petchat"
//	  auth_key: "${TS_AUTHKEY}"
//	  port: 8888
//
//	database:
//	  path: "./petchat.db"
//
//	triggers:
//	  emotion:    { threshold: 5,  window: 5 }
//	  memory:     { threshold: 10, window: 10 }
//	  suggestion: { threshold: 3,  window: 5, keywords: ["weekend"], command: "/ai" }
//	  history_size: 50
//
//	ai:
//	  workers: 4
//	  queue_size: 64
//	  max_attempts: 3
//	  memory_dedupe_ttl: "24h"
//
//	provider:
//	  model: "gpt-4o-mini"           # "gemini-..." selects the Gemini adapter
//	  api_key: "${OPENAI_API_KEY}"
//	  timeout: "60s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
