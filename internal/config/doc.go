// Package config handles configuration loading for the exo broker.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Parse starts from Default(), so a file only needs the fields it changes.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from EXO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/exo/broker.yaml
//  3. ~/.config/exo/broker.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generation:
//	  api_key: "${GEMINI_API_KEY}"
//
// # Configuration Sections
//
// Listener:
//
//	server:
//	  addr: "127.0.0.1:25077"       # adapters send <sender>://<message> here
//	  http_addr: "127.0.0.1:25078"  # /health and /health/ready
//	  health_grpc_addr: ""          # optional grpc.health.v1 endpoint
//	  read_timeout: "30s"
//	  max_frame_bytes: 16384
//
// Persona and access lists:
//
//	persona:
//	  player: "Exo"
//	  roster: ["Alice", "Bob", "Exo"]
//	  roster_file: "/models/exo/Usernames.txt"
//	access:
//	  operators: ["DISCORD-1234"]
//	  sudoers: ["DISCORD-1234", "TELEGRAM-42"]
//
// Content firewall:
//
//	firewall:
//	  intercepts:
//	    "who made you": "A small group of hobbyists."
//	  banned: ["password", "credit//card"]
//	  rejections: ["Let's talk about something else.", "No thanks."]
//
// Generation (forwarded to the backend untouched):
//
//	generation:
//	  backend: "ollama"   # ollama, gemini, echo
//	  model: "exo-gpt2"
//	  temperature: 1.0
//	  top_k: 0
//	  top_p: 0.9
//	  repetition_penalty: 1.0
//	  max_new_tokens: 20
//	  beam_width: 3
//	  timeout: "60s"
//
// Chat log, notifications, rate limiting and logging:
//
//	chatlog:
//	  enabled: true
//	  path: "/var/lib/exo/chatlog.db"
//	notify:
//	  window: "5m"
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    access_token: "${EXO_MATRIX_TOKEN}"
//	    room_id: "!updates:matrix.org"
//	ratelimit:
//	  enabled: false
//	  per_second: 1
//	  burst: 3
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
