// Package config loads Katalyst settings.
//
// Settings come from three places, later ones overriding earlier ones:
//
//  1. Built-in defaults (Default)
//  2. A config file, TOML (.toml) or YAML (.yaml, .yml)
//  3. KATALYST_* environment variables
//
// A file looks like:
//
//	[log]
//	level = "debug"
//
//	[suggest]
//	idle_delay = "300ms"
//	accept_tolerance = 5
//
//	[collab]
//	relay_url = "ws://localhost:8787"
//	room = "playground"
//
//	[ai]
//	provider = "groq"
//	api_key_env = "GROQ_API_KEY"
//
// Watch reloads the file when it changes on disk.
package config
