// Package config loads the master configuration from YAML.
//
// Every field has a default (see Default); a file only needs the keys it
// changes. Durations use Go syntax ("500ms", "30s", "1m").
package config
