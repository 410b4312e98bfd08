// Package config loads the agent's JSON configuration file and fills in
// defaults. Relative paths inside the file are resolved against the
// directory that contains it.
package config
