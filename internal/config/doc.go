// Package config loads the JSON configuration of the bridge daemon. Relative
// paths are resolved against the directory of the config file and secrets are
// referenced by environment variable name.
package config
