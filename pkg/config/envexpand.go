package config

import "os"

// ExpandEnv expands environment variables in YAML content using standard
// shell-style ${VAR} and $VAR syntax. Missing variables expand to empty
// strings; Load then fills the empty fields that have a default.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
