// Package config resolves settle's configuration from flags, SETTLE_ environment
// variables and an optional YAML file.
package config

import (
	"os"
	"strings"
)

// envKeyReplacer maps nested keys onto environment names: database.path -> DATABASE_PATH.
var envKeyReplacer = strings.NewReplacer(".", "_")

// ExpandPath resolves a leading ~ and $VAR references in a configured path.
// Paths like ~alice are left alone.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return os.ExpandEnv(path)
}
