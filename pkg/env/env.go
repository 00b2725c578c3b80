package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Instance identifies the running process in logs and lock owners.
func Instance() string {
	for _, key := range []string{"DYNO", "HOSTNAME", "K_REVISION"} {
		if v := Get(key, ""); v != "" {
			return v
		}
	}
	return "local"
}
