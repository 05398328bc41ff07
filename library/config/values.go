package config

import (
	"fmt"
	"strings"

	gconfig "github.com/Laisky/go-config/v2"
)

// String reads a trimmed string configuration value with a default fallback.
func String(key, def string) string {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
		return def
	default:
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
		return def
	}
}

// Int reads an int configuration value with a default fallback.
func Int(key string, def int) int {
	return int(Int64(key, int64(def)))
}

// Int64 reads an int64 configuration value with a default fallback.
// Environment overrides arrive as strings, so numeric strings are accepted.
func Int64(key string, def int64) int64 {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Bool reads a boolean configuration value with a default fallback.
func Bool(key string, def bool) bool {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		default:
			return def
		}
	default:
		return def
	}
}
