package upload

import "github.com/Laisky/lellostore/library/config"

// DefaultMaxUploadSize is 500 MiB.
const DefaultMaxUploadSize int64 = 500 * 1024 * 1024

// Settings captures runtime configuration for uploads.
type Settings struct {
	MaxUploadSize int64
}

// LoadSettingsFromConfig reads configuration and applies safe defaults.
func LoadSettingsFromConfig() Settings {
	settings := Settings{
		MaxUploadSize: config.Int64("settings.upload.max_size_bytes", DefaultMaxUploadSize),
	}
	if settings.MaxUploadSize <= 0 {
		settings.MaxUploadSize = DefaultMaxUploadSize
	}
	return settings
}
