package cmd

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
// It accepts a value getter and returns nil when all configured values are valid.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateHTTPConfig(get, &validationErrs)
	validateDatabaseConfig(get, &validationErrs)
	validateRedisConfig(get, &validationErrs)
	validateStorageConfig(get, &validationErrs)
	validateUploadConfig(get, &validationErrs)
	validateToolsConfig(get, &validationErrs)
	validateAuthConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

// validateHTTPConfig validates listener addresses and timeouts.
func validateHTTPConfig(get configGetter, errs *[]string) {
	validateOptionalListenAddr(get, "listen", errs)
	validateOptionalListenAddr(get, "metrics-listen", errs)
	validateOptionalInt64Min(get, "settings.http.read_timeout_seconds", 1, errs)
	validateOptionalInt64Min(get, "settings.http.write_timeout_seconds", 1, errs)
}

// validateDatabaseConfig validates the catalog database URL.
func validateDatabaseConfig(get configGetter, errs *[]string) {
	raw := get("settings.db.url")
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "settings.db.url must be a string")
		return
	}

	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "sqlite:") && len(value) > len("sqlite:"):
	case strings.HasPrefix(value, "postgres://"), strings.HasPrefix(value, "postgresql://"):
	default:
		appendValidationError(errs, "settings.db.url must start with sqlite: or postgres://")
	}
}

// validateRedisConfig validates redis-related startup configuration values.
// It accepts a getter and an error collector pointer and appends validation errors.
func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalHost(get, "settings.db.redis.addr", errs)
	validateOptionalIntMin(get, "settings.db.redis.db", 0, errs)
	validateOptionalIntMin(get, "settings.db.redis.ttl_seconds", 1, errs)
}

// validateStorageConfig validates the storage root and the optional S3 mirror.
func validateStorageConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.storage.path", errs)

	validateOptionalHost(get, "settings.storage.s3.endpoint", errs)
	validateOptionalBool(get, "settings.storage.s3.use_ssl", errs)
	if isConfiguredString(get("settings.storage.s3.endpoint")) &&
		!isConfiguredString(get("settings.storage.s3.bucket")) {
		appendValidationError(errs, "settings.storage.s3.bucket is required when settings.storage.s3.endpoint is set")
	}
}

// validateUploadConfig validates upload limits.
func validateUploadConfig(get configGetter, errs *[]string) {
	validateOptionalInt64Min(get, "settings.upload.max_size_bytes", 1, errs)
}

// validateToolsConfig validates external tool paths.
func validateToolsConfig(get configGetter, errs *[]string) {
	for _, key := range []string{
		"settings.tools.aapt2_path",
		"settings.tools.bundletool_path",
		"settings.tools.java_path",
	} {
		validateOptionalStringNonEmpty(get, key, errs)
	}
}

// validateAuthConfig validates OIDC settings. The issuer is required unless
// authentication is explicitly disabled.
func validateAuthConfig(get configGetter, errs *[]string) {
	validateOptionalBool(get, "settings.auth.enabled", errs)
	validateOptionalStringNonEmpty(get, "settings.auth.audience", errs)
	validateOptionalStringNonEmpty(get, "settings.auth.admin_role", errs)
	validateOptionalStringNonEmpty(get, "settings.auth.role_claim_path", errs)
	validateOptionalIntMin(get, "settings.auth.leeway_seconds", 0, errs)

	enabled := true
	if raw := get("settings.auth.enabled"); raw != nil {
		if v, ok := parseStrictBool(raw); ok {
			enabled = v
		}
	}
	if !enabled {
		return
	}

	if get("settings.auth.issuer_url") == nil {
		appendValidationError(errs, "settings.auth.issuer_url is required when authentication is enabled")
		return
	}
	validateOptionalURL(get, "settings.auth.issuer_url", errs)
}

// validateOptionalListenAddr validates an optionally configured host:port listen address.
func validateOptionalListenAddr(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string address", key)
		return
	}

	_, port, err := net.SplitHostPort(strings.TrimSpace(value))
	if err != nil {
		appendValidationError(errs, "%s must be host:port", key)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		appendValidationError(errs, "%s has an invalid port", key)
	}
}

// validateOptionalHost validates an optionally configured host[:port] without scheme.
func validateOptionalHost(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}
	if strings.TrimSpace(value) == "" {
		return
	}
	if !isValidHost(value) {
		appendValidationError(errs, "%s must be host[:port] without scheme or path", key)
	}
}

// isConfiguredString reports whether raw is a non-blank string.
func isConfiguredString(raw any) bool {
	value, err := parseStrictString(raw)
	return err == nil && strings.TrimSpace(value) != ""
}

// validateOptionalBool validates an optionally configured boolean key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	if _, ok := parseStrictBool(raw); !ok {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

// validateOptionalIntMin validates an optionally configured integer key with a minimum constraint.
// It accepts a getter, the key, a minimum value, and an error collector pointer and appends validation errors.
func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalInt64Min validates an optionally configured int64 key with a minimum constraint.
// It accepts a getter, the key, a minimum value, and an error collector pointer and appends validation errors.
func validateOptionalInt64Min(get configGetter, key string, min int64, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt64(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalURL validates an optionally configured absolute URL key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalURL(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string URL", key)
		return
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		appendValidationError(errs, "%s must not be empty", key)
		return
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		appendValidationError(errs, "%s must be a valid absolute URL", key)
	}
}

// validateOptionalStringNonEmpty validates an optionally configured non-empty string key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// parseStrictBool parses a value as boolean using strict conversion rules.
// It accepts a raw value and returns the parsed boolean and whether parsing succeeded.
func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		if math.Trunc(v) != v {
			return false, false
		}
		return int64(v) != 0, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return false, false
		}
		switch strings.ToLower(trimmed) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

// parseStrictInt parses a value as a strict integer.
// It accepts a raw value and returns the parsed int and an error when parsing fails.
func parseStrictInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, errors.New("empty integer string")
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, errors.Wrap(err, "atoi")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

// parseStrictInt64 parses a value as a strict int64.
// It accepts a raw value and returns the parsed int64 and an error when parsing fails.
func parseStrictInt64(value any) (int64, error) {
	parsed, err := parseStrictInt(value)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int64(parsed), nil
}

// parseStrictString parses a value as a strict string.
// It accepts a raw value and returns the parsed string and an error when parsing fails.
func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

// isValidHost validates a host string without scheme or path components.
// It accepts a host string and returns true when the host is syntactically acceptable.
func isValidHost(host string) bool {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "://") || strings.Contains(trimmed, "/") {
		return false
	}
	return true
}

// appendValidationError appends a formatted validation error to the collector.
// It accepts an error slice pointer, a format string, and format arguments, and has no return value.
func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
