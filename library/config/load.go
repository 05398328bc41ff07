// Package config loads settings from file, .env and the process environment.
package config

import (
	"os"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/joho/godotenv"

	"github.com/Laisky/lellostore/library/log"
)

// EnvBinding maps an environment variable onto a config key.
type EnvBinding struct {
	Env string
	Key string
}

// EnvBindings lists every environment variable the service understands.
var EnvBindings = []EnvBinding{
	{Env: "LISTEN_ADDR", Key: "listen"},
	{Env: "METRICS_ADDR", Key: "metrics-listen"},
	{Env: "DATABASE_URL", Key: "settings.db.url"},
	{Env: "STORAGE_PATH", Key: "settings.storage.path"},
	{Env: "FRONTEND_DIST_DIR", Key: "settings.web.frontend_dist_dir"},
	{Env: "MAX_UPLOAD_SIZE", Key: "settings.upload.max_size_bytes"},
	{Env: "AAPT2_PATH", Key: "settings.tools.aapt2_path"},
	{Env: "BUNDLETOOL_PATH", Key: "settings.tools.bundletool_path"},
	{Env: "JAVA_PATH", Key: "settings.tools.java_path"},
	{Env: "AUTH_ENABLED", Key: "settings.auth.enabled"},
	{Env: "OIDC_ISSUER_URL", Key: "settings.auth.issuer_url"},
	{Env: "OIDC_AUDIENCE", Key: "settings.auth.audience"},
	{Env: "OIDC_ADMIN_ROLE", Key: "settings.auth.admin_role"},
	{Env: "OIDC_ROLE_CLAIM_PATH", Key: "settings.auth.role_claim_path"},
	{Env: "REDIS_ADDR", Key: "settings.db.redis.addr"},
	{Env: "S3_ENDPOINT", Key: "settings.storage.s3.endpoint"},
	{Env: "S3_BUCKET", Key: "settings.storage.s3.bucket"},
	{Env: "S3_ACCESS_KEY", Key: "settings.storage.s3.access_key"},
	{Env: "S3_SECRET_KEY", Key: "settings.storage.s3.secret_key"},
}

// LoadFromFile loads a YAML settings file. A missing file is not an error,
// since the service can run from environment variables alone.
func LoadFromFile(cfgPath string) {
	if cfgPath == "" {
		return
	}
	if _, err := os.Stat(cfgPath); err != nil {
		log.Logger.Info("skip configuration file",
			zap.String("config", cfgPath),
			zap.Error(err))
		return
	}

	gconfig.S.Set("cfg_dir", filepath.Dir(cfgPath))
	if err := gconfig.S.LoadFromFile(cfgPath); err != nil {
		log.Logger.Panic("load configuration",
			zap.Error(err),
			zap.String("config", cfgPath))
	}

	log.Logger.Info("load configuration",
		zap.String("config", cfgPath))
}

// LoadDotEnv reads KEY=VALUE pairs from envFile into the process environment.
// Variables already present in the environment win.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat env file %q", envFile)
	}

	if err := godotenv.Load(envFile); err != nil {
		return errors.Wrapf(err, "load env file %q", envFile)
	}

	log.Logger.Info("load env file", zap.String("file", envFile))
	return nil
}

// ApplyEnvOverrides copies non-empty environment variables onto their config keys.
// It returns the config keys that were overridden.
func ApplyEnvOverrides(lookup func(string) (string, bool)) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var applied []string
	for _, b := range EnvBindings {
		val, ok := lookup(b.Env)
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		gconfig.S.Set(b.Key, val)
		applied = append(applied, b.Key)
	}

	return applied
}
