package auth

import (
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/lellostore/library/config"
)

const (
	defaultAudience      = "lellostore"
	defaultAdminRole     = "admin"
	defaultRoleClaimPath = "realm_access.roles"
	defaultLeeway        = 60 * time.Second
)

// Config holds identity provider settings.
type Config struct {
	Enabled       bool
	IssuerURL     string
	Audience      string
	AdminRole     string
	RoleClaimPath string
	Leeway        time.Duration
}

// LoadConfigFromConfig reads settings.auth.* and applies defaults.
func LoadConfigFromConfig() Config {
	cfg := Config{
		Enabled:       config.Bool("settings.auth.enabled", true),
		IssuerURL:     config.String("settings.auth.issuer_url", ""),
		Audience:      config.String("settings.auth.audience", defaultAudience),
		AdminRole:     config.String("settings.auth.admin_role", defaultAdminRole),
		RoleClaimPath: config.String("settings.auth.role_claim_path", defaultRoleClaimPath),
		Leeway:        time.Duration(config.Int64("settings.auth.leeway_seconds", 60)) * time.Second,
	}
	if cfg.Leeway < 0 {
		cfg.Leeway = defaultLeeway
	}
	return cfg
}

// Validate checks the settings needed to talk to the identity provider.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.IssuerURL == "" {
		return errors.New("settings.auth.issuer_url is required when auth is enabled")
	}
	if !strings.HasPrefix(c.IssuerURL, "http://") && !strings.HasPrefix(c.IssuerURL, "https://") {
		return errors.Errorf("settings.auth.issuer_url must be an http(s) url, got %q", c.IssuerURL)
	}
	if c.Audience == "" {
		return errors.New("settings.auth.audience must not be empty")
	}
	if c.AdminRole == "" {
		return errors.New("settings.auth.admin_role must not be empty")
	}
	if c.RoleClaimPath == "" {
		return errors.New("settings.auth.role_claim_path must not be empty")
	}
	return nil
}

func normalizeIssuer(issuer string) string {
	return strings.TrimRight(issuer, "/")
}
