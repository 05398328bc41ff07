// Package auth validates OIDC bearer tokens and guards gin routes.
package auth

import (
	"context"
	"net/http"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/cenkalti/backoff/v4"

	"github.com/Laisky/lellostore/library/log"
)

const (
	startupAttempts     = 5
	startupInitialDelay = time.Second
	httpClientTimeout   = 10 * time.Second
)

// Provider is a connected identity provider: discovery done, keys loaded.
type Provider struct {
	cfg       Config
	discovery *Discovery
	keys      *KeyCache
	validator *Validator
	logger    logSDK.Logger
}

type providerOptions struct {
	client  *http.Client
	logger  logSDK.Logger
	backoff func() backoff.BackOff
	now     func() time.Time
}

// ProviderOption configures NewProvider.
type ProviderOption func(*providerOptions)

// WithHTTPClient sets the client used for discovery and key fetches.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) {
		if client != nil {
			o.client = client
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger logSDK.Logger) ProviderOption {
	return func(o *providerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStartupBackOff replaces the startup retry policy.
func WithStartupBackOff(newBackOff func() backoff.BackOff) ProviderOption {
	return func(o *providerOptions) {
		if newBackOff != nil {
			o.backoff = newBackOff
		}
	}
}

// WithClock sets the time source for token checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(o *providerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func defaultStartupBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = startupInitialDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, startupAttempts-1)
}

// NewProvider runs discovery and loads the first key set, retrying with
// exponential backoff. An error means the process should not start.
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid auth config")
	}
	if !cfg.Enabled {
		return nil, errors.New("auth is disabled")
	}

	o := &providerOptions{
		client:  &http.Client{Timeout: httpClientTimeout},
		logger:  log.Logger.Named("auth"),
		backoff: defaultStartupBackOff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger.With(zap.String("issuer", cfg.IssuerURL))
	p := &Provider{cfg: cfg, logger: logger}

	attempt := 0
	connect := func() error {
		attempt++
		doc, err := Discover(ctx, o.client, cfg.IssuerURL)
		if err != nil {
			if isPermanentDiscoveryError(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		keys := NewKeyCache(doc.JWKSURI, o.client, logger)
		if err = keys.Refresh(ctx); err != nil {
			return err
		}

		p.discovery = doc
		p.keys = keys
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("identity provider not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(o.backoff(), ctx), notify); err != nil {
		return nil, errors.Wrapf(err, "connect to identity provider after %d attempts", attempt)
	}

	p.validator = newValidator(cfg, p.keys, o.now)
	logger.Info("identity provider ready",
		zap.String("jwks_uri", p.discovery.JWKSURI),
		zap.Int("keys", p.keys.Len()))
	return p, nil
}

// Discovery returns the provider metadata.
func (p *Provider) Discovery() Discovery {
	return *p.discovery
}

// Validator returns the token validator.
func (p *Provider) Validator() *Validator {
	return p.validator
}

// RefreshKeys reloads the signing keys.
func (p *Provider) RefreshKeys(ctx context.Context) error {
	return p.keys.Refresh(ctx)
}

func isPermanentDiscoveryError(err error) bool {
	typed, ok := AsError(err)
	return ok && typed.Code == ErrCodeDiscoveryFailed && typed.cause == nil
}
