package session

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Config carries the knobs the session subsystem needs. Values load from the
// environment; the zero value is usable for tests.
type Config struct {
	// BaseURL is the first-party backend API root.
	BaseURL string `env:"SESSION_API_URL"`

	// ProviderIssuer is the federated identity provider's issuer URL.
	ProviderIssuer string `env:"SESSION_PROVIDER_ISSUER"`

	// ProviderClientID identifies this client at the provider.
	ProviderClientID string `env:"SESSION_PROVIDER_CLIENT_ID"`

	// ResendCooldown drives the verification resend-cooldown display.
	ResendCooldown time.Duration `env:"SESSION_RESEND_COOLDOWN" envDefault:"60s"`

	// Debug enables payload dumps in debug logging.
	Debug bool `env:"SESSION_DEBUG"`
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to parse environment config")
	}
	return cfg, nil
}

func (c Config) GetBaseURL() string          { return c.BaseURL }
func (c Config) GetProviderIssuer() string   { return c.ProviderIssuer }
func (c Config) GetProviderClientID() string { return c.ProviderClientID }
func (c Config) GetDebug() bool              { return c.Debug }

func (c Config) GetResendCooldown() time.Duration {
	if c.ResendCooldown <= 0 {
		return DefaultResendCooldown
	}
	return c.ResendCooldown
}
