package core

import (
	"fmt"
	"strings"
	"time"
)

type SessionConfig struct {
	RefreshLeadWindow time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	IdentityTimeout   time.Duration `koanf:"identity_timeout" mapstructure:"identity_timeout"`
	RefreshLockTTL    time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
}

type CredentialConfig struct {
	ProviderID       string        `koanf:"provider_id" mapstructure:"provider_id"`
	RenewalWindow    time.Duration `koanf:"renewal_window" mapstructure:"renewal_window"`
	AuthorizationTTL time.Duration `koanf:"authorization_ttl" mapstructure:"authorization_ttl"`
	ProviderTimeout  time.Duration `koanf:"provider_timeout" mapstructure:"provider_timeout"`
	RefreshLockTTL   time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
	DefaultTokenTTL  time.Duration `koanf:"default_token_ttl" mapstructure:"default_token_ttl"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Session     SessionConfig    `koanf:"session" mapstructure:"session"`
	Credential  CredentialConfig `koanf:"credential" mapstructure:"credential"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "credentials",
		Session: SessionConfig{
			RefreshLeadWindow: 2 * time.Minute,
			IdentityTimeout:   10 * time.Second,
			RefreshLockTTL:    30 * time.Second,
		},
		Credential: CredentialConfig{
			ProviderID:       "youtube",
			RenewalWindow:    5 * time.Minute,
			AuthorizationTTL: 15 * time.Minute,
			ProviderTimeout:  10 * time.Second,
			RefreshLockTTL:   30 * time.Second,
			DefaultTokenTTL:  time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Session.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: session.refresh_lead_window must be >= 0")
	}
	if c.Session.IdentityTimeout <= 0 {
		return fmt.Errorf("core: session.identity_timeout must be > 0")
	}
	if c.Session.RefreshLockTTL < c.Session.IdentityTimeout {
		return fmt.Errorf("core: session.refresh_lock_ttl must be >= session.identity_timeout")
	}
	if strings.TrimSpace(c.Credential.ProviderID) == "" {
		return fmt.Errorf("core: credential.provider_id is required")
	}
	if c.Credential.RenewalWindow < 0 {
		return fmt.Errorf("core: credential.renewal_window must be >= 0")
	}
	if c.Credential.AuthorizationTTL <= 0 {
		return fmt.Errorf("core: credential.authorization_ttl must be > 0")
	}
	if c.Credential.ProviderTimeout <= 0 {
		return fmt.Errorf("core: credential.provider_timeout must be > 0")
	}
	if c.Credential.RefreshLockTTL < c.Credential.ProviderTimeout {
		return fmt.Errorf("core: credential.refresh_lock_ttl must be >= credential.provider_timeout")
	}
	if c.Credential.DefaultTokenTTL <= 0 {
		return fmt.Errorf("core: credential.default_token_ttl must be > 0")
	}
	return nil
}
