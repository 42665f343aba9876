package config

import (
	"fmt"
	"strings"

	"github.com/taleforge/supportsync/internal/api"
)

// ClientConfig contains resolved API client settings.
type ClientConfig struct {
	BaseURL string
	Token   string
	Role    api.Role
}

// Overrides are command-line values that win over the stored account.
type Overrides struct {
	BaseURL string
	Token   string
	Role    api.Role
}

// ResolveClientConfig merges the stored account with overrides. A complete
// set of overrides works without any stored account.
func ResolveClientConfig(o Overrides) (ClientConfig, error) {
	var cfg ClientConfig
	account, err := LoadAccount()
	if err == nil {
		cfg = ClientConfig{BaseURL: account.BaseURL, Token: account.APIToken, Role: account.ViewerRole()}
	} else if o.BaseURL == "" || o.Token == "" {
		return ClientConfig{}, err
	}

	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(o.BaseURL), "/")
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.Role != "" {
		cfg.Role = o.Role
	}
	if cfg.Role == "" {
		cfg.Role = api.RoleUser
	}

	merged := Account{BaseURL: cfg.BaseURL, APIToken: cfg.Token, Role: cfg.Role}
	if err := merged.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid client config: %w", err)
	}
	return cfg, nil
}
