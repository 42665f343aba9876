package cmd

import (
	"fmt"
	"time"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
)

type clientFactory struct {
	timeout   time.Duration
	userAgent string
}

func newClientFactory() *clientFactory {
	return &clientFactory{
		timeout:   flags.Timeout,
		userAgent: fmt.Sprintf("supportsync/%s", version),
	}
}

// account resolves the stored account and returns a client for it.
func (f *clientFactory) account() (*api.Client, config.ClientConfig, error) {
	cfg, err := config.ResolveClientConfig(config.Overrides{})
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	return f.newClient(cfg), cfg, nil
}

func (f *clientFactory) newClient(cfg config.ClientConfig) *api.Client {
	client := api.New(cfg.BaseURL, cfg.Token)
	if f.timeout > 0 {
		client.HTTP.Timeout = f.timeout
	}
	if f.userAgent != "" {
		client.UserAgent = f.userAgent
	}
	applyRetryOverrides(client)
	return client
}

func applyRetryOverrides(client *api.Client) {
	cfg := client.RetryConfig

	if flags.MaxRateLimitRetriesSet {
		cfg.MaxRateLimitRetries = flags.MaxRateLimitRetries
	}
	if flags.Max5xxRetriesSet {
		cfg.Max5xxRetries = flags.Max5xxRetries
	}
	if flags.RateLimitDelaySet {
		cfg.RateLimitBaseDelay = flags.RateLimitDelay
	}
	if flags.ServerErrorDelaySet {
		cfg.ServerErrorRetryDelay = flags.ServerErrorDelay
	}
	if flags.CircuitBreakerThresholdSet {
		cfg.CircuitBreakerThreshold = flags.CircuitBreakerThreshold
	}
	if flags.CircuitBreakerResetTimeSet {
		cfg.CircuitBreakerResetTime = flags.CircuitBreakerResetTime
	}

	client.SetRetryConfig(cfg)
}

// getClient creates an API client from stored credentials
func getClient() (*api.Client, config.ClientConfig, error) {
	return newClientFactory().account()
}
