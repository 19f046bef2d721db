package providers

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/types"
)

// ServerlessProvider is an always-on inference endpoint with no instance
// lifecycle. Launching it only means pointing the vLLM backend at it.
type ServerlessProvider struct {
	config types.ServerlessProviderConfig
	prober Prober
}

func NewServerlessProvider(config types.ServerlessProviderConfig, prober Prober) *ServerlessProvider {
	if prober == nil {
		prober = NewHTTPProber(config.Timeout, config.ApiKey).WithHealthPath(config.HealthCheckPath)
	}
	return &ServerlessProvider{config: config, prober: prober}
}

func (s *ServerlessProvider) Name() types.MachineProvider {
	return types.ProviderServerless
}

func (s *ServerlessProvider) Endpoint() string {
	return strings.TrimRight(s.config.EndpointURL, "/")
}

func (s *ServerlessProvider) APIKey() string {
	return s.config.ApiKey
}

func (s *ServerlessProvider) HealthCheckEnabled() bool {
	return s.config.HealthCheck
}

func (s *ServerlessProvider) HealthCheck(ctx context.Context) error {
	err := s.prober.Healthy(ctx, s.Endpoint())
	if err != nil {
		log.Warn().Str("endpoint", s.Endpoint()).Err(err).Msg("serverless endpoint health check failed")
	}
	return err
}
