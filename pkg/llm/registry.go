package llm

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	vllmAPIPath string = "/v1"

	// AnyTier keys the single vLLM model in RegistryInfo.
	AnyTier types.ModelTier = "any"
)

// ModelRegistry holds the static model configuration per (backend, tier) and
// the currently active backend. The vLLM endpoint is injected at read time.
type ModelRegistry struct {
	mu           sync.RWMutex
	anthropic    map[types.ModelTier]types.ModelConfig
	vllm         types.ModelConfig
	defaultTier  types.ModelTier
	current      types.Backend
	vllmEndpoint string
	vllmAPIKey   string
}

type RegistryInfo struct {
	CurrentBackend types.Backend                                `json:"current_backend"`
	VLLMEndpoint   string                                       `json:"vllm_endpoint"`
	DefaultTier    types.ModelTier                              `json:"default_tier"`
	Models         map[types.Backend]map[types.ModelTier]string `json:"models"`
}

func NewModelRegistry(config types.LLMConfig) *ModelRegistry {
	defaultTier := config.DefaultTier
	if defaultTier == "" {
		defaultTier = types.DefaultModelTier
	}

	anthropic := make(map[types.ModelTier]types.ModelConfig, len(config.Anthropic.Models))
	for tier, model := range config.Anthropic.Models {
		anthropic[tier] = types.ModelConfig{
			Provider:    types.ModelProviderAnthropic,
			ModelName:   model,
			APIBase:     config.Anthropic.BaseURL,
			APIKey:      config.Anthropic.ApiKey,
			MaxTokens:   config.Anthropic.MaxTokens,
			Temperature: config.Anthropic.Temperature,
			Timeout:     config.Anthropic.Timeout,
			MaxRetries:  config.Anthropic.MaxRetries,
		}
	}

	r := &ModelRegistry{
		anthropic: anthropic,
		vllm: types.ModelConfig{
			Provider:    types.ModelProviderOpenAI,
			ModelName:   config.VLLM.ModelName,
			APIKey:      config.VLLM.ApiKey,
			MaxTokens:   config.VLLM.MaxTokens,
			Temperature: config.VLLM.Temperature,
			Timeout:     config.VLLM.Timeout,
			MaxRetries:  config.VLLM.MaxRetries,
		},
		defaultTier:  defaultTier,
		current:      types.BackendAnthropic,
		vllmEndpoint: strings.TrimSpace(config.VLLM.Endpoint),
	}

	if config.DefaultBackend == types.BackendVLLM {
		if err := r.SwitchBackend(types.BackendVLLM); err != nil {
			log.Warn().Err(err).Msg("default backend unavailable, using anthropic")
		}
	}

	return r
}

func (r *ModelRegistry) CurrentBackend() types.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Resolve returns the model config for the active backend.
func (r *ModelRegistry) Resolve(tier types.ModelTier) (types.ModelConfig, types.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, err := r.resolveLocked(r.current, tier)
	return config, r.current, err
}

func (r *ModelRegistry) ResolveFor(backend types.Backend, tier types.ModelTier) (types.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(backend, tier)
}

func (r *ModelRegistry) resolveLocked(backend types.Backend, tier types.ModelTier) (types.ModelConfig, error) {
	switch backend {
	case types.BackendAnthropic:
		if config, ok := r.anthropic[tier]; ok {
			return config, nil
		}
		if config, ok := r.anthropic[r.defaultTier]; ok {
			return config, nil
		}
		return types.ModelConfig{}, &types.ErrInvalidBackendState{Backend: backend, Reason: "no model configured for tier " + string(tier)}

	case types.BackendVLLM:
		// Tier is ignored, the self-hosted server serves one model.
		config := r.vllm
		if r.vllmEndpoint == "" {
			return config, &types.ErrInvalidBackendState{Backend: backend, Reason: "no endpoint configured"}
		}
		config.APIBase = apiBase(r.vllmEndpoint)
		if r.vllmAPIKey != "" {
			config.APIKey = r.vllmAPIKey
		}
		return config, nil
	}

	return types.ModelConfig{}, &types.ErrInvalidBackendState{Backend: backend, Reason: "unknown backend"}
}

func apiBase(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, vllmAPIPath) {
		return endpoint
	}
	return endpoint + vllmAPIPath
}

// SetVLLMEndpoint points the vLLM backend at endpoint. A non-empty apiKey
// replaces the configured vLLM key for as long as the endpoint is set.
func (r *ModelRegistry) SetVLLMEndpoint(endpoint, apiKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vllmEndpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	r.vllmAPIKey = apiKey
	log.Info().Str("endpoint", r.vllmEndpoint).Bool("endpoint_key", apiKey != "").Msg("vllm endpoint configured")
}

// ClearVLLMEndpoint removes the endpoint and falls back to anthropic if vLLM was active.
func (r *ModelRegistry) ClearVLLMEndpoint() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vllmEndpoint = ""
	r.vllmAPIKey = ""
	if r.current == types.BackendVLLM {
		r.current = types.BackendAnthropic
		log.Info().Msg("vllm endpoint cleared, switched back to anthropic")
	}
}

func (r *ModelRegistry) VLLMEndpoint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vllmEndpoint
}

func (r *ModelRegistry) HasAnthropicCredential() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, config := range r.anthropic {
		if config.APIKey != "" {
			return true
		}
	}
	return false
}

func (r *ModelRegistry) SwitchBackend(target types.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch target {
	case types.BackendAnthropic:
	case types.BackendVLLM:
		if r.vllmEndpoint == "" {
			return &types.ErrInvalidBackendState{Backend: target, Reason: "cannot switch before an endpoint is configured"}
		}
	default:
		return &types.ErrInvalidBackendState{Backend: target, Reason: "unknown backend"}
	}

	if r.current != target {
		log.Info().Str("from", string(r.current)).Str("to", string(target)).Msg("switched llm backend")
	}
	r.current = target
	return nil
}

func (r *ModelRegistry) Info() RegistryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	anthropic := make(map[types.ModelTier]string, len(r.anthropic))
	for tier, config := range r.anthropic {
		anthropic[tier] = config.ModelName
	}

	return RegistryInfo{
		CurrentBackend: r.current,
		VLLMEndpoint:   r.vllmEndpoint,
		DefaultTier:    r.defaultTier,
		Models: map[types.Backend]map[types.ModelTier]string{
			types.BackendAnthropic: anthropic,
			types.BackendVLLM:      {AnyTier: r.vllm.ModelName},
		},
	}
}
