package types

import "time"

// Backend identifies which LLM execution target serves completions.
type Backend string

const (
	// BackendAnthropic is the metered third-party API.
	BackendAnthropic Backend = "anthropic"
	// BackendVLLM is the self-hosted inference server running on rented GPU hardware.
	BackendVLLM Backend = "vllm"
)

func (b Backend) String() string {
	return string(b)
}

func (b Backend) Valid() bool {
	switch b {
	case BackendAnthropic, BackendVLLM:
		return true
	}
	return false
}

// Metered backends are billed per token.
func (b Backend) Metered() bool {
	switch b {
	case BackendAnthropic:
		return true
	case BackendVLLM:
		return false
	}
	return false
}

func AllBackends() []Backend {
	return []Backend{BackendAnthropic, BackendVLLM}
}

type ModelTier string

const (
	TierHaiku  ModelTier = "haiku"
	TierSonnet ModelTier = "sonnet"
	TierOpus   ModelTier = "opus"

	DefaultModelTier ModelTier = TierHaiku
)

const (
	ModelProviderAnthropic string = "anthropic"
	ModelProviderOpenAI    string = "openai"
)

// ModelConfig describes how to call one (backend, tier) pair.
type ModelConfig struct {
	Provider    string        `json:"provider"`
	ModelName   string        `json:"model_name"`
	APIBase     string        `json:"api_base,omitempty"`
	APIKey      string        `json:"-"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
}

// ChatMessage is a single provider-agnostic chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	ChatRoleSystem    string = "system"
	ChatRoleUser      string = "user"
	ChatRoleAssistant string = "assistant"
)
