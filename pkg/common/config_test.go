package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/llmgate/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)

	config, err := cm.GetConfig()
	require.NoError(t, err)

	assert.Equal(t, types.BackendAnthropic, config.LLM.DefaultBackend)
	assert.Equal(t, "claude-3-5-haiku-20241022", config.LLM.Anthropic.Models[types.TierHaiku])
	assert.Equal(t, 15*time.Second, config.GPU.PollInterval)
	assert.Equal(t, 2, config.GPU.FallbackWidth)
	assert.Equal(t, 3, config.GPU.HealthFailureThreshold)
	assert.Equal(t, 24*time.Hour, config.Jobs.TTL)
	assert.Equal(t, 0.40, config.GPU.Scoring.Price)
	assert.Equal(t, 15.0, config.Costs.Prices["claude-3-opus-20240229"].InputPerMTok)
	assert.Equal(t, 4.0, config.Costs.Prices["default"].OutputPerMTok)
}

func TestConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gpu:\n  sessionBudget: 0.1\nllm:\n  defaultBackend: vllm\n"), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CONFIG_JSON", `{"costs": {"budgetLimit": 12.5}}`)
	t.Setenv("VAST_API_KEY", "vast-secret")

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)

	config, err := cm.GetConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.1, config.GPU.SessionBudget)
	assert.Equal(t, types.BackendVLLM, config.LLM.DefaultBackend)
	assert.Equal(t, 12.5, config.Costs.BudgetLimit)
	assert.Equal(t, "vast-secret", config.Providers.VastAI.ApiKey)
	assert.True(t, config.Providers.VastAI.Configured())
}

func TestGetConfigParser(t *testing.T) {
	_, err := GetConfigParser(".toml")
	assert.Error(t, err)

	p, err := GetConfigParser(YMLConfigFormat)
	assert.NoError(t, err)
	assert.NotNil(t, p)
}
