package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/llmgate/pkg/types"
)

func scrape(t *testing.T, repo *PrometheusRepository) string {
	srv := httptest.NewServer(repo.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRegisterTwiceFails(t *testing.T) {
	repo := NewPrometheusRepository()
	opts := prometheus.CounterOpts{Namespace: metricsNamespace, Name: "things_total"}

	require.NoError(t, repo.RegisterCounterVec(opts, []string{"kind"}))
	assert.Error(t, repo.RegisterCounterVec(opts, []string{"kind"}))
	assert.NotNil(t, repo.GetCounterVecHandler("llmgate_things_total"))
	assert.Nil(t, repo.GetCounterVecHandler("missing"))
}

func TestCollectorExportsObservations(t *testing.T) {
	repo := NewPrometheusRepository()
	c := NewCollector(repo)

	c.ObserveCall(CallRecord{Backend: types.BackendAnthropic, Model: "claude", InputTokens: 10, OutputTokens: 5, Latency: time.Second, Success: true})
	c.ObserveCall(CallRecord{Backend: types.BackendVLLM, Model: "llama", Success: false})
	c.ObserveCost(types.BackendAnthropic, 0.25)
	c.ObserveLaunch("RTX 4090", true, time.Minute, 3*time.Minute)
	c.ObserveLaunchState(types.LaunchStateReady)
	c.ObserveHealthCheck(true)

	body := scrape(t, repo)
	assert.Contains(t, body, `llmgate_llm_calls_total{backend="anthropic",model="claude",status="success"} 1`)
	assert.Contains(t, body, `llmgate_llm_calls_total{backend="vllm",model="llama",status="failure"} 1`)
	assert.Contains(t, body, `llmgate_llm_tokens_total{backend="anthropic",direction="input",model="claude"} 10`)
	assert.Contains(t, body, `llmgate_cost_dollars_total{backend="anthropic"} 0.25`)
	assert.Contains(t, body, `llmgate_gpu_launches_total{result="success"} 1`)
	assert.Contains(t, body, `llmgate_gpu_launch_state{state="ready"} 1`)
	assert.Contains(t, body, `llmgate_gpu_launch_state{state="idle"} 0`)
	assert.Contains(t, body, `llmgate_gpu_health_check_ok 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestCollectorsShareRepository(t *testing.T) {
	repo := NewPrometheusRepository()
	NewCollector(repo)

	// A second collector reuses the vectors already registered.
	c := NewCollector(repo)
	c.ObserveCost(types.BackendVLLM, 1)

	assert.Contains(t, scrape(t, repo), `llmgate_cost_dollars_total{backend="vllm"} 1`)
}
