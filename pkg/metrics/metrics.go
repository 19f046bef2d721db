package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	metricLLMCalls       = "llm_calls_total"
	metricLLMTokens      = "llm_tokens_total"
	metricLLMLatency     = "llm_latency_seconds"
	metricCostDollars    = "cost_dollars_total"
	metricGPULaunches    = "gpu_launches_total"
	metricGPUBootTime    = "gpu_boot_seconds"
	metricGPUStartupTime = "gpu_startup_seconds"
	metricGPULaunchState = "gpu_launch_state"
	metricGPUHealthy     = "gpu_health_check_ok"
)

// Collector exports tracker activity through a PrometheusRepository. It
// satisfies the observer hooks of the cost tracker, the LLM metrics tracker
// and the GPU orchestrator.
type Collector struct {
	repo *PrometheusRepository
}

func NewCollector(repo *PrometheusRepository) *Collector {
	warnOnRegisterErr(repo.RegisterCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      metricLLMCalls,
		Help:      "Completion calls by backend, model and outcome.",
	}, []string{"backend", "model", "status"}))

	warnOnRegisterErr(repo.RegisterCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      metricLLMTokens,
		Help:      "Tokens consumed by backend, model and direction.",
	}, []string{"backend", "model", "direction"}))

	warnOnRegisterErr(repo.RegisterHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      metricLLMLatency,
		Help:      "Completion latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"backend"}))

	warnOnRegisterErr(repo.RegisterCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      metricCostDollars,
		Help:      "Recorded spend in dollars by backend.",
	}, []string{"backend"}))

	warnOnRegisterErr(repo.RegisterCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      metricGPULaunches,
		Help:      "GPU launch attempts by result.",
	}, []string{"result"}))

	warnOnRegisterErr(repo.RegisterHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      metricGPUBootTime,
		Help:      "Time from instance creation until the instance reports running.",
		Buckets:   prometheus.LinearBuckets(30, 60, 15),
	}, []string{"gpu_name"}))

	warnOnRegisterErr(repo.RegisterHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      metricGPUStartupTime,
		Help:      "Time from launch request until the inference server is ready.",
		Buckets:   prometheus.LinearBuckets(30, 60, 15),
	}, []string{"gpu_name"}))

	warnOnRegisterErr(repo.RegisterGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      metricGPULaunchState,
		Help:      "1 for the current orchestrator launch state, 0 otherwise.",
	}, []string{"state"}))

	warnOnRegisterErr(repo.RegisterGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      metricGPUHealthy,
		Help:      "1 if the last health check of the rented instance passed.",
	}))

	return &Collector{repo: repo}
}

func fqName(name string) string {
	return prometheus.BuildFQName(metricsNamespace, "", name)
}

func (c *Collector) ObserveCall(r CallRecord) {
	status := "success"
	if !r.Success {
		status = "failure"
	}

	if v := c.repo.GetCounterVecHandler(fqName(metricLLMCalls)); v != nil {
		v.WithLabelValues(string(r.Backend), r.Model, status).Inc()
	}

	if v := c.repo.GetCounterVecHandler(fqName(metricLLMTokens)); v != nil {
		v.WithLabelValues(string(r.Backend), r.Model, "input").Add(float64(r.InputTokens))
		v.WithLabelValues(string(r.Backend), r.Model, "output").Add(float64(r.OutputTokens))
	}

	if v := c.repo.GetHistogramVecHandler(fqName(metricLLMLatency)); v != nil {
		v.WithLabelValues(string(r.Backend)).Observe(r.Latency.Seconds())
	}
}

func (c *Collector) ObserveCost(backend types.Backend, cost float64) {
	if v := c.repo.GetCounterVecHandler(fqName(metricCostDollars)); v != nil && cost > 0 {
		v.WithLabelValues(string(backend)).Add(cost)
	}
}

func (c *Collector) ObserveLaunch(gpuName string, success bool, bootTime, startupTime time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}

	if v := c.repo.GetCounterVecHandler(fqName(metricGPULaunches)); v != nil {
		v.WithLabelValues(result).Inc()
	}

	if !success {
		return
	}

	if v := c.repo.GetHistogramVecHandler(fqName(metricGPUBootTime)); v != nil {
		v.WithLabelValues(gpuName).Observe(bootTime.Seconds())
	}

	if v := c.repo.GetHistogramVecHandler(fqName(metricGPUStartupTime)); v != nil {
		v.WithLabelValues(gpuName).Observe(startupTime.Seconds())
	}
}

func (c *Collector) ObserveLaunchState(state types.LaunchState) {
	v := c.repo.GetGaugeVecHandler(fqName(metricGPULaunchState))
	if v == nil {
		return
	}

	for _, s := range []types.LaunchState{
		types.LaunchStateIdle,
		types.LaunchStateSearching,
		types.LaunchStateLaunching,
		types.LaunchStateBooting,
		types.LaunchStateStartingVLLM,
		types.LaunchStateReady,
		types.LaunchStateFailed,
	} {
		value := 0.0
		if s == state {
			value = 1
		}
		v.WithLabelValues(string(s)).Set(value)
	}
}

func (c *Collector) ObserveHealthCheck(healthy bool) {
	g := c.repo.GetGaugeHandler(fqName(metricGPUHealthy))
	if g == nil {
		return
	}

	if healthy {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
