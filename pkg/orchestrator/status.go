package orchestrator

import (
	"time"

	"github.com/beam-cloud/llmgate/pkg/types"
)

type BootMetrics struct {
	GPUName      string        `json:"gpu_name,omitempty"`
	ConfigsTried int           `json:"configs_tried"`
	OffersTried  int           `json:"offers_tried"`
	BootTime     time.Duration `json:"boot_time"`
	StartupTime  time.Duration `json:"startup_time"`
}

type Status struct {
	State               types.LaunchState   `json:"state"`
	Launching           bool                `json:"launching"`
	Instance            *types.GPUInstance  `json:"instance,omitempty"`
	Endpoint            string              `json:"endpoint,omitempty"`
	KeepAliveUntil      *time.Time          `json:"keep_alive_until,omitempty"`
	RuntimeMinutes      float64             `json:"runtime_minutes"`
	SessionCost         float64             `json:"session_cost"`
	LastError           string              `json:"last_error,omitempty"`
	Boot                BootMetrics         `json:"boot"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	HealthHistory       []HealthCheckResult `json:"health_history"`
}

// Status returns a point-in-time snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		State:               o.state,
		Launching:           o.asyncLaunching || o.state.InFlight(),
		LastError:           o.lastError,
		Boot:                o.boot,
		ConsecutiveFailures: o.breaker.Failures(),
		HealthHistory:       append([]HealthCheckResult{}, o.healthHistory...),
	}

	if o.instance != nil {
		instance := *o.instance
		s.Instance = &instance
		runtime := time.Since(instance.StartedAt)
		s.RuntimeMinutes = runtime.Minutes()
		s.SessionCost = instance.PricePerHour * runtime.Hours()

		if o.state == types.LaunchStateReady {
			s.Endpoint = o.endpoint
			until := o.keepAliveUntil
			s.KeepAliveUntil = &until
		}
	}

	return s
}
