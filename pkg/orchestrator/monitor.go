package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const maxHealthHistory = 20

type HealthCheckResult struct {
	Timestamp time.Time `json:"timestamp"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
}

// keepAliveMonitor destroys the instance once its keep-alive deadline passes.
func (o *Orchestrator) keepAliveMonitor(ctx context.Context, instanceId int64) {
	ticker := time.NewTicker(o.config.KeepAliveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			tracked := o.instance != nil && o.instance.ID == instanceId
			expired := tracked && !time.Now().Before(o.keepAliveUntil)
			o.mu.Unlock()

			if !tracked {
				return
			}
			if !expired {
				continue
			}

			log.Info().Int64("instance_id", instanceId).Msg("keep-alive expired")

			destroyCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			if err := o.destroy(destroyCtx, instanceId, "keep-alive expired"); err != nil {
				log.Error().Int64("instance_id", instanceId).Err(err).Msg("failed to destroy expired instance")
			}
			cancel()
			return
		}
	}
}

// healthMonitor probes the inference server and tears the instance down
// after too many consecutive failures, if auto-destroy is enabled.
func (o *Orchestrator) healthMonitor(ctx context.Context, instanceId int64, endpoint string) {
	ticker := time.NewTicker(o.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, o.config.ReadinessTimeout)
		err := o.prober.Healthy(probeCtx, endpoint)
		cancel()

		if ctx.Err() != nil {
			return
		}

		result := HealthCheckResult{Timestamp: time.Now(), Healthy: err == nil}
		if err != nil {
			result.Error = err.Error()
		}

		o.mu.Lock()
		if o.instance == nil || o.instance.ID != instanceId {
			o.mu.Unlock()
			return
		}
		o.healthHistory = append(o.healthHistory, result)
		if len(o.healthHistory) > maxHealthHistory {
			o.healthHistory = o.healthHistory[len(o.healthHistory)-maxHealthHistory:]
		}
		breaker := o.breaker
		o.mu.Unlock()

		o.observer.ObserveHealthCheck(result.Healthy)

		if err == nil {
			breaker.RecordSuccess()
			continue
		}

		log.Warn().Int64("instance_id", instanceId).Int("consecutive_failures", breaker.Failures()).Err(err).Msg("health check failed")

		if !breaker.RecordFailure() {
			continue
		}

		if !o.config.AutoDestroyOnError {
			log.Error().Int64("instance_id", instanceId).Msg("instance unhealthy, auto-destroy disabled")
			continue
		}

		log.Error().Int64("instance_id", instanceId).Msg("instance unhealthy, destroying")

		destroyCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := o.destroy(destroyCtx, instanceId, "health checks failed"); err != nil {
			log.Error().Int64("instance_id", instanceId).Err(err).Msg("failed to destroy unhealthy instance")
		}
		cancel()
		return
	}
}
