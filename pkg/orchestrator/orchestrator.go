package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/common"
	"github.com/beam-cloud/llmgate/pkg/costs"
	"github.com/beam-cloud/llmgate/pkg/gpu"
	"github.com/beam-cloud/llmgate/pkg/providers"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	defaultPollInterval           time.Duration = 15 * time.Second
	defaultMaxStartupTime         time.Duration = 15 * time.Minute
	defaultReadinessTimeout       time.Duration = 10 * time.Second
	defaultKeepAliveCheckInterval time.Duration = 60 * time.Second
	defaultHealthCheckInterval    time.Duration = 30 * time.Second
	defaultHealthFailureThreshold int           = 3
	defaultKeepAliveMinutes       int           = 30
	defaultInternalPort           int           = 8000
	defaultDiskGB                 int           = 60
	defaultRunType                string        = "args"
	cleanupTimeout                time.Duration = 30 * time.Second
)

// CostLedger is the part of the cost tracker the orchestrator reads and charges.
type CostLedger interface {
	TotalCost() float64
	AddGPUSessionAtRate(runtime time.Duration, hourlyRate float64) float64
}

// LaunchObserver receives launch lifecycle events, e.g. for metrics export.
type LaunchObserver interface {
	ObserveLaunch(gpuName string, success bool, bootTime, startupTime time.Duration)
	ObserveLaunchState(state types.LaunchState)
	ObserveHealthCheck(healthy bool)
}

// Locker serializes launches across replicas sharing one marketplace account.
type Locker interface {
	Acquire(ctx context.Context, key string, opts common.RedisLockOptions) error
	Release(key string) error
}

type Option func(*Orchestrator)

func WithProber(p providers.Prober) Option {
	return func(o *Orchestrator) {
		o.prober = p
	}
}

func WithFallbackConfigs(configs []types.GPUConfig) Option {
	return func(o *Orchestrator) {
		o.fallbacks = append([]types.GPUConfig(nil), configs...)
		gpu.SortByPriority(o.fallbacks)
	}
}

func WithObserver(observer LaunchObserver) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

func WithLaunchLock(locker Locker, clusterName string) Option {
	return func(o *Orchestrator) {
		o.locker = locker
		o.lockKey = common.RedisKeys.GPULaunchLock(clusterName)
	}
}

// Orchestrator owns at most one rented GPU instance and drives it through
// search, launch, boot, readiness, keep-alive and destroy.
type Orchestrator struct {
	market    providers.Marketplace
	costs     CostLedger
	prober    providers.Prober
	config    types.GPUOrchestratorConfig
	fallbacks []types.GPUConfig
	scorer    gpu.Scorer
	observer  LaunchObserver
	locker    Locker
	lockKey   string

	// launchMu is held for the whole launch sequence.
	launchMu sync.Mutex

	mu             sync.Mutex
	state          types.LaunchState
	instance       *types.GPUInstance
	endpoint       string
	keepAliveUntil time.Time
	lastError      string
	boot           BootMetrics
	healthHistory  []HealthCheckResult
	breaker        *circuitBreaker
	monitorCancel  context.CancelFunc
	asyncLaunching bool
	launchCancel   context.CancelFunc
	onReady        []func(endpoint string)
	onDestroyed    []func()
}

func New(market providers.Marketplace, ledger CostLedger, config types.GPUOrchestratorConfig, opts ...Option) *Orchestrator {
	config = withDefaults(config)

	o := &Orchestrator{
		market:    market,
		costs:     ledger,
		config:    config,
		fallbacks: gpu.DefaultFallbackConfigs(),
		scorer:    gpu.NewScorer(config.Scoring),
		observer:  noopObserver{},
		state:     types.LaunchStateIdle,
		breaker:   newCircuitBreaker(config.HealthFailureThreshold),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.prober == nil {
		o.prober = providers.NewHTTPProber(config.ReadinessTimeout, "")
	}

	return o
}

func withDefaults(c types.GPUOrchestratorConfig) types.GPUOrchestratorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxStartupTime <= 0 {
		c.MaxStartupTime = defaultMaxStartupTime
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = defaultReadinessTimeout
	}
	if c.KeepAliveCheckInterval <= 0 {
		c.KeepAliveCheckInterval = defaultKeepAliveCheckInterval
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.HealthFailureThreshold <= 0 {
		c.HealthFailureThreshold = defaultHealthFailureThreshold
	}
	if c.DefaultKeepAliveMin <= 0 {
		c.DefaultKeepAliveMin = defaultKeepAliveMinutes
	}
	if c.InternalPort <= 0 {
		c.InternalPort = defaultInternalPort
	}
	if c.DiskGB <= 0 {
		c.DiskGB = defaultDiskGB
	}
	if c.RunType == "" {
		c.RunType = defaultRunType
	}
	if c.FallbackWidth < 0 {
		c.FallbackWidth = 0
	}
	return c
}

// OnReady registers a callback invoked with the endpoint after every successful launch.
func (o *Orchestrator) OnReady(fn func(endpoint string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReady = append(o.onReady, fn)
}

// OnDestroyed registers a callback invoked after the tracked instance is released.
func (o *Orchestrator) OnDestroyed(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onDestroyed = append(o.onDestroyed, fn)
}

func (o *Orchestrator) State() types.LaunchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Endpoint returns the ready endpoint, or "" if no instance is ready.
func (o *Orchestrator) Endpoint() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != types.LaunchStateReady || o.instance == nil {
		return ""
	}
	return o.endpoint
}

func (o *Orchestrator) setState(state types.LaunchState) {
	o.mu.Lock()
	previous := o.state
	o.state = state
	o.mu.Unlock()

	if previous != state {
		log.Info().Str("from", string(previous)).Str("to", string(state)).Msg("gpu launch state changed")
	}
	o.observer.ObserveLaunchState(state)
}

func (o *Orchestrator) keepAliveMinutes(requested int) int {
	if requested > 0 {
		return requested
	}
	return o.config.DefaultKeepAliveMin
}

// fastPath returns the cached endpoint when a ready instance is still within
// its keep-alive window, extending the window if more time is requested.
func (o *Orchestrator) fastPath(keepAliveMinutes int) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.instance == nil || o.state != types.LaunchStateReady {
		return "", false
	}

	now := time.Now()
	if !now.Before(o.keepAliveUntil) {
		return "", false
	}

	if requested := now.Add(time.Duration(keepAliveMinutes) * time.Minute); requested.After(o.keepAliveUntil) {
		o.keepAliveUntil = requested
		log.Debug().Int64("instance_id", o.instance.ID).Time("keep_alive_until", requested).Msg("extended keep-alive")
	}

	return o.endpoint, true
}

// EnsureGPUReady returns a live inference endpoint, launching an instance if needed.
func (o *Orchestrator) EnsureGPUReady(ctx context.Context, keepAliveMinutes int) (string, error) {
	keepAlive := o.keepAliveMinutes(keepAliveMinutes)

	if endpoint, ok := o.fastPath(keepAlive); ok {
		return endpoint, nil
	}

	o.launchMu.Lock()
	defer o.launchMu.Unlock()

	// A concurrent caller may have finished launching while we waited.
	if endpoint, ok := o.fastPath(keepAlive); ok {
		return endpoint, nil
	}

	if o.hasInstance() {
		if err := o.destroy(ctx, 0, "replaced by new launch"); err != nil {
			log.Error().Err(err).Msg("failed to release previous instance")
		}
	}

	if o.locker != nil {
		if err := o.locker.Acquire(ctx, o.lockKey, common.RedisLockOptions{TtlS: int(o.config.MaxStartupTime.Seconds()) + 60}); err != nil {
			return "", &types.ErrLaunchInProgress{State: o.State()}
		}
		defer func() {
			if err := o.locker.Release(o.lockKey); err != nil {
				log.Warn().Err(err).Msg("failed to release launch lock")
			}
		}()
	}

	return o.launch(ctx, keepAlive)
}

func (o *Orchestrator) hasInstance() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instance != nil
}

func (o *Orchestrator) tracks(instanceId int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instance != nil && o.instance.ID == instanceId
}

type launchedOffer struct {
	instanceId   int64
	createdAt    time.Time
	offer        types.Offer
	configsTried int
	offersTried  int
}

func (o *Orchestrator) launch(ctx context.Context, keepAliveMinutes int) (string, error) {
	o.mu.Lock()
	o.lastError = ""
	o.boot = BootMetrics{}
	o.mu.Unlock()

	if limit := o.config.GlobalBudget; limit > 0 {
		if spent := o.costs.TotalCost(); spent >= limit {
			return "", o.fail("", &types.ErrBudgetExceeded{Checkpoint: types.CheckpointGlobal, Spent: spent, Limit: limit})
		}
	}

	o.setState(types.LaunchStateSearching)

	launched, err := o.searchAndLaunch(ctx)
	if err != nil {
		return "", o.fail("", err)
	}

	offer := launched.offer
	o.mu.Lock()
	o.instance = &types.GPUInstance{
		ID:           launched.instanceId,
		GPUName:      offer.GPUName,
		PricePerHour: offer.PricePerHour,
		OfferID:      offer.ID,
		VRAMGB:       offer.VRAMGB(),
		StartedAt:    launched.createdAt,
	}
	o.boot.ConfigsTried = launched.configsTried
	o.boot.OffersTried = launched.offersTried
	o.boot.GPUName = offer.GPUName
	o.mu.Unlock()

	estimated := costs.EstimateGPUCost(time.Duration(keepAliveMinutes)*time.Minute, offer.PricePerHour)
	if limit := o.config.SessionBudget; limit > 0 && estimated > limit {
		err := &types.ErrBudgetExceeded{Checkpoint: types.CheckpointSession, Spent: estimated, Limit: limit}
		o.cleanupAfterFailure(launched.instanceId, err)
		return "", o.fail(offer.GPUName, err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, o.config.MaxStartupTime)
	defer cancel()

	o.setState(types.LaunchStateBooting)
	ip, port, err := o.waitForBoot(bootCtx, launched.instanceId)
	if err != nil {
		err = o.launchError(ctx, bootCtx, types.LaunchStateBooting, err)
		o.cleanupAfterFailure(launched.instanceId, err)
		return "", o.fail(offer.GPUName, err)
	}
	// Boot and startup time are measured from instance creation, not from
	// the start of the offer search.
	bootTime := time.Since(launched.createdAt)

	endpoint := fmt.Sprintf("http://%s:%d", ip, port)

	o.setState(types.LaunchStateStartingVLLM)
	if err := o.waitForReady(bootCtx, endpoint); err != nil {
		err = o.launchError(ctx, bootCtx, types.LaunchStateStartingVLLM, err)
		o.cleanupAfterFailure(launched.instanceId, err)
		return "", o.fail(offer.GPUName, err)
	}
	startupTime := time.Since(launched.createdAt)

	monitorCtx, monitorCancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if o.instance == nil || o.instance.ID != launched.instanceId {
		// Destroyed underneath us while booting.
		o.mu.Unlock()
		monitorCancel()
		return "", o.fail(offer.GPUName, &types.ErrNotFound{Resource: "instance", Id: fmt.Sprintf("%d", launched.instanceId)})
	}
	o.instance.PublicIP = ip
	o.instance.ExternalPort = port
	o.endpoint = endpoint
	o.keepAliveUntil = time.Now().Add(time.Duration(keepAliveMinutes) * time.Minute)
	o.boot.BootTime = bootTime
	o.boot.StartupTime = startupTime
	o.healthHistory = nil
	o.breaker = newCircuitBreaker(o.config.HealthFailureThreshold)
	o.monitorCancel = monitorCancel
	callbacks := append([]func(string){}, o.onReady...)
	o.mu.Unlock()

	o.setState(types.LaunchStateReady)
	o.observer.ObserveLaunch(offer.GPUName, true, bootTime, startupTime)

	log.Info().
		Int64("instance_id", launched.instanceId).
		Str("gpu_name", offer.GPUName).
		Float64("price_per_hour", offer.PricePerHour).
		Str("endpoint", endpoint).
		Dur("boot_time", bootTime).
		Dur("startup_time", startupTime).
		Msg("gpu instance ready")

	go o.keepAliveMonitor(monitorCtx, launched.instanceId)
	go o.healthMonitor(monitorCtx, launched.instanceId, endpoint)

	for _, fn := range callbacks {
		fn(endpoint)
	}

	return endpoint, nil
}

// launchError maps a boot failure onto a timeout when the startup deadline
// expired and the caller did not cancel.
func (o *Orchestrator) launchError(parent, bootCtx context.Context, stage types.LaunchState, err error) error {
	if parent.Err() == nil && errors.Is(bootCtx.Err(), context.DeadlineExceeded) {
		return &types.ErrLaunchTimeout{Stage: string(stage), Timeout: o.config.MaxStartupTime}
	}
	return err
}

func (o *Orchestrator) fail(gpuName string, err error) error {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()

	o.setState(types.LaunchStateFailed)
	o.observer.ObserveLaunch(gpuName, false, 0, 0)

	log.Error().Err(err).Bool("operator_actionable", types.IsOperatorActionable(err)).Msg("gpu launch failed")
	return err
}

// cleanupAfterFailure destroys a partially launched instance. Timeouts only
// destroy when auto-destroy is enabled. Cleanup errors are logged, never returned.
func (o *Orchestrator) cleanupAfterFailure(instanceId int64, cause error) {
	var timeoutErr *types.ErrLaunchTimeout
	if errors.As(cause, &timeoutErr) && !o.config.AutoDestroyOnError {
		log.Warn().Int64("instance_id", instanceId).Msg("auto-destroy disabled, leaving timed out instance running")
		o.forget(instanceId)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := o.destroy(ctx, instanceId, "launch failed"); err != nil {
		log.Error().Int64("instance_id", instanceId).Err(err).Msg("cleanup after failed launch did not succeed")
	}
}

// forget drops local state for an instance without destroying it remotely.
func (o *Orchestrator) forget(instanceId int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.instance != nil && o.instance.ID == instanceId {
		o.instance = nil
		o.endpoint = ""
	}
}

func (o *Orchestrator) searchAndLaunch(ctx context.Context) (*launchedOffer, error) {
	var lastErr error
	offersTried := 0

	for i, config := range o.fallbacks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		offers, err := o.market.SearchOffers(ctx, providers.SearchParams{
			GPUName:       config.GPUName,
			MinVRAMGB:     float64(config.MinVRAMGB),
			MaxPrice:      config.MaxPricePerHour,
			VerifiedOnly:  o.config.VerifiedOnly,
			AvailableOnly: true,
		})
		if err != nil {
			if isFatalMarketplaceError(err) {
				return nil, err
			}
			log.Warn().Str("gpu_name", config.GPUName).Int("priority", config.Priority).Err(err).Msg("offer search failed, trying next config")
			lastErr = err
			continue
		}

		ranked := o.scorer.RankOffers(config, offers)
		if len(ranked) == 0 {
			log.Info().Str("gpu_name", config.GPUName).Int("priority", config.Priority).Int("offers", len(offers)).Msg("no compatible offers")
			continue
		}

		attempts := 1 + o.config.FallbackWidth
		if attempts > len(ranked) {
			attempts = len(ranked)
		}

		for _, candidate := range ranked[:attempts] {
			o.setState(types.LaunchStateLaunching)
			offersTried++

			created, err := o.market.CreateInstance(ctx, o.createRequest(candidate.Offer.ID))
			if err != nil {
				if isFatalMarketplaceError(err) || ctx.Err() != nil {
					return nil, err
				}
				log.Warn().Int64("offer_id", candidate.Offer.ID).Str("gpu_name", config.GPUName).Err(err).Msg("launch failed, trying next offer")
				lastErr = err
				continue
			}

			log.Info().
				Int64("offer_id", candidate.Offer.ID).
				Int64("instance_id", created.ID).
				Str("gpu_name", candidate.Offer.GPUName).
				Float64("score", candidate.Score).
				Float64("price_per_hour", candidate.Offer.PricePerHour).
				Msg("launched gpu instance")

			return &launchedOffer{
				instanceId:   created.ID,
				createdAt:    time.Now(),
				offer:        candidate.Offer,
				configsTried: i + 1,
				offersTried:  offersTried,
			}, nil
		}
	}

	return nil, &types.ErrNoGPUAvailable{ConfigsTried: len(o.fallbacks), LastErr: lastErr}
}

func isFatalMarketplaceError(err error) bool {
	var authErr *types.ErrAuth
	return errors.As(err, &authErr)
}

func (o *Orchestrator) createRequest(offerID int64) providers.CreateInstanceRequest {
	return providers.CreateInstanceRequest{
		OfferID:    offerID,
		Image:      o.config.Image,
		DiskGB:     o.config.DiskGB,
		Label:      o.config.Label,
		DockerArgs: o.config.DockerArgs,
		Env:        o.config.Env,
		Ports:      []int{o.config.InternalPort},
		RunType:    o.config.RunType,
		OnStart:    o.config.OnStart,
	}
}

// waitForBoot polls until the instance runs with a public ip and a mapped
// port for the inference server. Not-found is expected right after creation.
func (o *Orchestrator) waitForBoot(ctx context.Context, instanceId int64) (string, int, error) {
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		if !o.tracks(instanceId) {
			return "", 0, &types.ErrNotFound{Resource: "instance", Id: fmt.Sprintf("%d", instanceId)}
		}

		instance, err := o.market.GetInstance(ctx, instanceId)
		switch {
		case err == nil:
			if instance.Terminated() {
				return "", 0, &types.ErrInstanceTerminated{InstanceId: instanceId, Status: instance.ActualStatus, Message: instance.StatusMsg}
			}

			port, mapped := instance.ExternalPort(o.config.InternalPort)
			if instance.ActualStatus == types.InstanceStatusRunning && instance.PublicIP() != "" && mapped {
				return instance.PublicIP(), port, nil
			}

			log.Debug().Int64("instance_id", instanceId).Str("status", instance.ActualStatus).Bool("port_mapped", mapped).Msg("waiting for instance")

		case ctx.Err() != nil:
			return "", 0, ctx.Err()

		case types.IsNotFound(err):
			log.Debug().Int64("instance_id", instanceId).Msg("instance not listed yet")

		case isFatalMarketplaceError(err):
			return "", 0, err

		default:
			log.Warn().Int64("instance_id", instanceId).Err(err).Msg("instance poll failed")
		}

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) waitForReady(ctx context.Context, endpoint string) error {
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, o.config.ReadinessTimeout)
		err := o.prober.Ready(probeCtx, endpoint)
		cancel()

		if err == nil {
			return nil
		}
		log.Debug().Str("endpoint", endpoint).Err(err).Msg("inference server not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DestroyInstance releases the tracked instance and charges its session cost.
// It is a no-op when nothing is tracked.
func (o *Orchestrator) DestroyInstance(ctx context.Context) error {
	o.CancelLaunch()
	return o.destroy(ctx, 0, "requested")
}

// destroy releases the tracked instance if it matches expectedId, or any
// instance when expectedId is 0. Concurrent callers race safely: only the
// first one to clear the state talks to the marketplace.
func (o *Orchestrator) destroy(ctx context.Context, expectedId int64, reason string) error {
	o.mu.Lock()
	instance := o.instance
	if instance == nil || (expectedId != 0 && instance.ID != expectedId) {
		o.mu.Unlock()
		return nil
	}

	o.instance = nil
	o.endpoint = ""
	o.keepAliveUntil = time.Time{}
	cancelMonitors := o.monitorCancel
	o.monitorCancel = nil
	wasReady := o.state == types.LaunchStateReady
	callbacks := append([]func(){}, o.onDestroyed...)
	o.mu.Unlock()

	if cancelMonitors != nil {
		cancelMonitors()
	}

	if wasReady {
		o.setState(types.LaunchStateIdle)
	}

	runtime := time.Since(instance.StartedAt)
	cost := o.costs.AddGPUSessionAtRate(runtime, instance.PricePerHour)

	_, err := o.market.DestroyInstance(ctx, instance.ID)

	log.Info().
		Int64("instance_id", instance.ID).
		Str("reason", reason).
		Dur("runtime", runtime).
		Float64("session_cost", cost).
		Err(err).
		Msg("released gpu instance")

	for _, fn := range callbacks {
		fn()
	}

	if err != nil {
		return fmt.Errorf("destroy instance %d: %w", instance.ID, err)
	}
	return nil
}

// LaunchGPUAsync starts EnsureGPUReady in the background. Poll Status for progress.
func (o *Orchestrator) LaunchGPUAsync(keepAliveMinutes int) error {
	o.mu.Lock()
	if o.asyncLaunching || o.state.InFlight() {
		state := o.state
		o.mu.Unlock()
		return &types.ErrLaunchInProgress{State: state}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.asyncLaunching = true
	o.launchCancel = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			o.asyncLaunching = false
			o.launchCancel = nil
			o.mu.Unlock()
		}()

		if _, err := o.EnsureGPUReady(ctx, keepAliveMinutes); err != nil {
			log.Error().Err(err).Msg("background gpu launch failed")
		}
	}()

	return nil
}

// CancelLaunch aborts an in-flight background launch, including its pending requests.
func (o *Orchestrator) CancelLaunch() {
	o.mu.Lock()
	cancel := o.launchCancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// ExtendKeepAlive pushes the keep-alive deadline to at least now + minutes.
func (o *Orchestrator) ExtendKeepAlive(minutes int) (time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.instance == nil {
		return time.Time{}, &types.ErrNotFound{Resource: "instance", Id: "active"}
	}

	if requested := time.Now().Add(time.Duration(minutes) * time.Minute); requested.After(o.keepAliveUntil) {
		o.keepAliveUntil = requested
	}
	return o.keepAliveUntil, nil
}

// CleanupOrphanedInstances destroys every instance visible to the account,
// including ones this orchestrator does not track.
func (o *Orchestrator) CleanupOrphanedInstances(ctx context.Context) (int, error) {
	instances, err := o.market.ListInstances(ctx)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	var trackedID int64
	if o.instance != nil {
		trackedID = o.instance.ID
	}
	o.mu.Unlock()

	destroyed := 0
	var errs []error
	for _, instance := range instances {
		if instance.ID == trackedID {
			if err := o.destroy(ctx, trackedID, "orphan cleanup"); err != nil {
				errs = append(errs, err)
				continue
			}
			destroyed++
			continue
		}

		if _, err := o.market.DestroyInstance(ctx, instance.ID); err != nil {
			log.Error().Int64("instance_id", instance.ID).Err(err).Msg("failed to destroy orphaned instance")
			errs = append(errs, err)
			continue
		}
		destroyed++
	}

	if destroyed > 0 {
		log.Info().Int("destroyed", destroyed).Int("listed", len(instances)).Msg("cleaned up orphaned instances")
	}

	return destroyed, errors.Join(errs...)
}

// RunOrphanCleanup periodically runs CleanupOrphanedInstances while the
// orchestrator holds no instance and no launch is in flight.
func (o *Orchestrator) RunOrphanCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			busy := o.instance != nil || o.asyncLaunching || o.state.InFlight()
			o.mu.Unlock()

			if busy {
				continue
			}

			if _, err := o.CleanupOrphanedInstances(ctx); err != nil {
				log.Error().Err(err).Msg("orphan cleanup failed")
			}
		}
	}
}

type noopObserver struct{}

func (noopObserver) ObserveLaunch(string, bool, time.Duration, time.Duration) {}
func (noopObserver) ObserveLaunchState(types.LaunchState)                     {}
func (noopObserver) ObserveHealthCheck(bool)                                  {}
