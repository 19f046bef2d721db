package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/llmgate/pkg/llm"
	"github.com/beam-cloud/llmgate/pkg/orchestrator"
	"github.com/beam-cloud/llmgate/pkg/providers"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const defaultHealthTimeout time.Duration = 10 * time.Second

// GPULauncher is the rented-GPU side of the manager, satisfied by *orchestrator.Orchestrator.
type GPULauncher interface {
	LaunchGPUAsync(keepAliveMinutes int) error
	DestroyInstance(ctx context.Context) error
	Status() orchestrator.Status
	OnReady(fn func(endpoint string))
	OnDestroyed(fn func())
}

// ServerlessEndpoint is a fixed inference endpoint with no instance lifecycle.
type ServerlessEndpoint interface {
	Endpoint() string
	APIKey() string
	HealthCheckEnabled() bool
	HealthCheck(ctx context.Context) error
}

type LaunchStatus string

const (
	LaunchStatusReady     LaunchStatus = "ready"
	LaunchStatusLaunching LaunchStatus = "launching"
)

type LaunchResult struct {
	Provider types.MachineProvider `json:"provider"`
	Status   LaunchStatus          `json:"status"`
	Endpoint string                `json:"endpoint,omitempty"`
	Message  string                `json:"message"`
}

type BackendHealth struct {
	Backend  types.Backend `json:"backend"`
	Healthy  bool          `json:"healthy"`
	Endpoint string        `json:"endpoint,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Info struct {
	CurrentBackend types.Backend                                `json:"current_backend"`
	Provider       types.MachineProvider                        `json:"provider"`
	VLLMEndpoint   string                                       `json:"vllm_endpoint,omitempty"`
	DefaultTier    types.ModelTier                              `json:"default_tier"`
	Models         map[types.Backend]map[types.ModelTier]string `json:"models"`
	Health         map[types.Backend]BackendHealth              `json:"health"`
	GPU            *orchestrator.Status                         `json:"gpu,omitempty"`
}

type Option func(*Manager)

func WithHealthTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.healthTimeout = d
		}
	}
}

// Manager switches the active LLM backend and hands out vLLM capacity from
// whichever GPU provider was configured at startup.
type Manager struct {
	registry      *llm.ModelRegistry
	launcher      GPULauncher
	serverless    ServerlessEndpoint
	prober        providers.Prober
	provider      types.MachineProvider
	healthTimeout time.Duration
	mu            sync.Mutex
}

// NewManager picks the GPU provider once: serverless wins over a rented GPU
// when both are present. launcher and serverless may be nil.
func NewManager(registry *llm.ModelRegistry, launcher GPULauncher, serverless ServerlessEndpoint, prober providers.Prober, opts ...Option) *Manager {
	m := &Manager{
		registry:      registry,
		launcher:      launcher,
		serverless:    serverless,
		prober:        prober,
		provider:      types.ProviderNone,
		healthTimeout: defaultHealthTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.prober == nil {
		m.prober = providers.NewHTTPProber(m.healthTimeout, "")
	}

	switch {
	case serverless != nil && serverless.Endpoint() != "":
		m.provider = types.ProviderServerless
	case launcher != nil:
		m.provider = types.ProviderVastAI
		launcher.OnReady(func(endpoint string) {
			registry.SetVLLMEndpoint(endpoint, "")
		})
		launcher.OnDestroyed(registry.ClearVLLMEndpoint)
	}

	log.Info().Str("provider", string(m.provider)).Msg("gpu provider selected")
	return m
}

func (m *Manager) Provider() types.MachineProvider {
	return m.provider
}

func (m *Manager) CurrentBackend() types.Backend {
	return m.registry.CurrentBackend()
}

// SwitchBackend makes target the active backend, refusing unhealthy targets
// unless skipHealthCheck is set.
func (m *Manager) SwitchBackend(ctx context.Context, target types.Backend, skipHealthCheck bool) error {
	if !target.Valid() {
		return &types.ErrInvalidBackendState{Backend: target, Reason: "unknown backend"}
	}

	if !skipHealthCheck {
		health := m.check(ctx, target)
		if !health.Healthy {
			return &types.ErrInvalidBackendState{Backend: target, Reason: "health check failed: " + health.Error}
		}
	}

	return m.registry.SwitchBackend(target)
}

func (m *Manager) check(ctx context.Context, backend types.Backend) BackendHealth {
	switch backend {
	case types.BackendAnthropic:
		return m.CheckAnthropic()
	case types.BackendVLLM:
		return m.CheckVLLM(ctx)
	}
	return BackendHealth{Backend: backend, Error: "unknown backend"}
}

// CheckAnthropic only verifies a credential is configured.
func (m *Manager) CheckAnthropic() BackendHealth {
	health := BackendHealth{Backend: types.BackendAnthropic, Healthy: m.registry.HasAnthropicCredential()}
	if !health.Healthy {
		health.Error = "no api key configured"
	}
	return health
}

// CheckVLLM pings the configured endpoint's health route. Serverless
// endpoints are checked through the provider so its credential is sent.
func (m *Manager) CheckVLLM(ctx context.Context) BackendHealth {
	endpoint := m.registry.VLLMEndpoint()
	health := BackendHealth{Backend: types.BackendVLLM, Endpoint: endpoint}
	if endpoint == "" {
		health.Error = "no endpoint configured"
		return health
	}

	ctx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()

	var err error
	if m.provider == types.ProviderServerless && endpoint == m.serverless.Endpoint() {
		err = m.serverless.HealthCheck(ctx)
	} else {
		err = m.prober.Healthy(ctx, endpoint)
	}
	if err != nil {
		health.Error = err.Error()
		return health
	}

	health.Healthy = true
	return health
}

func (m *Manager) HealthCheckAll(ctx context.Context) map[types.Backend]BackendHealth {
	var anthropic, vllm BackendHealth

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		anthropic = m.CheckAnthropic()
		return nil
	})
	g.Go(func() error {
		vllm = m.CheckVLLM(ctx)
		return nil
	})
	_ = g.Wait()

	return map[types.Backend]BackendHealth{
		types.BackendAnthropic: anthropic,
		types.BackendVLLM:      vllm,
	}
}

// LaunchVLLMGPU provisions vLLM capacity. Serverless endpoints are ready
// immediately; rented GPUs launch in the background and report "launching".
func (m *Manager) LaunchVLLMGPU(ctx context.Context, keepAliveMinutes int) (LaunchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.provider {
	case types.ProviderServerless:
		return m.launchServerless(ctx)

	case types.ProviderVastAI:
		status := m.launcher.Status()
		if status.State == types.LaunchStateReady && status.Endpoint != "" {
			return LaunchResult{Provider: m.provider, Status: LaunchStatusReady, Endpoint: status.Endpoint, Message: "gpu already running"}, nil
		}

		if err := m.launcher.LaunchGPUAsync(keepAliveMinutes); err != nil {
			var inProgress *types.ErrLaunchInProgress
			if errors.As(err, &inProgress) {
				return LaunchResult{Provider: m.provider, Status: LaunchStatusLaunching, Message: "launch already in progress"}, err
			}
			return LaunchResult{}, err
		}

		return LaunchResult{Provider: m.provider, Status: LaunchStatusLaunching, Message: "gpu launch started, poll gpu status for progress"}, nil

	case types.ProviderNone:
	}

	return LaunchResult{}, &types.ErrInvalidBackendState{Backend: types.BackendVLLM, Reason: "no gpu provider configured"}
}

func (m *Manager) launchServerless(ctx context.Context) (LaunchResult, error) {
	endpoint := m.serverless.Endpoint()

	if m.serverless.HealthCheckEnabled() {
		ctx, cancel := context.WithTimeout(ctx, m.healthTimeout)
		defer cancel()

		if err := m.serverless.HealthCheck(ctx); err != nil {
			return LaunchResult{}, &types.ErrInvalidBackendState{Backend: types.BackendVLLM, Reason: "serverless endpoint unhealthy: " + err.Error()}
		}
	}

	m.registry.SetVLLMEndpoint(endpoint, m.serverless.APIKey())
	return LaunchResult{Provider: m.provider, Status: LaunchStatusReady, Endpoint: endpoint, Message: "serverless endpoint configured"}, nil
}

// DestroyVLLMGPU releases the rented GPU and falls back to anthropic if vLLM
// was active. It is a no-op for serverless endpoints.
func (m *Manager) DestroyVLLMGPU(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider != types.ProviderVastAI {
		return nil
	}

	err := m.launcher.DestroyInstance(ctx)
	m.registry.ClearVLLMEndpoint()
	return err
}

func (m *Manager) BackendInfo(ctx context.Context) Info {
	registry := m.registry.Info()

	info := Info{
		CurrentBackend: registry.CurrentBackend,
		Provider:       m.provider,
		VLLMEndpoint:   registry.VLLMEndpoint,
		DefaultTier:    registry.DefaultTier,
		Models:         registry.Models,
		Health:         m.HealthCheckAll(ctx),
	}

	if m.provider == types.ProviderVastAI {
		status := m.launcher.Status()
		info.GPU = &status
	}

	return info
}
