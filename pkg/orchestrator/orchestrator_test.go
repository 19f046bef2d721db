package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/llmgate/pkg/providers"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const readyEndpoint = "http://10.0.0.5:41000"

type fakeMarket struct {
	mu         sync.Mutex
	offers     map[string][]types.Offer
	searchErr  error
	searchWait time.Duration
	createErrs map[int64]error
	destroyErr map[int64]error
	statuses   []types.MarketplaceInstance
	listed     []types.MarketplaceInstance
	nextID     int64

	searchCalls int
	createCalls int
	getCalls    int
	created     []int64
	destroyed   []int64
}

func newFakeMarket(offers ...types.Offer) *fakeMarket {
	m := &fakeMarket{
		offers:     map[string][]types.Offer{},
		createErrs: map[int64]error{},
		destroyErr: map[int64]error{},
		nextID:     1000,
	}
	for _, o := range offers {
		m.offers[o.GPUName] = append(m.offers[o.GPUName], o)
	}
	return m
}

func (m *fakeMarket) SearchOffers(ctx context.Context, params providers.SearchParams) ([]types.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.searchCalls++
	if m.searchWait > 0 {
		time.Sleep(m.searchWait)
	}
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return append([]types.Offer(nil), m.offers[params.GPUName]...), nil
}

func (m *fakeMarket) CreateInstance(ctx context.Context, req providers.CreateInstanceRequest) (*providers.CreatedInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if err := m.createErrs[req.OfferID]; err != nil {
		return nil, err
	}

	m.nextID++
	m.created = append(m.created, m.nextID)
	return &providers.CreatedInstance{ID: m.nextID, Success: true}, nil
}

func (m *fakeMarket) GetInstance(ctx context.Context, instanceId int64) (*types.MarketplaceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getCalls++
	if len(m.statuses) == 0 {
		return nil, &types.ErrNotFound{Resource: "instance"}
	}

	idx := m.getCalls - 1
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}

	instance := m.statuses[idx]
	instance.ID = instanceId
	return &instance, nil
}

func (m *fakeMarket) ListInstances(ctx context.Context) ([]types.MarketplaceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.MarketplaceInstance(nil), m.listed...), nil
}

func (m *fakeMarket) DestroyInstance(ctx context.Context, instanceId int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.destroyErr[instanceId]; err != nil {
		return false, err
	}
	m.destroyed = append(m.destroyed, instanceId)
	return true, nil
}

func (m *fakeMarket) counts() (search, create, get int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls, m.createCalls, m.getCalls
}

func (m *fakeMarket) destroyedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.destroyed...)
}

type fakeProber struct {
	mu        sync.Mutex
	readyErr  error
	healthErr error
}

func (p *fakeProber) Healthy(ctx context.Context, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}

func (p *fakeProber) Ready(ctx context.Context, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyErr
}

func (p *fakeProber) setHealthErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
}

type fakeLedger struct {
	mu      sync.Mutex
	total   float64
	charges []time.Duration
}

func (l *fakeLedger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *fakeLedger) AddGPUSessionAtRate(runtime time.Duration, hourlyRate float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charges = append(l.charges, runtime)
	cost := runtime.Hours() * hourlyRate
	l.total += cost
	return cost
}

func (l *fakeLedger) chargeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.charges)
}

func loadingInstance() types.MarketplaceInstance {
	return types.MarketplaceInstance{ActualStatus: types.InstanceStatusLoading}
}

func runningInstance() types.MarketplaceInstance {
	return types.MarketplaceInstance{
		ActualStatus: types.InstanceStatusRunning,
		PublicIPAddr: "10.0.0.5",
		Ports:        map[string][]types.PortBinding{"8000/tcp": {{HostIP: "0.0.0.0", HostPort: "41000"}}},
	}
}

func testOffer(id int64, price float64) types.Offer {
	return types.Offer{
		ID:           id,
		GPUName:      "RTX 4090",
		NumGPUs:      1,
		GPURAMMB:     24576,
		PricePerHour: price,
		Reliability:  0.99,
		InetDownMbps: 800,
		CUDAMaxGood:  12.2,
		DiskSpaceGB:  100,
		Rentable:     true,
		Verified:     true,
	}
}

func testFallbacks() []types.GPUConfig {
	return []types.GPUConfig{{
		GPUName:              "RTX 4090",
		VRAMGB:               24,
		MinVRAMGB:            24,
		MaxPricePerHour:      0.50,
		CUDAVersion:          "12.0",
		DiskSpaceGB:          50,
		Priority:             1,
		PreferredReliability: 0.95,
		MinNetworkSpeedMbps:  100,
	}}
}

func testConfig() types.GPUOrchestratorConfig {
	return types.GPUOrchestratorConfig{
		InternalPort:           8000,
		PollInterval:           time.Millisecond,
		MaxStartupTime:         2 * time.Second,
		ReadinessTimeout:       100 * time.Millisecond,
		KeepAliveCheckInterval: 5 * time.Millisecond,
		HealthCheckInterval:    5 * time.Millisecond,
		HealthFailureThreshold: 3,
		AutoDestroyOnError:     true,
		FallbackWidth:          2,
	}
}

type harness struct {
	orch   *Orchestrator
	market *fakeMarket
	prober *fakeProber
	ledger *fakeLedger
}

func newHarness(t *testing.T, config types.GPUOrchestratorConfig, market *fakeMarket, opts ...Option) *harness {
	h := &harness{market: market, prober: &fakeProber{}, ledger: &fakeLedger{}}
	opts = append([]Option{WithProber(h.prober), WithFallbackConfigs(testFallbacks())}, opts...)
	h.orch = New(market, h.ledger, config, opts...)

	t.Cleanup(func() {
		_ = h.orch.DestroyInstance(context.Background())
	})
	return h
}

func TestEnsureGPUReadyLaunchesThenReuses(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{loadingInstance(), runningInstance()}
	h := newHarness(t, testConfig(), market)

	var readyEndpoints []string
	var mu sync.Mutex
	h.orch.OnReady(func(endpoint string) {
		mu.Lock()
		defer mu.Unlock()
		readyEndpoints = append(readyEndpoints, endpoint)
	})

	endpoint, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, readyEndpoint, endpoint)
	assert.Equal(t, types.LaunchStateReady, h.orch.State())
	assert.Equal(t, readyEndpoint, h.orch.Endpoint())

	search, create, get := market.counts()
	assert.Equal(t, 1, search)
	assert.Equal(t, 1, create)
	assert.Equal(t, 2, get)

	again, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, endpoint, again)

	search2, create2, get2 := market.counts()
	assert.Equal(t, search, search2)
	assert.Equal(t, create, create2)
	assert.Equal(t, get, get2)

	mu.Lock()
	assert.Equal(t, []string{readyEndpoint}, readyEndpoints)
	mu.Unlock()

	status := h.orch.Status()
	require.NotNil(t, status.Instance)
	assert.Equal(t, int64(101), status.Instance.OfferID)
	assert.Equal(t, 0.40, status.Instance.PricePerHour)
	assert.Equal(t, 1, status.Boot.ConfigsTried)
	assert.Equal(t, 1, status.Boot.OffersTried)
	assert.NotNil(t, status.KeepAliveUntil)
}

func TestBootTimeMeasuredFromInstanceCreation(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.searchWait = 300 * time.Millisecond
	market.statuses = []types.MarketplaceInstance{loadingInstance(), runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	status := h.orch.Status()
	assert.Greater(t, status.Boot.BootTime, time.Duration(0))
	assert.Less(t, status.Boot.BootTime, market.searchWait)
	assert.LessOrEqual(t, status.Boot.BootTime, status.Boot.StartupTime)
	assert.Less(t, status.Boot.StartupTime, market.searchWait)
	assert.Less(t, status.RuntimeMinutes, market.searchWait.Minutes())

	data, err := json.Marshal(status)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Contains(t, fields, "runtime_minutes")
	assert.NotContains(t, fields, "uptime")
}

func TestConcurrentEnsureGPUReadyLaunchesOnce(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{loadingInstance(), loadingInstance(), runningInstance()}
	h := newHarness(t, testConfig(), market)

	var wg sync.WaitGroup
	endpoints := make([]string, 4)
	errs := make([]error, 4)
	for i := range endpoints {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			endpoints[i], errs[i] = h.orch.EnsureGPUReady(context.Background(), 30)
		}(i)
	}
	wg.Wait()

	for i := range endpoints {
		require.NoError(t, errs[i])
		assert.Equal(t, readyEndpoint, endpoints[i])
	}

	_, create, _ := market.counts()
	assert.Equal(t, 1, create)
}

func TestFastPathExtendsKeepAlive(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 10)
	require.NoError(t, err)
	first := *h.orch.Status().KeepAliveUntil

	_, err = h.orch.EnsureGPUReady(context.Background(), 60)
	require.NoError(t, err)
	second := *h.orch.Status().KeepAliveUntil
	assert.True(t, second.Sub(first) > 45*time.Minute)

	// A shorter request never shrinks the window.
	_, err = h.orch.EnsureGPUReady(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, second, *h.orch.Status().KeepAliveUntil)
}

func TestEnsureGPUReadyReplacesExpiredInstance(t *testing.T) {
	config := testConfig()
	config.KeepAliveCheckInterval = time.Hour

	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, config, market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)
	firstID := h.orch.Status().Instance.ID

	h.orch.mu.Lock()
	h.orch.keepAliveUntil = time.Now().Add(-time.Second)
	h.orch.mu.Unlock()

	_, err = h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, []int64{firstID}, market.destroyedIDs())
	_, create, _ := market.counts()
	assert.Equal(t, 2, create)
	assert.NotEqual(t, firstID, h.orch.Status().Instance.ID)
	assert.Equal(t, 1, h.ledger.chargeCount())
}

func TestNoOffersExhaustsFallbacks(t *testing.T) {
	market := newFakeMarket()
	prober := &fakeProber{}
	orch := New(market, &fakeLedger{}, testConfig(), WithProber(prober))

	_, err := orch.EnsureGPUReady(context.Background(), 30)

	var noGPU *types.ErrNoGPUAvailable
	require.True(t, errors.As(err, &noGPU))
	assert.Equal(t, 10, noGPU.ConfigsTried)

	search, create, _ := market.counts()
	assert.Equal(t, 10, search)
	assert.Equal(t, 0, create)
	assert.Equal(t, types.LaunchStateFailed, orch.State())
	assert.NotEmpty(t, orch.Status().LastError)
}

func TestIncompatibleOffersAreSkipped(t *testing.T) {
	expensive := testOffer(101, 0.90)
	noDisk := testOffer(102, 0.30)
	noDisk.DiskSpaceGB = 20

	market := newFakeMarket(expensive, noDisk)
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)

	var noGPU *types.ErrNoGPUAvailable
	require.True(t, errors.As(err, &noGPU))
	_, create, _ := market.counts()
	assert.Equal(t, 0, create)
}

func TestCreateFailureFallsBackToNextOffer(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.20), testOffer(102, 0.30))
	market.createErrs[101] = &types.ErrClient{StatusCode: 400, Message: "offer no longer available"}
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	status := h.orch.Status()
	assert.Equal(t, int64(102), status.Instance.OfferID)
	assert.Equal(t, 2, status.Boot.OffersTried)
}

func TestFallbackWidthLimitsAttempts(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.20), testOffer(102, 0.25), testOffer(103, 0.30), testOffer(104, 0.35))
	for id := int64(101); id <= 104; id++ {
		market.createErrs[id] = &types.ErrServer{StatusCode: 500, Message: "boom"}
	}

	config := testConfig()
	config.FallbackWidth = 1
	h := newHarness(t, config, market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)

	var noGPU *types.ErrNoGPUAvailable
	require.True(t, errors.As(err, &noGPU))
	var serverErr *types.ErrServer
	assert.True(t, errors.As(err, &serverErr))

	_, create, _ := market.counts()
	assert.Equal(t, 2, create)
}

func TestAuthErrorAbortsSearch(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.searchErr = &types.ErrAuth{Message: "bad key"}
	orch := New(market, &fakeLedger{}, testConfig(), WithProber(&fakeProber{}))

	_, err := orch.EnsureGPUReady(context.Background(), 30)

	var authErr *types.ErrAuth
	require.True(t, errors.As(err, &authErr))
	search, _, _ := market.counts()
	assert.Equal(t, 1, search)
	assert.True(t, types.IsOperatorActionable(err))
}

func TestGlobalBudgetBlocksLaunch(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	config := testConfig()
	config.GlobalBudget = 50

	h := newHarness(t, config, market)
	h.ledger.total = 50

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)

	var budgetErr *types.ErrBudgetExceeded
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, types.CheckpointGlobal, budgetErr.Checkpoint)

	search, _, _ := market.counts()
	assert.Equal(t, 0, search)
	assert.Equal(t, types.LaunchStateFailed, h.orch.State())
}

func TestSessionBudgetDestroysBeforeBoot(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.20))
	market.statuses = []types.MarketplaceInstance{runningInstance()}

	config := testConfig()
	config.SessionBudget = 0.10
	h := newHarness(t, config, market)

	// 45 minutes at $0.20/hr is $0.15.
	_, err := h.orch.EnsureGPUReady(context.Background(), 45)

	var budgetErr *types.ErrBudgetExceeded
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, types.CheckpointSession, budgetErr.Checkpoint)
	assert.InDelta(t, 0.15, budgetErr.Spent, 1e-9)

	_, create, get := market.counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, 0, get)
	assert.Len(t, market.destroyedIDs(), 1)
	assert.Nil(t, h.orch.Status().Instance)
	assert.Equal(t, types.LaunchStateFailed, h.orch.State())
}

func TestExitedInstanceFailsLaunch(t *testing.T) {
	exited := types.MarketplaceInstance{ActualStatus: types.InstanceStatusExited, StatusMsg: "cuda error"}
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{loadingInstance(), exited}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)

	var terminated *types.ErrInstanceTerminated
	require.True(t, errors.As(err, &terminated))
	assert.Equal(t, types.InstanceStatusExited, terminated.Status)
	assert.Len(t, market.destroyedIDs(), 1)
	assert.Equal(t, types.LaunchStateFailed, h.orch.State())
}

func TestBootTimeout(t *testing.T) {
	tests := []struct {
		name          string
		autoDestroy   bool
		wantDestroyed int
	}{
		{name: "auto destroy", autoDestroy: true, wantDestroyed: 1},
		{name: "left running", autoDestroy: false, wantDestroyed: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market := newFakeMarket(testOffer(101, 0.40))
			market.statuses = []types.MarketplaceInstance{loadingInstance()}

			config := testConfig()
			config.MaxStartupTime = 30 * time.Millisecond
			config.AutoDestroyOnError = tt.autoDestroy
			h := newHarness(t, config, market)

			_, err := h.orch.EnsureGPUReady(context.Background(), 30)

			var timeoutErr *types.ErrLaunchTimeout
			require.True(t, errors.As(err, &timeoutErr))
			assert.Equal(t, string(types.LaunchStateBooting), timeoutErr.Stage)
			assert.Len(t, market.destroyedIDs(), tt.wantDestroyed)
			assert.Nil(t, h.orch.Status().Instance)
		})
	}
}

func TestReadinessTimeout(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}

	config := testConfig()
	config.MaxStartupTime = 30 * time.Millisecond
	h := newHarness(t, config, market)
	h.prober.readyErr = errors.New("connection refused")

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)

	var timeoutErr *types.ErrLaunchTimeout
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, string(types.LaunchStateStartingVLLM), timeoutErr.Stage)
	assert.Len(t, market.destroyedIDs(), 1)
}

func TestDestroyInstanceIsIdempotent(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	destroyedCalls := 0
	h.orch.OnDestroyed(func() { destroyedCalls++ })

	require.NoError(t, h.orch.DestroyInstance(context.Background()))

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	require.NoError(t, h.orch.DestroyInstance(context.Background()))
	require.NoError(t, h.orch.DestroyInstance(context.Background()))

	assert.Len(t, market.destroyedIDs(), 1)
	assert.Equal(t, 1, h.ledger.chargeCount())
	assert.Equal(t, 1, destroyedCalls)
	assert.Equal(t, types.LaunchStateIdle, h.orch.State())
	assert.Empty(t, h.orch.Endpoint())
}

func TestLaunchGPUAsyncRejectsReentry(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{loadingInstance()}
	h := newHarness(t, testConfig(), market)

	require.NoError(t, h.orch.LaunchGPUAsync(30))

	err := h.orch.LaunchGPUAsync(30)
	var inProgress *types.ErrLaunchInProgress
	require.True(t, errors.As(err, &inProgress))

	require.Eventually(t, func() bool {
		return h.orch.State() == types.LaunchStateBooting
	}, time.Second, time.Millisecond)

	require.NoError(t, h.orch.DestroyInstance(context.Background()))

	require.Eventually(t, func() bool {
		return !h.orch.Status().Launching
	}, time.Second, time.Millisecond)

	assert.Equal(t, types.LaunchStateFailed, h.orch.State())
	assert.Len(t, market.destroyedIDs(), 1)
	assert.NoError(t, h.orch.LaunchGPUAsync(30))
	h.orch.CancelLaunch()
}

func TestKeepAliveExpiryDestroysInstance(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	destroyed := make(chan struct{}, 1)
	h.orch.OnDestroyed(func() { destroyed <- struct{}{} })

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	h.orch.mu.Lock()
	h.orch.keepAliveUntil = time.Now().Add(-time.Second)
	h.orch.mu.Unlock()

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("instance was not destroyed after keep-alive expired")
	}

	assert.Len(t, market.destroyedIDs(), 1)
	assert.Equal(t, types.LaunchStateIdle, h.orch.State())
}

func TestHealthFailuresTripBreaker(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	destroyed := make(chan struct{}, 1)
	h.orch.OnDestroyed(func() { destroyed <- struct{}{} })

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	h.prober.setHealthErr(errors.New("health returned 503"))

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("unhealthy instance was not destroyed")
	}

	status := h.orch.Status()
	assert.Nil(t, status.Instance)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, 3)
	assert.NotEmpty(t, status.HealthHistory)
	assert.LessOrEqual(t, len(status.HealthHistory), maxHealthHistory)
}

func TestExtendKeepAlive(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.ExtendKeepAlive(10)
	assert.True(t, types.IsNotFound(err))

	_, err = h.orch.EnsureGPUReady(context.Background(), 10)
	require.NoError(t, err)

	until, err := h.orch.ExtendKeepAlive(120)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(120*time.Minute), until, time.Second)
}

func TestCleanupOrphanedInstances(t *testing.T) {
	market := newFakeMarket()
	market.listed = []types.MarketplaceInstance{{ID: 7}, {ID: 8}, {ID: 9}}
	market.destroyErr[9] = &types.ErrServer{StatusCode: 502, Message: "bad gateway"}
	orch := New(market, &fakeLedger{}, testConfig(), WithProber(&fakeProber{}))

	count, err := orch.CleanupOrphanedInstances(context.Background())
	assert.Equal(t, 2, count)
	assert.Error(t, err)
	assert.ElementsMatch(t, []int64{7, 8}, market.destroyedIDs())
}

func TestCleanupOrphanedInstancesReleasesTracked(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	tracked := h.orch.Status().Instance.ID
	market.mu.Lock()
	market.listed = []types.MarketplaceInstance{{ID: tracked}, {ID: 5}}
	market.mu.Unlock()

	count, err := h.orch.CleanupOrphanedInstances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Nil(t, h.orch.Status().Instance)
	assert.Equal(t, 1, h.ledger.chargeCount())
}

func TestRunOrphanCleanupSkipsWhileOwned(t *testing.T) {
	market := newFakeMarket(testOffer(101, 0.40))
	market.statuses = []types.MarketplaceInstance{runningInstance()}
	h := newHarness(t, testConfig(), market)

	_, err := h.orch.EnsureGPUReady(context.Background(), 30)
	require.NoError(t, err)

	market.mu.Lock()
	market.listed = []types.MarketplaceInstance{{ID: 5}}
	market.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	h.orch.RunOrphanCleanup(ctx, 2*time.Millisecond)

	assert.Empty(t, market.destroyedIDs())
}

func TestDefaultsFillZeroConfig(t *testing.T) {
	c := withDefaults(types.GPUOrchestratorConfig{FallbackWidth: -3})

	assert.Equal(t, defaultPollInterval, c.PollInterval)
	assert.Equal(t, defaultMaxStartupTime, c.MaxStartupTime)
	assert.Equal(t, defaultHealthFailureThreshold, c.HealthFailureThreshold)
	assert.Equal(t, defaultInternalPort, c.InternalPort)
	assert.Equal(t, defaultRunType, c.RunType)
	assert.Equal(t, 0, c.FallbackWidth)
}

func TestCircuitBreaker(t *testing.T) {
	cb := newCircuitBreaker(2)

	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.Open())

	cb.RecordSuccess()
	assert.False(t, cb.Open())
	assert.Equal(t, 0, cb.Failures())
}
