package costs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	DefaultMaxHistory   int    = 10_000
	DefaultPriceKey     string = "default"
	costDecimalPlaces   int32  = 6
	percentDecimalPlace int32  = 2
)

var (
	million           = decimal.NewFromInt(1_000_000)
	secondsPerHour    = decimal.NewFromInt(3600)
	cautionThreshold  = decimal.RequireFromString("0.75")
	warningThreshold  = decimal.RequireFromString("0.90")
	criticalThreshold = decimal.NewFromInt(1)
)

// Observer is notified of every recorded cost, e.g. to export it as a metric.
type Observer interface {
	ObserveCost(backend types.Backend, cost float64)
}

// Tracker is a running ledger of spend per backend. It never returns errors;
// budget overage is advisory and callers decide whether to act on it.
type Tracker struct {
	mu            sync.Mutex
	budgetLimit   decimal.Decimal
	gpuHourlyRate decimal.Decimal
	prices        map[string]types.ModelPrice
	defaultPrice  string
	maxHistory    int
	totals        map[types.Backend]decimal.Decimal
	llmCalls      int
	gpuSessions   int
	history       []types.CostEntry
	lastLevel     types.AlertLevel
	observer      Observer
	now           func() time.Time
}

func NewTracker(config types.CostConfig) *Tracker {
	maxHistory := config.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	defaultPrice := config.DefaultModel
	if defaultPrice == "" {
		defaultPrice = DefaultPriceKey
	}

	prices := make(map[string]types.ModelPrice, len(config.Prices))
	for model, price := range config.Prices {
		prices[model] = price
	}

	return &Tracker{
		budgetLimit:   decimal.NewFromFloat(config.BudgetLimit),
		gpuHourlyRate: decimal.NewFromFloat(config.GPUHourlyRate),
		prices:        prices,
		defaultPrice:  defaultPrice,
		maxHistory:    maxHistory,
		totals:        map[types.Backend]decimal.Decimal{},
		lastLevel:     types.AlertLevelOk,
		now:           time.Now,
	}
}

func (t *Tracker) SetObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

// PriceFor returns the per-million-token price for a model, falling back to
// the default tier when the exact identifier is unknown.
func (t *Tracker) PriceFor(model string) types.ModelPrice {
	if price, ok := t.prices[model]; ok {
		return price
	}
	return t.prices[t.defaultPrice]
}

// AddLLMCall records a metered completion and returns its cost.
func (t *Tracker) AddLLMCall(model string, inputTokens, outputTokens int) float64 {
	price := t.PriceFor(model)

	inputCost := decimal.NewFromInt(int64(inputTokens)).Div(million).Mul(decimal.NewFromFloat(price.InputPerMTok))
	outputCost := decimal.NewFromInt(int64(outputTokens)).Div(million).Mul(decimal.NewFromFloat(price.OutputPerMTok))
	cost := inputCost.Add(outputCost).Round(costDecimalPlaces)

	t.record(types.BackendAnthropic, cost, map[string]interface{}{
		"model":         model,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	}, func() { t.llmCalls++ })

	return cost.InexactFloat64()
}

// AddGPUSession records rented GPU time at the configured hourly rate.
func (t *Tracker) AddGPUSession(runtime time.Duration) float64 {
	return t.addGPUSession(runtime, t.gpuHourlyRate)
}

// AddGPUSessionAtRate records rented GPU time at an explicit hourly rate.
func (t *Tracker) AddGPUSessionAtRate(runtime time.Duration, hourlyRate float64) float64 {
	return t.addGPUSession(runtime, decimal.NewFromFloat(hourlyRate))
}

func (t *Tracker) addGPUSession(runtime time.Duration, rate decimal.Decimal) float64 {
	if runtime < 0 {
		runtime = 0
	}

	seconds := decimal.NewFromFloat(runtime.Seconds())
	cost := seconds.Div(secondsPerHour).Mul(rate).Round(costDecimalPlaces)

	t.record(types.BackendVLLM, cost, map[string]interface{}{
		"runtime_seconds": runtime.Seconds(),
		"hourly_rate":     rate.InexactFloat64(),
	}, func() { t.gpuSessions++ })

	return cost.InexactFloat64()
}

// EstimateGPUCost returns the cost of running at hourlyRate for the given duration
// without recording anything.
func EstimateGPUCost(runtime time.Duration, hourlyRate float64) float64 {
	seconds := decimal.NewFromFloat(runtime.Seconds())
	return seconds.Div(secondsPerHour).Mul(decimal.NewFromFloat(hourlyRate)).Round(costDecimalPlaces).InexactFloat64()
}

func (t *Tracker) record(backend types.Backend, cost decimal.Decimal, details map[string]interface{}, count func()) {
	t.mu.Lock()

	t.totals[backend] = t.totals[backend].Add(cost)
	count()

	entry := types.CostEntry{
		Backend:   backend,
		Cost:      cost.InexactFloat64(),
		Timestamp: t.now(),
		Details:   details,
	}
	if len(t.history) >= t.maxHistory {
		t.history = append(t.history[1:], entry)
	} else {
		t.history = append(t.history, entry)
	}

	status := t.budgetStatusLocked()
	previous := t.lastLevel
	t.lastLevel = status.AlertLevel
	observer := t.observer

	t.mu.Unlock()

	if observer != nil {
		observer.ObserveCost(backend, entry.Cost)
	}

	if status.AlertLevel.Severity() > previous.Severity() {
		log.Warn().
			Str("alert_level", string(status.AlertLevel)).
			Float64("total_spent", status.TotalSpent).
			Float64("budget_limit", status.BudgetLimit).
			Float64("percent_used", status.PercentUsed).
			Msg("budget alert level raised")
	}
}

func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked().InexactFloat64()
}

func (t *Tracker) BudgetLimit() float64 {
	return t.budgetLimit.InexactFloat64()
}

func (t *Tracker) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, v := range t.totals {
		total = total.Add(v)
	}
	return total.Round(costDecimalPlaces)
}

func (t *Tracker) Breakdown() types.CostBreakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	byBackend := make(map[types.Backend]float64, len(types.AllBackends()))
	for _, b := range types.AllBackends() {
		byBackend[b] = t.totals[b].Round(costDecimalPlaces).InexactFloat64()
	}

	status := t.budgetStatusLocked()
	return types.CostBreakdown{
		TotalCost:       status.TotalSpent,
		ByBackend:       byBackend,
		BudgetLimit:     status.BudgetLimit,
		RemainingBudget: status.RemainingBudget,
		PercentUsed:     status.PercentUsed,
		LLMCalls:        t.llmCalls,
		GPUSessions:     t.gpuSessions,
	}
}

func (t *Tracker) BudgetStatus() types.BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetStatusLocked()
}

func (t *Tracker) budgetStatusLocked() types.BudgetStatus {
	total := t.totalLocked()

	remaining := t.budgetLimit.Sub(total)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	percent := decimal.Zero
	if t.budgetLimit.IsPositive() {
		percent = total.Div(t.budgetLimit).Mul(decimal.NewFromInt(100)).Round(percentDecimalPlace)
	}

	level := AlertLevelFor(total, t.budgetLimit)
	return types.BudgetStatus{
		AlertLevel:      level,
		TotalSpent:      total.InexactFloat64(),
		BudgetLimit:     t.budgetLimit.InexactFloat64(),
		RemainingBudget: remaining.InexactFloat64(),
		PercentUsed:     percent.InexactFloat64(),
		OverBudget:      level == types.AlertLevelCritical,
	}
}

// AlertLevelFor classifies spent/limit. Boundary values map to the higher tier.
// A non-positive limit disables alerting.
func AlertLevelFor(spent, limit decimal.Decimal) types.AlertLevel {
	if !limit.IsPositive() {
		return types.AlertLevelOk
	}

	ratio := spent.Div(limit)
	switch {
	case ratio.GreaterThanOrEqual(criticalThreshold):
		return types.AlertLevelCritical
	case ratio.GreaterThanOrEqual(warningThreshold):
		return types.AlertLevelWarning
	case ratio.GreaterThanOrEqual(cautionThreshold):
		return types.AlertLevelCaution
	default:
		return types.AlertLevelOk
	}
}

func (t *Tracker) History() []types.CostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.CostEntry, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totals = map[types.Backend]decimal.Decimal{}
	t.history = nil
	t.llmCalls = 0
	t.gpuSessions = 0
	t.lastLevel = types.AlertLevelOk
}
