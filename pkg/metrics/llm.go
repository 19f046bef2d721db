package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	DefaultRecentCallsSize int    = 1000
	topErrorCount          int    = 5
	maxDistinctErrors      int    = 50
	maxErrorLength         int    = 200
	otherErrorsKey         string = "other"
)

// CallRecord is one completion attempt as seen by the unified client.
type CallRecord struct {
	Backend      types.Backend `json:"backend"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalCalls      int          `json:"total_calls"`
	SuccessfulCalls int          `json:"successful_calls"`
	FailedCalls     int          `json:"failed_calls"`
	SuccessRate     float64      `json:"success_rate"`
	InputTokens     int64        `json:"input_tokens"`
	OutputTokens    int64        `json:"output_tokens"`
	TotalTokens     int64        `json:"total_tokens"`
	AvgLatencyMs    float64      `json:"avg_latency_ms"`
	TopErrors       []ErrorCount `json:"top_errors"`
}

type Summary struct {
	TotalCalls  int                     `json:"total_calls"`
	RecentCalls int                     `json:"recent_calls"`
	Backends    map[types.Backend]Stats `json:"backends"`
	Models      map[string]Stats        `json:"models"`
}

type CallObserver interface {
	ObserveCall(record CallRecord)
}

type aggregate struct {
	calls        int
	successes    int
	failures     int
	inputTokens  int64
	outputTokens int64
	avgLatencyMs float64
	errors       map[string]int
}

func newAggregate() *aggregate {
	return &aggregate{errors: map[string]int{}}
}

func (a *aggregate) add(r CallRecord) {
	a.calls++
	a.inputTokens += int64(r.InputTokens)
	a.outputTokens += int64(r.OutputTokens)

	latencyMs := float64(r.Latency) / float64(time.Millisecond)
	a.avgLatencyMs += (latencyMs - a.avgLatencyMs) / float64(a.calls)

	if r.Success {
		a.successes++
		return
	}

	a.failures++
	key := normalizeError(r.Error)
	if _, ok := a.errors[key]; !ok && len(a.errors) >= maxDistinctErrors {
		key = otherErrorsKey
	}
	a.errors[key]++
}

func (a *aggregate) stats() Stats {
	s := Stats{
		TotalCalls:      a.calls,
		SuccessfulCalls: a.successes,
		FailedCalls:     a.failures,
		InputTokens:     a.inputTokens,
		OutputTokens:    a.outputTokens,
		TotalTokens:     a.inputTokens + a.outputTokens,
		AvgLatencyMs:    a.avgLatencyMs,
		TopErrors:       []ErrorCount{},
	}
	if a.calls > 0 {
		s.SuccessRate = float64(a.successes) / float64(a.calls)
	}

	for msg, count := range a.errors {
		s.TopErrors = append(s.TopErrors, ErrorCount{Error: msg, Count: count})
	}
	sort.Slice(s.TopErrors, func(i, j int) bool {
		if s.TopErrors[i].Count != s.TopErrors[j].Count {
			return s.TopErrors[i].Count > s.TopErrors[j].Count
		}
		return s.TopErrors[i].Error < s.TopErrors[j].Error
	})
	if len(s.TopErrors) > topErrorCount {
		s.TopErrors = s.TopErrors[:topErrorCount]
	}

	return s
}

func normalizeError(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown"
	}
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}

// LLMMetrics keeps cumulative per-backend and per-model aggregates plus a
// bounded ring of recent calls. Reads are projections over the aggregates.
type LLMMetrics struct {
	mu        sync.RWMutex
	recent    []CallRecord
	head      int
	size      int
	total     int
	backends  map[types.Backend]*aggregate
	models    map[string]*aggregate
	observers []CallObserver
}

func NewLLMMetrics() *LLMMetrics {
	return NewLLMMetricsWithCapacity(DefaultRecentCallsSize)
}

func NewLLMMetricsWithCapacity(capacity int) *LLMMetrics {
	if capacity <= 0 {
		capacity = DefaultRecentCallsSize
	}
	return &LLMMetrics{
		recent:   make([]CallRecord, capacity),
		backends: map[types.Backend]*aggregate{},
		models:   map[string]*aggregate{},
	}
}

func (m *LLMMetrics) AddObserver(o CallObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *LLMMetrics) TrackCall(r CallRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.recent[m.head] = r
	m.head = (m.head + 1) % len(m.recent)
	if m.size < len(m.recent) {
		m.size++
	}
	m.total++

	b, ok := m.backends[r.Backend]
	if !ok {
		b = newAggregate()
		m.backends[r.Backend] = b
	}
	b.add(r)

	md, ok := m.models[r.Model]
	if !ok {
		md = newAggregate()
		m.models[r.Model] = md
	}
	md.add(r)

	observers := m.observers
	m.mu.Unlock()

	for _, o := range observers {
		o.ObserveCall(r)
	}
}

func (m *LLMMetrics) BackendStats(backend types.Backend) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if a, ok := m.backends[backend]; ok {
		return a.stats()
	}
	return newAggregate().stats()
}

func (m *LLMMetrics) ModelStats(model string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if a, ok := m.models[model]; ok {
		return a.stats()
	}
	return newAggregate().stats()
}

func (m *LLMMetrics) AllStats() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalCalls:  m.total,
		RecentCalls: m.size,
		Backends:    make(map[types.Backend]Stats, len(m.backends)),
		Models:      make(map[string]Stats, len(m.models)),
	}
	for b, a := range m.backends {
		s.Backends[b] = a.stats()
	}
	for model, a := range m.models {
		s.Models[model] = a.stats()
	}
	return s
}

// RecentCalls returns up to n of the most recent calls, newest first.
func (m *LLMMetrics) RecentCalls(n int) []CallRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > m.size {
		n = m.size
	}

	out := make([]CallRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.head - i + len(m.recent)) % len(m.recent)
		out = append(out, m.recent[idx])
	}
	return out
}

func (m *LLMMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent = make([]CallRecord, len(m.recent))
	m.head = 0
	m.size = 0
	m.total = 0
	m.backends = map[types.Backend]*aggregate{}
	m.models = map[string]*aggregate{}
}
