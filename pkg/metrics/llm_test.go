package metrics

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/llmgate/pkg/types"
)

type countingObserver struct {
	calls []CallRecord
}

func (c *countingObserver) ObserveCall(r CallRecord) {
	c.calls = append(c.calls, r)
}

func TestTrackCallAggregates(t *testing.T) {
	m := NewLLMMetrics()

	m.TrackCall(CallRecord{Backend: types.BackendAnthropic, Model: "haiku", InputTokens: 100, OutputTokens: 50, Latency: 100 * time.Millisecond, Success: true})
	m.TrackCall(CallRecord{Backend: types.BackendAnthropic, Model: "haiku", InputTokens: 200, OutputTokens: 70, Latency: 300 * time.Millisecond, Success: true})
	m.TrackCall(CallRecord{Backend: types.BackendAnthropic, Model: "sonnet", Latency: 200 * time.Millisecond, Success: false, Error: "boom"})

	stats := m.BackendStats(types.BackendAnthropic)
	assert.Equal(t, 3, stats.TotalCalls)
	assert.Equal(t, 2, stats.SuccessfulCalls)
	assert.Equal(t, 1, stats.FailedCalls)
	assert.Equal(t, int64(300), stats.InputTokens)
	assert.Equal(t, int64(120), stats.OutputTokens)
	assert.Equal(t, int64(420), stats.TotalTokens)
	assert.InDelta(t, 200.0, stats.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	require.Len(t, stats.TopErrors, 1)
	assert.Equal(t, ErrorCount{Error: "boom", Count: 1}, stats.TopErrors[0])

	haiku := m.ModelStats("haiku")
	assert.Equal(t, 2, haiku.TotalCalls)
	assert.InDelta(t, 200.0, haiku.AvgLatencyMs, 1e-9)
	assert.Empty(t, haiku.TopErrors)

	empty := m.BackendStats(types.BackendVLLM)
	assert.Equal(t, 0, empty.TotalCalls)
	assert.Equal(t, float64(0), empty.SuccessRate)
}

func TestTopErrorsLimitedToFive(t *testing.T) {
	m := NewLLMMetrics()

	for i := 0; i < 8; i++ {
		for j := 0; j <= i; j++ {
			m.TrackCall(CallRecord{Backend: types.BackendVLLM, Model: "llama", Error: fmt.Sprintf("err-%d", i)})
		}
	}

	top := m.BackendStats(types.BackendVLLM).TopErrors
	require.Len(t, top, 5)
	assert.Equal(t, "err-7", top[0].Error)
	assert.Equal(t, 8, top[0].Count)
	assert.Equal(t, "err-3", top[4].Error)
}

func TestErrorMessagesAreBounded(t *testing.T) {
	m := NewLLMMetrics()

	for i := 0; i < maxDistinctErrors+10; i++ {
		m.TrackCall(CallRecord{Backend: types.BackendVLLM, Model: "llama", Error: fmt.Sprintf("distinct-%d", i)})
	}
	m.TrackCall(CallRecord{Backend: types.BackendVLLM, Model: "llama", Error: strings.Repeat("x", 500)})

	agg := m.backends[types.BackendVLLM]
	assert.LessOrEqual(t, len(agg.errors), maxDistinctErrors+1)
	assert.Equal(t, 11, agg.errors[otherErrorsKey])
}

func TestRecentCallsRingBuffer(t *testing.T) {
	m := NewLLMMetricsWithCapacity(3)

	for i := 1; i <= 5; i++ {
		m.TrackCall(CallRecord{Backend: types.BackendAnthropic, Model: "haiku", InputTokens: i, Success: true})
	}

	recent := m.RecentCalls(0)
	require.Len(t, recent, 3)
	assert.Equal(t, 5, recent[0].InputTokens)
	assert.Equal(t, 3, recent[2].InputTokens)
	assert.False(t, recent[0].Timestamp.IsZero())

	assert.Len(t, m.RecentCalls(2), 2)

	summary := m.AllStats()
	assert.Equal(t, 5, summary.TotalCalls)
	assert.Equal(t, 3, summary.RecentCalls)
	assert.Equal(t, 5, summary.Backends[types.BackendAnthropic].TotalCalls)
	assert.Equal(t, 5, summary.Models["haiku"].TotalCalls)
}

func TestObserverAndReset(t *testing.T) {
	m := NewLLMMetrics()
	o := &countingObserver{}
	m.AddObserver(o)

	m.TrackCall(CallRecord{Backend: types.BackendAnthropic, Model: "haiku", Success: true})
	assert.Len(t, o.calls, 1)

	m.Reset()
	assert.Equal(t, 0, m.AllStats().TotalCalls)
	assert.Empty(t, m.RecentCalls(10))
}
