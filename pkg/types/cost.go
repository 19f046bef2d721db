package types

import "time"

type ModelPrice struct {
	InputPerMTok  float64 `key:"input" json:"input_per_mtok"`
	OutputPerMTok float64 `key:"output" json:"output_per_mtok"`
}

type CostEntry struct {
	Backend   Backend                `json:"backend"`
	Cost      float64                `json:"cost"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type AlertLevel string

const (
	AlertLevelOk       AlertLevel = "ok"
	AlertLevelCaution  AlertLevel = "caution"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Severity orders alert levels so rising transitions can be detected.
func (a AlertLevel) Severity() int {
	switch a {
	case AlertLevelOk:
		return 0
	case AlertLevelCaution:
		return 1
	case AlertLevelWarning:
		return 2
	case AlertLevelCritical:
		return 3
	}
	return 0
}

type CostBreakdown struct {
	TotalCost       float64             `json:"total_cost"`
	ByBackend       map[Backend]float64 `json:"by_backend"`
	BudgetLimit     float64             `json:"budget_limit"`
	RemainingBudget float64             `json:"remaining_budget"`
	PercentUsed     float64             `json:"percent_used"`
	LLMCalls        int                 `json:"llm_calls"`
	GPUSessions     int                 `json:"gpu_sessions"`
}

type BudgetStatus struct {
	AlertLevel      AlertLevel `json:"alert_level"`
	TotalSpent      float64    `json:"total_spent"`
	BudgetLimit     float64    `json:"budget_limit"`
	RemainingBudget float64    `json:"remaining_budget"`
	PercentUsed     float64    `json:"percent_used"`
	OverBudget      bool       `json:"over_budget"`
}
