package apiv1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/llm"
	"github.com/beam-cloud/llmgate/pkg/metrics"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const defaultRecentCalls = 20

type CallStats interface {
	AllStats() metrics.Summary
	BackendStats(backend types.Backend) metrics.Stats
	ModelStats(model string) metrics.Stats
	RecentCalls(n int) []metrics.CallRecord
}

type Completer interface {
	ChatCompletion(ctx context.Context, messages []types.ChatMessage, tier types.ModelTier, opts ...llm.CompletionOption) (string, error)
}

type LLMGroup struct {
	routerGroup *echo.Group
	stats       CallStats
	completer   Completer
}

type completionRequest struct {
	Messages  []types.ChatMessage `json:"messages"`
	Tier      types.ModelTier     `json:"tier"`
	MaxTokens int                 `json:"max_tokens"`
}

// NewLLMGroup registers call statistics routes, plus a completion route for
// smoke testing the active backend when completer is set.
func NewLLMGroup(g *echo.Group, stats CallStats, completer Completer) *LLMGroup {
	group := &LLMGroup{routerGroup: g, stats: stats, completer: completer}

	g.GET("/metrics", group.Metrics)
	g.GET("/metrics/backends/:backend", group.BackendMetrics)
	g.GET("/metrics/models/:model", group.ModelMetrics)
	g.GET("/calls", group.RecentCalls)

	if completer != nil {
		g.POST("/complete", group.Complete)
	}

	return group
}

func (l *LLMGroup) Metrics(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, l.stats.AllStats())
}

func (l *LLMGroup) BackendMetrics(ctx echo.Context) error {
	backend := types.Backend(ctx.Param("backend"))
	if !backend.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown backend")
	}
	return ctx.JSON(http.StatusOK, l.stats.BackendStats(backend))
}

func (l *LLMGroup) ModelMetrics(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, l.stats.ModelStats(ctx.Param("model")))
}

func (l *LLMGroup) RecentCalls(ctx echo.Context) error {
	n := defaultRecentCalls
	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		n = limit
	}

	return ctx.JSON(http.StatusOK, l.stats.RecentCalls(n))
}

func (l *LLMGroup) Complete(ctx echo.Context) error {
	var req completionRequest
	if err := ctx.Bind(&req); err != nil || len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages are required")
	}

	var opts []llm.CompletionOption
	if req.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(req.MaxTokens))
	}

	content, err := l.completer.ChatCompletion(ctx.Request().Context(), req.Messages, req.Tier, opts...)
	if err != nil {
		return httpError(err)
	}

	return ctx.JSON(http.StatusOK, map[string]string{"content": content})
}
