package apiv1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/types"
)

type CostReporter interface {
	Breakdown() types.CostBreakdown
	BudgetStatus() types.BudgetStatus
	History() []types.CostEntry
}

type CostGroup struct {
	routerGroup *echo.Group
	costs       CostReporter
}

func NewCostGroup(g *echo.Group, costs CostReporter) *CostGroup {
	group := &CostGroup{routerGroup: g, costs: costs}

	g.GET("", group.Summary)
	g.GET("/history", group.History)

	return group
}

func (c *CostGroup) Summary(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"breakdown": c.costs.Breakdown(),
		"budget":    c.costs.BudgetStatus(),
	})
}

// History returns the most recent entries, newest last. ?limit=N bounds the count.
func (c *CostGroup) History(ctx echo.Context) error {
	history := c.costs.History()

	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		if limit < len(history) {
			history = history[len(history)-limit:]
		}
	}

	return ctx.JSON(http.StatusOK, history)
}
