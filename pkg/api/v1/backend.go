package apiv1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/backend"
	"github.com/beam-cloud/llmgate/pkg/types"
)

type BackendSwitcher interface {
	BackendInfo(ctx context.Context) backend.Info
	SwitchBackend(ctx context.Context, target types.Backend, skipHealthCheck bool) error
	HealthCheckAll(ctx context.Context) map[types.Backend]backend.BackendHealth
}

type BackendGroup struct {
	routerGroup *echo.Group
	manager     BackendSwitcher
}

type switchRequest struct {
	Backend         types.Backend `json:"backend"`
	SkipHealthCheck bool          `json:"skip_health_check"`
}

func NewBackendGroup(g *echo.Group, manager BackendSwitcher) *BackendGroup {
	group := &BackendGroup{routerGroup: g, manager: manager}

	g.GET("", group.Info)
	g.GET("/health", group.Health)
	g.POST("/switch", group.Switch)

	return group
}

func (b *BackendGroup) Info(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, b.manager.BackendInfo(ctx.Request().Context()))
}

func (b *BackendGroup) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, b.manager.HealthCheckAll(ctx.Request().Context()))
}

func (b *BackendGroup) Switch(ctx echo.Context) error {
	var req switchRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Backend.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown backend")
	}

	if err := b.manager.SwitchBackend(ctx.Request().Context(), req.Backend, req.SkipHealthCheck); err != nil {
		return httpError(err)
	}

	return ctx.JSON(http.StatusOK, b.manager.BackendInfo(ctx.Request().Context()))
}
