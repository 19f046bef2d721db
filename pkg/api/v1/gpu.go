package apiv1

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/backend"
	"github.com/beam-cloud/llmgate/pkg/orchestrator"
)

type GPUOrchestrator interface {
	Status() orchestrator.Status
	ExtendKeepAlive(minutes int) (time.Time, error)
	CleanupOrphanedInstances(ctx context.Context) (int, error)
}

type GPUProvisioner interface {
	LaunchVLLMGPU(ctx context.Context, keepAliveMinutes int) (backend.LaunchResult, error)
	DestroyVLLMGPU(ctx context.Context) error
}

type GPUGroup struct {
	routerGroup  *echo.Group
	orchestrator GPUOrchestrator
	provisioner  GPUProvisioner
}

type launchRequest struct {
	KeepAliveMinutes int `json:"keep_alive_minutes"`
}

type keepAliveRequest struct {
	Minutes int `json:"minutes"`
}

// NewGPUGroup registers the rented GPU routes. orch may be nil when no
// marketplace is configured; status and cleanup then report 404.
func NewGPUGroup(g *echo.Group, orch GPUOrchestrator, provisioner GPUProvisioner) *GPUGroup {
	group := &GPUGroup{routerGroup: g, orchestrator: orch, provisioner: provisioner}

	g.GET("/status", group.Status)
	g.POST("/launch", group.Launch)
	g.POST("/keepalive", group.ExtendKeepAlive)
	g.POST("/cleanup", group.CleanupOrphans)
	g.DELETE("", group.Destroy)

	return group
}

func (g *GPUGroup) requireOrchestrator() error {
	if g.orchestrator == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no gpu marketplace configured")
	}
	return nil
}

func (g *GPUGroup) Status(ctx echo.Context) error {
	if err := g.requireOrchestrator(); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, g.orchestrator.Status())
}

func (g *GPUGroup) Launch(ctx echo.Context) error {
	var req launchRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.KeepAliveMinutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "keep_alive_minutes must not be negative")
	}

	result, err := g.provisioner.LaunchVLLMGPU(ctx.Request().Context(), req.KeepAliveMinutes)
	if err != nil {
		return httpError(err)
	}

	status := http.StatusOK
	if result.Status == backend.LaunchStatusLaunching {
		status = http.StatusAccepted
	}
	return ctx.JSON(status, result)
}

func (g *GPUGroup) ExtendKeepAlive(ctx echo.Context) error {
	if err := g.requireOrchestrator(); err != nil {
		return err
	}

	var req keepAliveRequest
	if err := ctx.Bind(&req); err != nil || req.Minutes <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "minutes must be positive")
	}

	until, err := g.orchestrator.ExtendKeepAlive(req.Minutes)
	if err != nil {
		return httpError(err)
	}

	return ctx.JSON(http.StatusOK, map[string]time.Time{"keep_alive_until": until})
}

func (g *GPUGroup) CleanupOrphans(ctx echo.Context) error {
	if err := g.requireOrchestrator(); err != nil {
		return err
	}

	destroyed, err := g.orchestrator.CleanupOrphanedInstances(ctx.Request().Context())
	body := map[string]interface{}{"destroyed": destroyed}
	if err != nil {
		body["error"] = err.Error()
		return ctx.JSON(http.StatusInternalServerError, body)
	}

	return ctx.JSON(http.StatusOK, body)
}

func (g *GPUGroup) Destroy(ctx echo.Context) error {
	if err := g.provisioner.DestroyVLLMGPU(ctx.Request().Context()); err != nil {
		return httpError(err)
	}
	return ctx.NoContent(http.StatusNoContent)
}
