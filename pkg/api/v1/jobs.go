package apiv1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/llmgate/pkg/jobs"
	"github.com/beam-cloud/llmgate/pkg/types"
)

// JobCanceller stops a running job in addition to marking it cancelled.
type JobCanceller interface {
	Cancel(ctx context.Context, jobId string) (*types.Job, error)
}

type JobGroup struct {
	routerGroup *echo.Group
	store       jobs.Store
	canceller   JobCanceller
}

// NewJobGroup registers the job routes. canceller may be nil, in which case
// cancelling only updates the stored record.
func NewJobGroup(g *echo.Group, store jobs.Store, canceller JobCanceller) *JobGroup {
	group := &JobGroup{routerGroup: g, store: store, canceller: canceller}

	g.GET("", group.ListJobs)
	g.GET("/:jobId", group.GetJob)
	g.POST("/:jobId/cancel", group.CancelJob)
	g.DELETE("/:jobId", group.DeleteJob)

	return group
}

func (j *JobGroup) ListJobs(ctx echo.Context) error {
	filter := types.JobFilter{
		Status:  types.JobStatus(ctx.QueryParam("status")),
		JobType: types.JobType(ctx.QueryParam("type")),
		Name:    ctx.QueryParam("name"),
	}

	if filter.Status != "" && !filter.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}

	list, err := j.store.ListJobs(ctx.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}

	return ctx.JSON(http.StatusOK, list)
}

func (j *JobGroup) GetJob(ctx echo.Context) error {
	job, err := j.store.GetJob(ctx.Request().Context(), ctx.Param("jobId"))
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(http.StatusOK, job)
}

func (j *JobGroup) CancelJob(ctx echo.Context) error {
	var (
		job *types.Job
		err error
	)

	if j.canceller != nil {
		job, err = j.canceller.Cancel(ctx.Request().Context(), ctx.Param("jobId"))
	} else {
		job, err = j.store.CancelJob(ctx.Request().Context(), ctx.Param("jobId"))
	}
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(http.StatusOK, job)
}

func (j *JobGroup) DeleteJob(ctx echo.Context) error {
	if err := j.store.DeleteJob(ctx.Request().Context(), ctx.Param("jobId")); err != nil {
		return httpError(err)
	}
	return ctx.NoContent(http.StatusNoContent)
}
