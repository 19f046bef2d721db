package jobs

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/common"
	"github.com/beam-cloud/llmgate/pkg/types"
)

var ErrJobFinished = errors.New("job already reached a terminal status")

// Store persists job records. Terminal jobs expire after the configured TTL.
type Store interface {
	CreateJob(ctx context.Context, req types.CreateJobRequest) (*types.Job, error)
	GetJob(ctx context.Context, jobId string) (*types.Job, error)
	UpdateJob(ctx context.Context, jobId string, update types.JobUpdate) (*types.Job, error)
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error)
	DeleteJob(ctx context.Context, jobId string) error
	CancelJob(ctx context.Context, jobId string) (*types.Job, error)
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

// NewStore returns a redis-backed store when a client is available, and an
// in-memory store otherwise if the config allows it.
func NewStore(ctx context.Context, config types.JobStoreConfig, rdb *common.RedisClient) (Store, error) {
	if rdb != nil {
		return NewRedisStore(ctx, rdb, config), nil
	}

	if !config.MemoryFallback {
		return nil, errors.New("job store: redis unavailable and memory fallback disabled")
	}

	log.Warn().Msg("redis unavailable, jobs will be kept in memory and lost on restart")
	return NewMemoryStore(config), nil
}

func jobTTL(config types.JobStoreConfig) time.Duration {
	if config.TTL <= 0 {
		return types.DefaultJobTTL
	}
	return config.TTL
}

func newJob(req types.CreateJobRequest) (*types.Job, error) {
	switch req.JobType {
	case types.JobTypeAgent:
		if req.AgentName == "" {
			return nil, errors.New("agent job requires an agent name")
		}
	case types.JobTypeWorkflow:
		if req.WorkflowName == "" {
			return nil, errors.New("workflow job requires a workflow name")
		}
	default:
		return nil, errors.New("unknown job type: " + string(req.JobType))
	}

	input := req.InputData
	if input == nil {
		input = map[string]interface{}{}
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &types.Job{
		JobID:        uuid.New().String(),
		JobType:      req.JobType,
		AgentName:    req.AgentName,
		WorkflowName: req.WorkflowName,
		InputData:    input,
		Metadata:     metadata,
		Status:       types.JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// applyUpdate mutates job in place. Terminal jobs reject status changes.
func applyUpdate(job *types.Job, update types.JobUpdate, now time.Time) error {
	if update.Status != nil {
		status := *update.Status
		if !status.Valid() {
			return errors.New("invalid job status: " + string(status))
		}

		if job.Status.IsTerminal() && status != job.Status {
			return ErrJobFinished
		}

		job.Status = status
	}

	if update.Progress != nil {
		progress := *update.Progress
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		job.Progress = progress
	}

	if update.Result != nil {
		job.Result = update.Result
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	if update.ErrorType != nil {
		job.ErrorType = *update.ErrorType
	}

	for k, v := range update.Metadata {
		if job.Metadata == nil {
			job.Metadata = map[string]interface{}{}
		}
		job.Metadata[k] = v
	}

	if job.Status == types.JobStatusRunning && job.StartedAt == nil {
		started := now
		job.StartedAt = &started
	}

	if job.Status.IsTerminal() {
		if job.CompletedAt == nil {
			completed := now
			job.CompletedAt = &completed
		}
		if job.Status == types.JobStatusCompleted {
			job.Progress = 100
		}
	}

	return nil
}

func cancelUpdate() types.JobUpdate {
	status := types.JobStatusCancelled
	return types.JobUpdate{Status: &status}
}

// filterJobs applies filter and returns the newest jobs first.
func filterJobs(jobs []*types.Job, filter types.JobFilter) []*types.Job {
	matched := make([]*types.Job, 0, len(jobs))
	for _, job := range jobs {
		if filter.Matches(job) {
			matched = append(matched, job)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

func cloneJob(job *types.Job) *types.Job {
	c := *job
	c.InputData = cloneMap(job.InputData)
	c.Metadata = cloneMap(job.Metadata)
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
