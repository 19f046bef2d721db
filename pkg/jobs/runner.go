package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	DefaultRunTimeout time.Duration = 30 * time.Minute

	errorTypeTimeout   string = "timeout"
	errorTypeCancelled string = "cancelled"
	tenantMetadataKey  string = "tenant_id"
)

// AgentFunc runs one agent or workflow step. It should return promptly once ctx is done.
type AgentFunc func(ctx context.Context, agent *types.AgentContext) (interface{}, error)

type RunnerOption func(*Runner)

func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithParallelism caps how many agents RunParallel executes at once.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		r.parallelism = n
	}
}

// Runner executes agent functions against stored jobs and records the outcome.
type Runner struct {
	store       Store
	timeout     time.Duration
	parallelism int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewRunner(store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		timeout: DefaultRunTimeout,
		running: map[string]context.CancelFunc{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit creates a job and runs it in the background. The run outlives ctx;
// use Cancel to stop it.
func (r *Runner) Submit(ctx context.Context, req types.CreateJobRequest, fn AgentFunc) (*types.Job, error) {
	job, err := r.store.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	r.running[job.JobID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.running, job.JobID)
			r.mu.Unlock()
		}()

		if _, err := r.Run(runCtx, job.JobID, fn); err != nil {
			log.Error().Str("job_id", job.JobID).Err(err).Msg("failed to record job outcome")
		}
	}()

	return job, nil
}

// Cancel marks the job cancelled and stops its run if this runner owns it.
func (r *Runner) Cancel(ctx context.Context, jobId string) (*types.Job, error) {
	job, err := r.store.CancelJob(ctx, jobId)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	cancel, ok := r.running[jobId]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return job, nil
}

// Run executes fn for an existing job and returns the job in its final state.
// The outcome of fn is recorded on the job; the returned error is only set
// when the store could not be read or written.
func (r *Runner) Run(ctx context.Context, jobId string, fn AgentFunc) (*types.Job, error) {
	job, err := r.store.GetJob(ctx, jobId)
	if err != nil {
		return nil, err
	}

	running := types.JobStatusRunning
	job, err = r.store.UpdateJob(ctx, jobId, types.JobUpdate{Status: &running})
	if err != nil {
		if errors.Is(err, ErrJobFinished) {
			return r.store.GetJob(ctx, jobId)
		}
		return nil, err
	}

	agent := types.NewAgentContext(job.JobID, job.InputData)
	if tenant, ok := job.Metadata[tenantMetadataKey].(string); ok {
		agent.TenantID = tenant
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	result, runErr := invoke(runCtx, agent, fn)
	cancel()

	update := outcomeUpdate(result, runErr, r.timeout)

	log.Info().
		Str("job_id", jobId).
		Str("name", job.Name()).
		Str("status", string(*update.Status)).
		Dur("duration", time.Since(start)).
		Err(runErr).
		Msg("job finished")

	storeCtx := context.WithoutCancel(ctx)
	job, err = r.store.UpdateJob(storeCtx, jobId, update)
	if errors.Is(err, ErrJobFinished) {
		// Cancelled while running.
		return r.store.GetJob(storeCtx, jobId)
	}
	return job, err
}

func outcomeUpdate(result interface{}, err error, timeout time.Duration) types.JobUpdate {
	var (
		status    types.JobStatus
		message   string
		errorType string
	)

	switch {
	case err == nil:
		status = types.JobStatusCompleted
		return types.JobUpdate{Status: &status, Result: result}

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrJobTimeout):
		status = types.JobStatusTimeout
		message = fmt.Sprintf("%s (%s)", types.ErrJobTimeout.Error(), timeout)
		errorType = errorTypeTimeout

	case errors.Is(err, context.Canceled):
		status = types.JobStatusCancelled
		message = err.Error()
		errorType = errorTypeCancelled

	default:
		status = types.JobStatusFailed
		message = err.Error()
		errorType = errorTypeName(err)
	}

	return types.JobUpdate{Status: &status, Error: &message, ErrorType: &errorType}
}

// errorTypeName returns the bare type name of err, e.g. "ErrServer".
func errorTypeName(err error) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// invoke runs fn and gives up when ctx is done even if fn does not return.
func invoke(ctx context.Context, agent *types.AgentContext, fn AgentFunc) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()

		result, err := fn(ctx, agent)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunParallel runs every agent concurrently with its own timeout. Each agent
// sees a private copy of the context; results and errors are merged back
// under the agent's name. The returned error joins all agent failures.
func (r *Runner) RunParallel(ctx context.Context, agent *types.AgentContext, agents map[string]AgentFunc, perAgentTimeout time.Duration) error {
	if perAgentTimeout <= 0 {
		perAgentTimeout = r.timeout
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	if agent.Results == nil {
		agent.Results = map[string]interface{}{}
	}
	if agent.Errors == nil {
		agent.Errors = map[string]string{}
	}

	// Forks are taken before any agent starts writing results back.
	forks := make(map[string]*types.AgentContext, len(agents))
	for name := range agents {
		forks[name] = forkAgentContext(agent)
	}

	g := &errgroup.Group{}
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}

	for name, fn := range agents {
		name, fn, fork := name, fn, forks[name]

		g.Go(func() error {
			agentCtx, cancel := context.WithTimeout(ctx, perAgentTimeout)
			defer cancel()

			result, err := invoke(agentCtx, fork, fn)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("%w after %s", types.ErrJobTimeout, perAgentTimeout)
				}
				agent.Errors[name] = err.Error()
				errs = append(errs, fmt.Errorf("agent %s: %w", name, err))
				log.Warn().Str("job_id", agent.JobID).Str("agent", name).Err(err).Msg("parallel agent failed")
				return nil
			}

			agent.Results[name] = result
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

func forkAgentContext(agent *types.AgentContext) *types.AgentContext {
	return &types.AgentContext{
		JobID:    agent.JobID,
		TenantID: agent.TenantID,
		Input:    cloneMap(agent.Input),
		Results:  cloneMap(agent.Results),
		Errors:   map[string]string{},
		Scratch:  cloneMap(agent.Scratch),
	}
}
