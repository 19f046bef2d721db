package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/llmgate/pkg/types"
)

func newRunnerForTest(t *testing.T, opts ...RunnerOption) (*Runner, Store) {
	store := NewMemoryStore(types.JobStoreConfig{TTL: time.Hour})
	t.Cleanup(func() { store.Close() })
	return NewRunner(store, opts...), store
}

func TestRunCompletesJob(t *testing.T) {
	runner, store := newRunnerForTest(t)
	ctx := context.Background()

	created, err := store.CreateJob(ctx, types.CreateJobRequest{
		JobType:   types.JobTypeAgent,
		AgentName: "researcher",
		InputData: map[string]interface{}{"topic": "gpus"},
		Metadata:  map[string]interface{}{"tenant_id": "acme"},
	})
	require.NoError(t, err)

	var seen *types.AgentContext
	job, err := runner.Run(ctx, created.JobID, func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		seen = agent
		return map[string]interface{}{"summary": "ok"}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, map[string]interface{}{"summary": "ok"}, job.Result)

	require.NotNil(t, seen)
	assert.Equal(t, created.JobID, seen.JobID)
	assert.Equal(t, "acme", seen.TenantID)
	assert.Equal(t, "gpus", seen.Input["topic"])
}

func TestRunRecordsFailureType(t *testing.T) {
	runner, store := newRunnerForTest(t)
	ctx := context.Background()

	created, err := store.CreateJob(ctx, agentRequest("writer"))
	require.NoError(t, err)

	job, err := runner.Run(ctx, created.JobID, func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		return nil, &types.ErrServer{StatusCode: 503, Message: "overloaded"}
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, "ErrServer", job.ErrorType)
	assert.Contains(t, job.Error, "overloaded")
}

func TestRunRecoversPanic(t *testing.T) {
	runner, store := newRunnerForTest(t)
	ctx := context.Background()

	created, err := store.CreateJob(ctx, agentRequest("writer"))
	require.NoError(t, err)

	job, err := runner.Run(ctx, created.JobID, func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		panic("nil map")
	})
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "nil map")
}

func TestRunTimeout(t *testing.T) {
	tests := []struct {
		name string
		fn   AgentFunc
	}{
		{
			name: "cooperative",
			fn: func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		{
			name: "ignores context",
			fn: func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
				time.Sleep(200 * time.Millisecond)
				return "late", nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, store := newRunnerForTest(t, WithRunTimeout(20*time.Millisecond))
			ctx := context.Background()

			created, err := store.CreateJob(ctx, agentRequest("slow"))
			require.NoError(t, err)

			start := time.Now()
			job, err := runner.Run(ctx, created.JobID, tt.fn)
			require.NoError(t, err)

			assert.Less(t, time.Since(start), 150*time.Millisecond)
			assert.Equal(t, types.JobStatusTimeout, job.Status)
			assert.Equal(t, "timeout", job.ErrorType)
			assert.Contains(t, job.Error, types.ErrJobTimeout.Error())
		})
	}
}

func TestRunCancelledByCaller(t *testing.T) {
	runner, store := newRunnerForTest(t)

	created, err := store.CreateJob(context.Background(), agentRequest("slow"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	job, err := runner.Run(ctx, created.JobID, func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
}

func TestSubmitAndCancel(t *testing.T) {
	runner, store := newRunnerForTest(t)
	ctx := context.Background()

	running := make(chan struct{})
	job, err := runner.Submit(ctx, agentRequest("slow"), func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-running

	cancelled, err := runner.Cancel(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.running) == 0
	}, time.Second, time.Millisecond)

	stored, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, stored.Status)
}

func TestRunSkipsCancelledJob(t *testing.T) {
	runner, store := newRunnerForTest(t)
	ctx := context.Background()

	created, err := store.CreateJob(ctx, agentRequest("writer"))
	require.NoError(t, err)
	_, err = store.CancelJob(ctx, created.JobID)
	require.NoError(t, err)

	called := false
	job, err := runner.Run(ctx, created.JobID, func(ctx context.Context, agent *types.AgentContext) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
}

func TestRunParallel(t *testing.T) {
	runner, _ := newRunnerForTest(t, WithParallelism(2))
	agent := types.NewAgentContext("job-1", map[string]interface{}{"topic": "gpus"})
	agent.Scratch["shared"] = "before"

	err := runner.RunParallel(context.Background(), agent, map[string]AgentFunc{
		"researcher": func(ctx context.Context, a *types.AgentContext) (interface{}, error) {
			a.Scratch["shared"] = "researcher"
			return "facts", nil
		},
		"writer": func(ctx context.Context, a *types.AgentContext) (interface{}, error) {
			return "draft for " + a.Input["topic"].(string), nil
		},
		"critic": func(ctx context.Context, a *types.AgentContext) (interface{}, error) {
			return nil, errors.New("model refused")
		},
		"slow": func(ctx context.Context, a *types.AgentContext) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, 20*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrJobTimeout)
	assert.Contains(t, err.Error(), "model refused")

	assert.Equal(t, "facts", agent.Results["researcher"])
	assert.Equal(t, "draft for gpus", agent.Results["writer"])
	assert.NotContains(t, agent.Results, "critic")
	assert.Len(t, agent.Errors, 2)
	assert.Contains(t, agent.Errors, "slow")
	assert.Equal(t, "before", agent.Scratch["shared"])
}

func TestErrorTypeName(t *testing.T) {
	assert.Equal(t, "ErrServer", errorTypeName(&types.ErrServer{}))
	assert.Equal(t, "errorString", errorTypeName(errors.New("x")))
}
