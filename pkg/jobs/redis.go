package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/common"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	maxUpdateAttempts int = 5
	cleanupLockTtlS   int = 60
	listBatchSize     int = 500
)

type RedisStore struct {
	rdb    *common.RedisClient
	lock   *common.RedisLock
	ttl    time.Duration
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisStore starts the expired-entry cleanup loop when an interval is
// configured. Close stops it.
func NewRedisStore(ctx context.Context, rdb *common.RedisClient, config types.JobStoreConfig) *RedisStore {
	ctx, cancel := context.WithCancel(ctx)

	s := &RedisStore{
		rdb:    rdb,
		lock:   common.NewRedisLock(rdb),
		ttl:    jobTTL(config),
		cancel: cancel,
	}

	if config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(ctx, config.CleanupInterval)
	}

	return s
}

func (s *RedisStore) CreateJob(ctx context.Context, req types.CreateJobRequest) (*types.Job, error) {
	job, err := newJob(req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, common.RedisKeys.JobEntry(job.JobID), data, 0)
		pipe.SAdd(ctx, common.RedisKeys.JobIndex(), job.JobID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job <%s>: %w", job.JobID, err)
	}

	log.Info().Str("job_id", job.JobID).Str("job_type", string(job.JobType)).Str("name", job.Name()).Msg("job created")
	return job, nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobId string) (*types.Job, error) {
	return s.get(ctx, s.rdb, jobId)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, jobId string) (*types.Job, error) {
	data, err := c.Get(ctx, common.RedisKeys.JobEntry(jobId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &types.ErrJobNotFound{JobId: jobId}
		}
		return nil, fmt.Errorf("failed to get job <%s>: %w", jobId, err)
	}

	job := &types.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("failed to deserialize job <%s>: %w", jobId, err)
	}
	return job, nil
}

// UpdateJob applies update inside an optimistic transaction on the job key.
func (s *RedisStore) UpdateJob(ctx context.Context, jobId string, update types.JobUpdate) (*types.Job, error) {
	key := common.RedisKeys.JobEntry(jobId)

	var updated *types.Job
	txf := func(tx *redis.Tx) error {
		job, err := s.get(ctx, tx, jobId)
		if err != nil {
			return err
		}

		wasTerminal := job.Status.IsTerminal()
		if err := applyUpdate(job, update, time.Now().UTC()); err != nil {
			return err
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to serialize job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if job.Status.IsTerminal() && !wasTerminal {
				pipe.Set(ctx, key, data, s.ttl)
			} else {
				pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = job
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Debug().Str("job_id", jobId).Str("status", string(updated.Status)).Int("progress", updated.Progress).Msg("job updated")
		return updated, nil
	}

	return nil, fmt.Errorf("failed to update job <%s>: too much contention", jobId)
}

func (s *RedisStore) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	ids, err := s.rdb.SMembers(ctx, common.RedisKeys.JobIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*types.Job, 0, len(ids))
	for start := 0; start < len(ids); start += listBatchSize {
		end := start + listBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, common.RedisKeys.JobEntry(id))
		}

		values, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Expired since it was indexed.
				continue
			}

			job := &types.Job{}
			if err := json.Unmarshal([]byte(raw), job); err != nil {
				log.Warn().Str("job_id", ids[start+i]).Err(err).Msg("skipping unreadable job")
				continue
			}
			jobs = append(jobs, job)
		}
	}

	return filterJobs(jobs, filter), nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobId string) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, common.RedisKeys.JobEntry(jobId))
		pipe.SRem(ctx, common.RedisKeys.JobIndex(), jobId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete job <%s>: %w", jobId, err)
	}

	if del.Val() == 0 {
		return &types.ErrJobNotFound{JobId: jobId}
	}
	return nil
}

// CancelJob marks a pending or running job cancelled. Finished jobs are returned unchanged.
func (s *RedisStore) CancelJob(ctx context.Context, jobId string) (*types.Job, error) {
	job, err := s.UpdateJob(ctx, jobId, cancelUpdate())
	if errors.Is(err, ErrJobFinished) {
		return s.GetJob(ctx, jobId)
	}
	return job, err
}

// CleanupExpired drops index entries whose job key has expired and re-indexes
// job keys missing from the index, such as ones left by an interrupted write
// from an older replica. Only one replica runs it at a time.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	lockKey := common.RedisKeys.JobCleanupLock()
	if err := s.lock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: cleanupLockTtlS}); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return 0, nil
		}
		return 0, err
	}
	defer s.lock.Release(lockKey)

	ids, err := s.rdb.SMembers(ctx, common.RedisKeys.JobIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read job index: %w", err)
	}

	if err := s.reindexStray(ctx, ids); err != nil {
		return 0, err
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, common.RedisKeys.JobEntry(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to check jobs: %w", err)
	}

	expired := []interface{}{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			expired = append(expired, ids[i])
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.rdb.SRem(ctx, common.RedisKeys.JobIndex(), expired...).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune job index: %w", err)
	}

	log.Info().Int("removed", len(expired)).Msg("cleaned up expired jobs")
	return len(expired), nil
}

func (s *RedisStore) reindexStray(ctx context.Context, indexed []string) error {
	keys, err := s.rdb.Keys(ctx, common.RedisKeys.JobPrefix()+"*")
	if err != nil {
		return fmt.Errorf("failed to scan job keys: %w", err)
	}

	known := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		known[id] = struct{}{}
	}

	stray := []interface{}{}
	for _, key := range keys {
		id := strings.TrimPrefix(key, common.RedisKeys.JobPrefix())
		if _, ok := known[id]; !ok && id != "" {
			stray = append(stray, id)
		}
	}

	if len(stray) == 0 {
		return nil
	}

	if err := s.rdb.SAdd(ctx, common.RedisKeys.JobIndex(), stray...).Err(); err != nil {
		return fmt.Errorf("failed to re-index jobs: %w", err)
	}

	log.Warn().Int("count", len(stray)).Msg("re-indexed jobs missing from index")
	return nil
}

func (s *RedisStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("job cleanup failed")
			}
		}
	}
}

// Close stops the cleanup loop. The redis client is owned by the caller.
func (s *RedisStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
