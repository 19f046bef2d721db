package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/types"
)

// MemoryStore keeps jobs in process memory. Records returned to callers are
// copies, so mutating them does not change the stored job. Expired entries
// leave the index as soon as the cache evicts them.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *types.Job]
	index map[string]struct{}
	ttl   time.Duration

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewMemoryStore(config types.JobStoreConfig) *MemoryStore {
	cache := ttlcache.New[string, *types.Job](
		ttlcache.WithDisableTouchOnHit[string, *types.Job](),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		cache:  cache,
		index:  map[string]struct{}{},
		ttl:    jobTTL(config),
		cancel: cancel,
	}
	s.unsubscribe = cache.OnEviction(s.onEviction)
	go cache.Start()

	if config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(ctx, config.CleanupInterval)
	}

	return s
}

func (s *MemoryStore) onEviction(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *types.Job]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, item.Key())
}

func (s *MemoryStore) CreateJob(ctx context.Context, req types.CreateJobRequest) (*types.Job, error) {
	job, err := newJob(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(job.JobID, cloneJob(job), ttlcache.NoTTL)
	s.index[job.JobID] = struct{}{}

	log.Info().Str("job_id", job.JobID).Str("job_type", string(job.JobType)).Str("name", job.Name()).Msg("job created")
	return job, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobId string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(jobId)
	if err != nil {
		return nil, err
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) getLocked(jobId string) (*types.Job, error) {
	item := s.cache.Get(jobId)
	if item == nil {
		return nil, &types.ErrJobNotFound{JobId: jobId}
	}
	return item.Value(), nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, jobId string, update types.JobUpdate) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.getLocked(jobId)
	if err != nil {
		return nil, err
	}

	job := cloneJob(stored)
	if err := applyUpdate(job, update, time.Now().UTC()); err != nil {
		return nil, err
	}

	ttl := ttlcache.NoTTL
	if job.Status.IsTerminal() {
		ttl = s.ttl
		if stored.Status.IsTerminal() {
			// Keep the original expiry once a job has finished.
			if item := s.cache.Get(jobId); item != nil {
				if remaining := time.Until(item.ExpiresAt()); remaining > 0 {
					ttl = remaining
				}
			}
		}
	}

	s.cache.Set(jobId, job, ttl)
	return cloneJob(job), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*types.Job, 0, len(s.index))
	for id := range s.index {
		if item := s.cache.Get(id); item != nil {
			jobs = append(jobs, cloneJob(item.Value()))
		}
	}

	return filterJobs(jobs, filter), nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, jobId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(jobId); err != nil {
		return err
	}

	s.cache.Delete(jobId)
	delete(s.index, jobId)
	return nil
}

func (s *MemoryStore) CancelJob(ctx context.Context, jobId string) (*types.Job, error) {
	job, err := s.UpdateJob(ctx, jobId, cancelUpdate())
	if errors.Is(err, ErrJobFinished) {
		return s.GetJob(ctx, jobId)
	}
	return job, err
}

// CleanupExpired evicts expired jobs and drops any index entry left behind.
// It returns how many entries it removed itself, which is usually zero while
// the cache's own expiry loop keeps up.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	// Eviction callbacks take s.mu, so expire outside of it.
	s.cache.DeleteExpired()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.index {
		if s.cache.Get(id) == nil {
			delete(s.index, id)
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Msg("cleaned up expired jobs")
	}
	return removed, nil
}

func (s *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("job cleanup failed")
			}
		}
	}
}

// Close stops the cleanup loop and the cache's expiry loop.
func (s *MemoryStore) Close() error {
	s.cancel()
	s.wg.Wait()
	s.cache.Stop()
	s.unsubscribe()
	return nil
}
