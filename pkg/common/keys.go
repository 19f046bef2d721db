package common

import (
	"fmt"
)

var (
	jobPrefix      string = "job:"
	jobEntry       string = "job:%s"
	jobIndex       string = "jobs:index"
	jobCleanupLock string = "jobs:cleanup:lock"
)

var (
	gpuLaunchLock string = "gpu:launch:lock:%s"
)

var RedisKeys = &redisKeys{}

type redisKeys struct{}

// Job keys
func (rk *redisKeys) JobPrefix() string {
	return jobPrefix
}

func (rk *redisKeys) JobEntry(jobId string) string {
	return fmt.Sprintf(jobEntry, jobId)
}

func (rk *redisKeys) JobIndex() string {
	return jobIndex
}

func (rk *redisKeys) JobCleanupLock() string {
	return jobCleanupLock
}

// GPU keys
func (rk *redisKeys) GPULaunchLock(clusterName string) string {
	return fmt.Sprintf(gpuLaunchLock, clusterName)
}
