package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuth is returned when the marketplace rejects the credential.
type ErrAuth struct {
	Message string
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

type ErrNotFound struct {
	Resource string
	Id       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Id)
}

type ErrRateLimited struct {
	Message string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// ErrServer is a retryable 5xx response.
type ErrServer struct {
	StatusCode int
	Message    string
}

func (e *ErrServer) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// ErrClient is a non-retryable 4xx response other than 401, 404 and 429.
type ErrClient struct {
	StatusCode int
	Message    string
}

func (e *ErrClient) Error() string {
	return fmt.Sprintf("client error %d: %s", e.StatusCode, e.Message)
}

type ErrLaunchTimeout struct {
	Stage   string
	Timeout time.Duration
}

func (e *ErrLaunchTimeout) Error() string {
	return fmt.Sprintf("timed out after %s during %s", e.Timeout, e.Stage)
}

// ErrInstanceTerminated means the rented instance exited or stopped before it became ready.
type ErrInstanceTerminated struct {
	InstanceId int64
	Status     string
	Message    string
}

func (e *ErrInstanceTerminated) Error() string {
	return fmt.Sprintf("instance %d terminated during boot (%s): %s", e.InstanceId, e.Status, e.Message)
}

type BudgetCheckpoint string

const (
	CheckpointGlobal  BudgetCheckpoint = "global"
	CheckpointSession BudgetCheckpoint = "session"
)

type ErrBudgetExceeded struct {
	Checkpoint BudgetCheckpoint
	Spent      float64
	Limit      float64
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded at %s checkpoint: $%.4f >= $%.4f", e.Checkpoint, e.Spent, e.Limit)
}

type ErrNoGPUAvailable struct {
	ConfigsTried int
	LastErr      error
}

func (e *ErrNoGPUAvailable) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("no gpu available after trying %d configs: %v", e.ConfigsTried, e.LastErr)
	}
	return fmt.Sprintf("no gpu available after trying %d configs", e.ConfigsTried)
}

func (e *ErrNoGPUAvailable) Unwrap() error {
	return e.LastErr
}

type ErrInvalidBackendState struct {
	Backend Backend
	Reason  string
}

func (e *ErrInvalidBackendState) Error() string {
	return fmt.Sprintf("invalid state for backend %s: %s", e.Backend, e.Reason)
}

type ErrLaunchInProgress struct {
	State LaunchState
}

func (e *ErrLaunchInProgress) Error() string {
	return fmt.Sprintf("launch already in progress (state: %s)", e.State)
}

type ErrJobNotFound struct {
	JobId string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobId)
}

func (e *ErrJobNotFound) From(err error) bool {
	var target *ErrJobNotFound
	return errors.As(err, &target)
}

var ErrJobTimeout = errors.New("job exceeded its timeout")

// IsRetryable reports whether an error is a transient marketplace failure.
func IsRetryable(err error) bool {
	var serverErr *ErrServer
	var rateErr *ErrRateLimited
	return errors.As(err, &serverErr) || errors.As(err, &rateErr)
}

// IsOperatorActionable reports whether an error needs a human decision rather
// than a retry: budget or GPU exhaustion, or a bad credential.
func IsOperatorActionable(err error) bool {
	var budgetErr *ErrBudgetExceeded
	var exhaustedErr *ErrNoGPUAvailable
	var authErr *ErrAuth
	return errors.As(err, &budgetErr) || errors.As(err, &exhaustedErr) || errors.As(err, &authErr)
}

func IsNotFound(err error) bool {
	var notFound *ErrNotFound
	return errors.As(err, &notFound)
}
