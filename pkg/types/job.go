package types

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusTimeout   JobStatus = "timeout"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	case JobStatusPending, JobStatusRunning:
		return false
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	}
	return false
}

type JobType string

const (
	JobTypeAgent    JobType = "agent"
	JobTypeWorkflow JobType = "workflow"
)

const DefaultJobTTL time.Duration = 24 * time.Hour

// Job is the persisted record of one asynchronous agent or workflow execution.
type Job struct {
	JobID        string                 `json:"job_id"`
	JobType      JobType                `json:"job_type"`
	AgentName    string                 `json:"agent_name,omitempty"`
	WorkflowName string                 `json:"workflow_name,omitempty"`
	InputData    map[string]interface{} `json:"input_data"`
	Metadata     map[string]interface{} `json:"metadata"`
	Status       JobStatus              `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at"`
	Progress     int                    `json:"progress"`
	Result       interface{}            `json:"result"`
	Error        string                 `json:"error,omitempty"`
	ErrorType    string                 `json:"error_type,omitempty"`
}

// Name returns the agent or workflow name depending on the job type.
func (j *Job) Name() string {
	if j.JobType == JobTypeWorkflow {
		return j.WorkflowName
	}
	return j.AgentName
}

type CreateJobRequest struct {
	JobType      JobType
	AgentName    string
	WorkflowName string
	InputData    map[string]interface{}
	Metadata     map[string]interface{}
}

// JobUpdate carries a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status    *JobStatus
	Progress  *int
	Result    interface{}
	Error     *string
	ErrorType *string
	Metadata  map[string]interface{}
}

type JobFilter struct {
	Status  JobStatus
	JobType JobType
	Name    string
	Limit   int
}

func (f JobFilter) Matches(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.JobType != "" && j.JobType != f.JobType {
		return false
	}
	if f.Name != "" && j.Name() != f.Name {
		return false
	}
	return true
}

// AgentContext is the typed state passed between workflow steps. Scratch holds
// agent-specific values that do not warrant a dedicated field.
type AgentContext struct {
	JobID    string                 `json:"job_id"`
	TenantID string                 `json:"tenant_id,omitempty"`
	Input    map[string]interface{} `json:"input"`
	Results  map[string]interface{} `json:"results"`
	Errors   map[string]string      `json:"errors,omitempty"`
	Scratch  map[string]interface{} `json:"scratch,omitempty"`
}

func NewAgentContext(jobID string, input map[string]interface{}) *AgentContext {
	return &AgentContext{
		JobID:   jobID,
		Input:   input,
		Results: map[string]interface{}{},
		Errors:  map[string]string{},
		Scratch: map[string]interface{}{},
	}
}
