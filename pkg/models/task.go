package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a single agent task.
type TaskStatus string

// Agent task states. Tasks are single-use: a failed task is never retried in
// place; the scheduler may create a fresh one.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// TaskParams is the closed set of per-task parameter variants. Dispatch over
// params is exhaustive; there is no loose map[string]any bag.
type TaskParams interface {
	isTaskParams()
}

// FilingTaskParams routes a classified filing to one agent.
type FilingTaskParams struct {
	Filing         *Filing
	Classification *Classification
}

// ValidationFixParams applies a fix template to one entity.
type ValidationFixParams struct {
	Ticker     string
	TemplateID string
	Overrides  map[string]string
}

// ScheduledRunParams runs a cadence agent, recording why it was scheduled
// (time gate, LLM advisory, event trigger).
type ScheduledRunParams struct {
	Reason string
}

func (FilingTaskParams) isTaskParams()    {}
func (ValidationFixParams) isTaskParams() {}
func (ScheduledRunParams) isTaskParams()  {}

// AgentTask is a single unit of dispatched work.
type AgentTask struct {
	ID       string
	Agent    string
	Priority Priority
	Status   TaskStatus
	Params   TaskParams

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Result string
	Error  string
}

// NewTask creates a pending task for the given agent.
func NewTask(agent string, priority Priority, params TaskParams) *AgentTask {
	return &AgentTask{
		ID:        uuid.NewString(),
		Agent:     agent,
		Priority:  priority,
		Status:    TaskPending,
		Params:    params,
		CreatedAt: time.Now(),
	}
}
