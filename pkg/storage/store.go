package storage

import (
	"time"

	"github.com/cuemby/magpie/pkg/types"
)

// Store defines the interface for orchestrator state storage
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	GetTaskByName(name string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// Schedules
	CreateSchedule(schedule *types.Schedule) error
	GetSchedule(id string) (*types.Schedule, error)
	GetScheduleByTask(taskID string) (*types.Schedule, error)
	ListSchedules() ([]*types.Schedule, error)
	ListDueSchedules(now time.Time, limit int) ([]*types.Schedule, error)
	UpdateSchedule(schedule *types.Schedule) error
	DeleteSchedulesByTask(taskID string) error

	// Executions. Status transitions must go through TransitionExecution;
	// terminal rows are never rewritten.
	CreateExecution(execution *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	GetActiveExecution(taskID string) (*types.Execution, error)
	ListExecutionsByTask(taskID string, limit, offset int) ([]*types.Execution, error)
	ListExecutionsByStatus(status types.ExecutionStatus) ([]*types.Execution, error)
	LastExecutions(taskID string, n int) ([]*types.Execution, error)
	UpdateExecution(execution *types.Execution) error
	TransitionExecution(id string, from []types.ExecutionStatus, apply func(*types.Execution)) (*types.Execution, error)
	SetExecutionHeartbeat(id string, at time.Time) error

	// FireSchedule atomically records a schedule fire: the pending
	// execution and the schedule's recomputed next-fire commit together.
	FireSchedule(execution *types.Execution, schedule *types.Schedule) error

	// Policies
	CreatePolicy(policy *types.Policy) error
	ListPolicies() ([]*types.Policy, error)
	ListPoliciesBySubject(subject string) ([]*types.Policy, error)
	DeletePolicy(id string) error

	// Utility
	Close() error
}
