package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task represents a declarative collection job
type Task struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          TaskType       `json:"type"`
	Status        TaskStatus     `json:"status"`
	TriggerMode   TriggerMode    `json:"trigger_mode"`
	BaseURL       string         `json:"base_url"`
	Params        []*ParamSpec   `json:"params,omitempty"`
	LoginRequired bool           `json:"login_required"`
	Extract       *ExtractConfig `json:"extract,omitempty"`
	CreatedBy     string         `json:"created_by"`
	Description   string         `json:"description,omitempty"`
	Deleted       bool           `json:"deleted"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TaskType defines what kind of collector the task runs
type TaskType string

const (
	TaskTypeContainerCrawl TaskType = "container-crawl"
	TaskTypeAPIPull        TaskType = "api-pull"
	TaskTypeDBExtract      TaskType = "db-extract"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusActive  TaskStatus = "active"
	TaskStatusPaused  TaskStatus = "paused"
	TaskStatusRunning TaskStatus = "running"
)

// TriggerMode defines how a task is launched
type TriggerMode string

const (
	// TriggerManual tasks run only on explicit execute requests
	TriggerManual TriggerMode = "manual"

	// TriggerAuto tasks run from their schedule; exactly one non-deleted
	// schedule must exist for the task
	TriggerAuto TriggerMode = "auto"
)

// ParamSpec describes one URL parameter in the task's request template
type ParamSpec struct {
	Name   string     `json:"name"`
	Kind   ParamKind  `json:"kind"`
	Values []string   `json:"values,omitempty"` // kind "list"
	Range  *RangeSpec `json:"range,omitempty"`  // kind "range"
	Value  string     `json:"value,omitempty"`  // kind "value"
}

// ParamKind discriminates the value-spec shape of a ParamSpec
type ParamKind string

const (
	ParamKindList  ParamKind = "list"
	ParamKindRange ParamKind = "range"
	ParamKindValue ParamKind = "value"
)

// RangeSpec is an inclusive numeric parameter sweep
type RangeSpec struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Step  int `json:"step"`
}

// ExtractConfig tells the collector what to pull out of each response
type ExtractConfig struct {
	Method     string       `json:"method"`
	ListenPath string       `json:"listen_path,omitempty"`
	DatasetID  string       `json:"dataset_id"`
	Fields     []*FieldSpec `json:"fields,omitempty"`
}

// FieldSpec describes a single extracted field
type FieldSpec struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Kind     string `json:"kind,omitempty"`
}

// Schedule is a task's recurrence rule
type Schedule struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Type      ScheduleType   `json:"type"`
	Config    ScheduleConfig `json:"config"`
	Active    bool           `json:"active"`
	NextFire  *time.Time     `json:"next_fire,omitempty"` // nil means never fires again
	Deleted   bool           `json:"deleted"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ScheduleType defines the recurrence rule family
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleOnceAt    ScheduleType = "once-at"
	ScheduleInterval  ScheduleType = "interval"
	ScheduleDaily     ScheduleType = "daily"
	ScheduleWeekly    ScheduleType = "weekly"
	ScheduleMonthly   ScheduleType = "monthly"
	ScheduleCron      ScheduleType = "cron"
)

// ScheduleConfig carries the per-type recurrence parameters. Which fields
// are meaningful depends on the schedule type:
//
//	once-at:  Datetime ("YYYY-MM-DD HH:MM:SS", local time)
//	interval: Interval + Unit ("seconds", "minutes", "hours")
//	daily:    Time ("HH:MM:SS")
//	weekly:   Days (1=Monday .. 7=Sunday) + Time
//	monthly:  Dates (1..31, -1 = last day of month) + Time
//	cron:     CronExpression
//
// immediate takes no parameters.
type ScheduleConfig struct {
	Datetime       string       `json:"datetime,omitempty"`
	Interval       int          `json:"interval,omitempty"`
	Unit           IntervalUnit `json:"unit,omitempty"`
	Time           string       `json:"time,omitempty"`
	Days           []int        `json:"days,omitempty"`
	Dates          []int        `json:"dates,omitempty"`
	CronExpression string       `json:"cron_expression,omitempty"`
}

// IntervalUnit is the unit of an interval schedule's period
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
)

// Execution represents one attempt to run a task
type Execution struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	Executor      string          `json:"executor"` // scheduled runs carry the task creator
	Name          string          `json:"name"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	ContainerName string          `json:"container_name"` // task-<execution-id>, fixed at creation
	ContainerID   string          `json:"container_id,omitempty"`
	ConfigPath    string          `json:"config_path,omitempty"`
	HostPort      int             `json:"host_port,omitempty"`
	Command       string          `json:"command,omitempty"` // full host command, for audit
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorLog      string          `json:"error_log,omitempty"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ExecutionStatus represents the state of an execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is absorbing. Terminal executions
// are never rewritten.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// ContainerName returns the deterministic container name for an execution.
// The name is fixed at execution creation and never reused while the row
// is non-terminal.
func ContainerName(executionID string) string {
	return "task-" + executionID
}

// ExecutionName builds the human-readable name for an execution, e.g.
// "sched-1728814200-a1b2c3d4" or "manual-1728814200-a1b2c3d4". The kind
// prefix records how the run was initiated.
func ExecutionName(kind, taskID string, at time.Time) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%d-%s", kind, at.Unix(), short)
}

// Policy is one RBAC rule: subject may perform action on object
type Policy struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"` // role key
	Object    string    `json:"object"`  // resource name
	Action    string    `json:"action"`  // verb
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a control-plane event (for streaming API)
type Event struct {
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	TaskID      string            `json:"task_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	ScheduleID  string            `json:"schedule_id,omitempty"`
	Message     string            `json:"message,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// EventType classifies control-plane events
type EventType string

const (
	EventTaskCreated       EventType = "task-created"
	EventTaskUpdated       EventType = "task-updated"
	EventTaskDeleted       EventType = "task-deleted"
	EventExecutionAdmitted EventType = "execution-admitted"
	EventExecutionStarted  EventType = "execution-started"
	EventExecutionEnded    EventType = "execution-ended"
	EventScheduleFired     EventType = "schedule-fired"
	EventScheduleDisabled  EventType = "schedule-disabled"
)
