package manager

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/rbac"
	"github.com/cuemby/magpie/pkg/scheduler"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// maxNameLength bounds task names; the minimum is one character
const maxNameLength = 200

// ExecutionEngine is the slice of pkg/engine the manager drives: admit a
// fresh pending execution, stop a live one. Admission is best-effort; the
// committed row survives a full queue and the reconciler re-admits it.
type ExecutionEngine interface {
	Admit(task *types.Task, execution *types.Execution) error
	StopExecution(ctx context.Context, executionID string) error
}

// Manager applies the control-plane business rules. It is safe for
// concurrent use: all state lives in the store, the cache, and the
// engine, each of which is itself concurrency-safe.
type Manager struct {
	store    storage.Store
	engine   ExecutionEngine
	enforcer *rbac.Enforcer
	broker   *events.Broker
	logs     LogSource
	cfg      *config.Config
	logger   zerolog.Logger

	// now is swappable so tests can pin the clock
	now func() time.Time
}

// LogSource tails container logs for the diagnostic executions/logs
// endpoint. pkg/hostdriver.Driver satisfies it.
type LogSource interface {
	Logs(ctx context.Context, ref string, tail int) (string, error)
}

// New creates a manager over the shared collaborators
func New(store storage.Store, eng ExecutionEngine, enforcer *rbac.Enforcer, broker *events.Broker, logs LogSource, cfg *config.Config) *Manager {
	return &Manager{
		store:    store,
		engine:   eng,
		enforcer: enforcer,
		broker:   broker,
		logs:     logs,
		cfg:      cfg,
		logger:   log.WithComponent("manager"),
		now:      time.Now,
	}
}

// ScheduleSpec is the user-supplied recurrence rule attached to an auto
// task at create or update time.
type ScheduleSpec struct {
	Type   types.ScheduleType   `json:"type"`
	Config types.ScheduleConfig `json:"config"`
}

// CreateTaskRequest carries everything needed to register a task. An
// auto task must include a schedule; a manual task must not.
type CreateTaskRequest struct {
	Name          string               `json:"name"`
	Type          types.TaskType       `json:"type"`
	TriggerMode   types.TriggerMode    `json:"trigger_mode"`
	BaseURL       string               `json:"base_url"`
	Params        []*types.ParamSpec   `json:"params,omitempty"`
	LoginRequired bool                 `json:"login_required"`
	Extract       *types.ExtractConfig `json:"extract,omitempty"`
	Description   string               `json:"description,omitempty"`
	Schedule      *ScheduleSpec        `json:"schedule,omitempty"`
}

// UpdateTaskRequest patches a task. Nil fields keep their current value;
// a schedule spec replaces the existing schedule (and is required when
// switching a manual task to auto).
type UpdateTaskRequest struct {
	Name          *string              `json:"name,omitempty"`
	TriggerMode   *types.TriggerMode   `json:"trigger_mode,omitempty"`
	BaseURL       *string              `json:"base_url,omitempty"`
	Params        []*types.ParamSpec   `json:"params,omitempty"`
	LoginRequired *bool                `json:"login_required,omitempty"`
	Extract       *types.ExtractConfig `json:"extract,omitempty"`
	Description   *string              `json:"description,omitempty"`
	Schedule      *ScheduleSpec        `json:"schedule,omitempty"`
}

// canWrite reports whether subject may mutate the task. Creators always
// control their own tasks; others need a write grant on the task or the
// class.
func (m *Manager) canWrite(subject string, task *types.Task) (bool, error) {
	if subject == rbac.AdminSubject || task.CreatedBy == subject {
		return true, nil
	}
	if ok, err := m.enforcer.Allow(subject, rbac.TaskObject(task.ID), rbac.ActionWrite); err != nil || ok {
		return ok, err
	}
	return m.enforcer.Allow(subject, rbac.ObjectTasks, rbac.ActionWrite)
}

// canExecute reports whether subject may run or stop the task
func (m *Manager) canExecute(subject string, task *types.Task) (bool, error) {
	if subject == rbac.AdminSubject || task.CreatedBy == subject {
		return true, nil
	}
	if ok, err := m.enforcer.Allow(subject, rbac.TaskObject(task.ID), rbac.ActionExecute); err != nil || ok {
		return ok, err
	}
	return m.enforcer.Allow(subject, rbac.ObjectTasks, rbac.ActionExecute)
}

func permissionDenied(subject, verb string) error {
	return fmt.Errorf("subject %q may not %s: %w", subject, verb, errdefs.ErrPermissionDenied)
}

// loadTask reads a task and hides soft-deleted rows from the API surface
func (m *Manager) loadTask(id string) (*types.Task, error) {
	task, err := m.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, fmt.Errorf("task not found: %s: %w", id, errdefs.ErrNotFound)
	}
	return task, nil
}

// validateTaskFields checks the fields shared by create and update
func validateTaskFields(name string, tt types.TaskType, baseURL string, params []*types.ParamSpec) error {
	if len(name) < 1 || len(name) > maxNameLength {
		return fmt.Errorf("task name must be 1..%d characters, got %d: %w",
			maxNameLength, len(name), errdefs.ErrInvalidArgument)
	}
	switch tt {
	case types.TaskTypeContainerCrawl, types.TaskTypeAPIPull, types.TaskTypeDBExtract:
	default:
		return fmt.Errorf("unknown task type %q: %w", tt, errdefs.ErrInvalidArgument)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL %q is not an absolute URL: %w", baseURL, errdefs.ErrInvalidArgument)
	}
	for _, p := range params {
		if err := validateParam(p); err != nil {
			return err
		}
	}
	return nil
}

func validateParam(p *types.ParamSpec) error {
	if p.Name == "" {
		return fmt.Errorf("param name must not be empty: %w", errdefs.ErrInvalidArgument)
	}
	switch p.Kind {
	case types.ParamKindList:
		if len(p.Values) == 0 {
			return fmt.Errorf("list param %q needs values: %w", p.Name, errdefs.ErrInvalidArgument)
		}
	case types.ParamKindRange:
		if p.Range == nil {
			return fmt.Errorf("range param %q needs a range: %w", p.Name, errdefs.ErrInvalidArgument)
		}
		if p.Range.Step == 0 {
			return fmt.Errorf("range param %q needs a non-zero step: %w", p.Name, errdefs.ErrInvalidArgument)
		}
	case types.ParamKindValue:
		if p.Value == "" {
			return fmt.Errorf("value param %q needs a value: %w", p.Name, errdefs.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("param %q has unknown kind %q: %w", p.Name, p.Kind, errdefs.ErrInvalidArgument)
	}
	return nil
}

func validateScheduleSpec(spec *ScheduleSpec) error {
	return scheduler.ValidateScheduleConfig(spec.Type, spec.Config)
}
