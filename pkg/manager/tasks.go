package manager

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/cuemby/magpie/pkg/scheduler"
	"github.com/cuemby/magpie/pkg/types"
)

// CreateTask registers a task and, for auto tasks, its schedule. The
// name must be unique among non-deleted tasks.
func (m *Manager) CreateTask(subject string, req *CreateTaskRequest) (*types.Task, error) {
	if err := validateTaskFields(req.Name, req.Type, req.BaseURL, req.Params); err != nil {
		return nil, err
	}
	switch req.TriggerMode {
	case types.TriggerManual:
		if req.Schedule != nil {
			return nil, fmt.Errorf("manual task cannot carry a schedule: %w", errdefs.ErrInvalidArgument)
		}
	case types.TriggerAuto:
		if req.Schedule == nil {
			return nil, fmt.Errorf("auto task requires a schedule: %w", errdefs.ErrInvalidArgument)
		}
		if err := validateScheduleSpec(req.Schedule); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown trigger mode %q: %w", req.TriggerMode, errdefs.ErrInvalidArgument)
	}

	if existing, err := m.store.GetTaskByName(req.Name); err == nil {
		return nil, fmt.Errorf("task name %q is taken by %s: %w", req.Name, existing.ID, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	now := m.now()
	task := &types.Task{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Type:          req.Type,
		Status:        types.TaskStatusActive,
		TriggerMode:   req.TriggerMode,
		BaseURL:       req.BaseURL,
		Params:        req.Params,
		LoginRequired: req.LoginRequired,
		Extract:       req.Extract,
		CreatedBy:     subject,
		Description:   req.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateTask(task); err != nil {
		return nil, err
	}

	if req.Schedule != nil {
		if _, err := m.createSchedule(task, req.Schedule); err != nil {
			return nil, err
		}
	}

	m.broker.Publish(&types.Event{Type: types.EventTaskCreated, TaskID: task.ID})
	m.logger.Info().
		Str("task_id", task.ID).
		Str("name", task.Name).
		Str("type", string(task.Type)).
		Str("trigger_mode", string(task.TriggerMode)).
		Msg("Task created")
	return task, nil
}

// createSchedule materialises a schedule spec for a task. A once-at spec
// whose target is already past never activates.
func (m *Manager) createSchedule(task *types.Task, spec *ScheduleSpec) (*types.Schedule, error) {
	now := m.now()
	next, err := scheduler.FirstFire(spec.Type, spec.Config, now)
	if err != nil {
		return nil, err
	}
	sched := &types.Schedule{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Type:      spec.Type,
		Config:    spec.Config,
		Active:    next != nil,
		NextFire:  next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSchedule(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// GetTask reads one task, subject to visibility
func (m *Manager) GetTask(subject, id string) (*types.Task, error) {
	task, err := m.loadTask(id)
	if err != nil {
		return nil, err
	}
	ok, err := m.enforcer.VisibleTask(subject, task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, permissionDenied(subject, "read task "+id)
	}
	return task, nil
}

// GetTaskSchedule returns the task's non-deleted schedule, if any
func (m *Manager) GetTaskSchedule(subject, id string) (*types.Schedule, error) {
	if _, err := m.GetTask(subject, id); err != nil {
		return nil, err
	}
	return m.store.GetScheduleByTask(id)
}

// ListTasks returns the tasks visible to subject
func (m *Manager) ListTasks(subject string) ([]*types.Task, error) {
	tasks, err := m.store.ListTasks()
	if err != nil {
		return nil, err
	}
	return m.enforcer.FilterTasks(subject, tasks)
}

// UpdateTask patches a task. Edits are rejected while a non-terminal
// execution exists; trigger-mode transitions manage the schedule.
func (m *Manager) UpdateTask(subject, id string, req *UpdateTaskRequest) (*types.Task, error) {
	task, err := m.loadTask(id)
	if err != nil {
		return nil, err
	}
	if ok, err := m.canWrite(subject, task); err != nil {
		return nil, err
	} else if !ok {
		return nil, permissionDenied(subject, "update task "+id)
	}

	if live, err := m.store.GetActiveExecution(id); err == nil {
		return nil, fmt.Errorf("task has execution %s in status %s, cannot edit: %w",
			live.ID, live.Status, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	name := task.Name
	if req.Name != nil {
		name = *req.Name
	}
	baseURL := task.BaseURL
	if req.BaseURL != nil {
		baseURL = *req.BaseURL
	}
	params := task.Params
	if req.Params != nil {
		params = req.Params
	}
	if err := validateTaskFields(name, task.Type, baseURL, params); err != nil {
		return nil, err
	}
	if name != task.Name {
		if existing, err := m.store.GetTaskByName(name); err == nil && existing.ID != task.ID {
			return nil, fmt.Errorf("task name %q is taken by %s: %w", name, existing.ID, errdefs.ErrConflict)
		} else if err != nil && !errdefs.IsNotFound(err) {
			return nil, err
		}
	}

	mode := task.TriggerMode
	if req.TriggerMode != nil {
		mode = *req.TriggerMode
		if mode != types.TriggerManual && mode != types.TriggerAuto {
			return nil, fmt.Errorf("unknown trigger mode %q: %w", mode, errdefs.ErrInvalidArgument)
		}
	}
	switch {
	case mode == types.TriggerAuto && task.TriggerMode == types.TriggerManual && req.Schedule == nil:
		return nil, fmt.Errorf("switching to auto requires a schedule: %w", errdefs.ErrInvalidArgument)
	case mode == types.TriggerManual && req.Schedule != nil:
		return nil, fmt.Errorf("manual task cannot carry a schedule: %w", errdefs.ErrInvalidArgument)
	}
	if req.Schedule != nil {
		if err := validateScheduleSpec(req.Schedule); err != nil {
			return nil, err
		}
	}

	task.Name = name
	task.BaseURL = baseURL
	task.Params = params
	task.TriggerMode = mode
	if req.LoginRequired != nil {
		task.LoginRequired = *req.LoginRequired
	}
	if req.Extract != nil {
		task.Extract = req.Extract
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	task.UpdatedAt = m.now()
	if err := m.store.UpdateTask(task); err != nil {
		return nil, err
	}

	// Schedule bookkeeping after the row commits: an old schedule is
	// soft-deleted whenever the task leaves auto or a new spec arrives.
	if mode == types.TriggerManual || req.Schedule != nil {
		if err := m.store.DeleteSchedulesByTask(task.ID); err != nil {
			return nil, err
		}
	}
	if req.Schedule != nil {
		if _, err := m.createSchedule(task, req.Schedule); err != nil {
			return nil, err
		}
	}

	m.broker.Publish(&types.Event{Type: types.EventTaskUpdated, TaskID: task.ID})
	m.logger.Info().Str("task_id", task.ID).Msg("Task updated")
	return task, nil
}

// DeleteTask soft-deletes a task and cascades to its schedules. A task
// with a live execution cannot be deleted; stop it first.
func (m *Manager) DeleteTask(subject, id string) error {
	task, err := m.loadTask(id)
	if err != nil {
		return err
	}
	if ok, err := m.canWrite(subject, task); err != nil {
		return err
	} else if !ok {
		return permissionDenied(subject, "delete task "+id)
	}

	if live, err := m.store.GetActiveExecution(id); err == nil {
		return fmt.Errorf("task has execution %s in status %s, cannot delete: %w",
			live.ID, live.Status, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	if err := m.store.DeleteTask(id); err != nil {
		return err
	}
	m.broker.Publish(&types.Event{Type: types.EventTaskDeleted, TaskID: id})
	m.logger.Info().Str("task_id", id).Str("name", task.Name).Msg("Task deleted")
	return nil
}

// ActivateTask returns a paused task to active
func (m *Manager) ActivateTask(subject, id string) (*types.Task, error) {
	return m.flipStatus(subject, id, types.TaskStatusActive)
}

// PauseTask takes an active task out of rotation. Paused tasks neither
// fire from their schedule nor accept execute requests.
func (m *Manager) PauseTask(subject, id string) (*types.Task, error) {
	return m.flipStatus(subject, id, types.TaskStatusPaused)
}

func (m *Manager) flipStatus(subject, id string, to types.TaskStatus) (*types.Task, error) {
	task, err := m.loadTask(id)
	if err != nil {
		return nil, err
	}
	if ok, err := m.canWrite(subject, task); err != nil {
		return nil, err
	} else if !ok {
		return nil, permissionDenied(subject, "change status of task "+id)
	}
	if task.Status == types.TaskStatusRunning {
		return nil, fmt.Errorf("task is running, cannot change status: %w", errdefs.ErrConflict)
	}
	if task.Status == to {
		return task, nil
	}
	task.Status = to
	task.UpdatedAt = m.now()
	if err := m.store.UpdateTask(task); err != nil {
		return nil, err
	}
	m.broker.Publish(&types.Event{
		Type:   types.EventTaskUpdated,
		TaskID: task.ID,
		Data:   map[string]string{"status": string(to)},
	})
	m.logger.Info().Str("task_id", task.ID).Str("status", string(to)).Msg("Task status changed")
	return task, nil
}
