package manager

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/cuemby/magpie/pkg/types"
)

// manualExecutionKind prefixes the names of user-initiated executions
const manualExecutionKind = "manual"

// ExecuteTask creates a pending execution for a task and admits it to
// the engine. Paused tasks, running tasks, and tasks that already own a
// live execution are rejected with a conflict.
func (m *Manager) ExecuteTask(subject, id string) (*types.Execution, error) {
	task, err := m.loadTask(id)
	if err != nil {
		return nil, err
	}
	if ok, err := m.canExecute(subject, task); err != nil {
		return nil, err
	} else if !ok {
		return nil, permissionDenied(subject, "execute task "+id)
	}

	switch task.Status {
	case types.TaskStatusPaused:
		return nil, fmt.Errorf("task is paused: %w", errdefs.ErrConflict)
	case types.TaskStatusRunning:
		return nil, fmt.Errorf("task is running: %w", errdefs.ErrConflict)
	}
	if live, err := m.store.GetActiveExecution(id); err == nil {
		return nil, fmt.Errorf("task already has execution %s in status %s: %w",
			live.ID, live.Status, errdefs.ErrConflict)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	now := m.now()
	exec := &types.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Executor:  subject,
		Name:      types.ExecutionName(manualExecutionKind, task.ID, now),
		Status:    types.ExecutionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	exec.ContainerName = types.ContainerName(exec.ID)

	// CreateExecution re-checks single-active in its transaction, so two
	// concurrent execute calls cannot both commit.
	if err := m.store.CreateExecution(exec); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("task_id", task.ID).
		Str("execution_id", exec.ID).
		Str("executor", subject).
		Msg("Execution created")

	if err := m.engine.Admit(task, exec); err != nil {
		// The pending row is committed; the reconciler re-admits it
		// once it ages past the admission timeout.
		m.logger.Warn().Err(err).
			Str("execution_id", exec.ID).
			Msg("Engine admission failed, leaving execution pending")
		return exec, nil
	}
	m.broker.Publish(&types.Event{
		Type:        types.EventExecutionAdmitted,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
	})
	return exec, nil
}

// StopTask cancels the task's live execution. Without one there is
// nothing to stop and the call answers not-found.
func (m *Manager) StopTask(ctx context.Context, subject, id string) (*types.Execution, error) {
	task, err := m.loadTask(id)
	if err != nil {
		return nil, err
	}
	if ok, err := m.canExecute(subject, task); err != nil {
		return nil, err
	} else if !ok {
		return nil, permissionDenied(subject, "stop task "+id)
	}

	live, err := m.store.GetActiveExecution(id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("task %s has no live execution: %w", id, errdefs.ErrNotFound)
		}
		return nil, err
	}
	if err := m.engine.StopExecution(ctx, live.ID); err != nil {
		return nil, err
	}
	return m.store.GetExecution(live.ID)
}

// ListExecutions returns a task's executions, newest first
func (m *Manager) ListExecutions(subject, taskID string, limit, offset int) ([]*types.Execution, error) {
	if _, err := m.GetTask(subject, taskID); err != nil {
		return nil, err
	}
	return m.store.ListExecutionsByTask(taskID, limit, offset)
}

// GetExecution reads one execution, subject to its task's visibility
func (m *Manager) GetExecution(subject, id string) (*types.Execution, error) {
	exec, err := m.store.GetExecution(id)
	if err != nil {
		return nil, err
	}
	task, err := m.store.GetTask(exec.TaskID)
	if err != nil {
		return nil, err
	}
	ok, err := m.enforcer.VisibleTask(subject, task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, permissionDenied(subject, "read execution "+id)
	}
	return exec, nil
}

// ExecutionLogs tails the execution's container log through the host
// driver. Diagnostic only: a container that auto-removed itself answers
// not-found.
func (m *Manager) ExecutionLogs(ctx context.Context, subject, id string, tail int) (string, error) {
	exec, err := m.GetExecution(subject, id)
	if err != nil {
		return "", err
	}
	return m.logs.Logs(ctx, exec.ContainerName, tail)
}
