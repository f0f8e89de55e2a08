package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/types"
)

// backoffTTL bounds how long a failure streak survives without a new
// failure. The authoritative auto-disable check reads the store; the
// counter is advisory.
const backoffTTL = 24 * time.Hour

// Outcome describes how an execution ended. Reason is a short stable
// class ("completed", "heartbeat-lost", "exit-code"...) used as a metric
// label; free-form detail belongs in ErrorLog.
type Outcome struct {
	Success  bool
	Result   json.RawMessage
	ErrorLog string
	Reason   string
}

// Complete resolves an execution to success or failed. It is the terminal
// gate shared by the completion callback and the reconciler: duplicate
// deliveries surface as a failed-precondition error the caller can treat
// as idempotent success.
func (e *Engine) Complete(executionID string, outcome Outcome) (*types.Execution, error) {
	final := types.ExecutionFailed
	if outcome.Success {
		final = types.ExecutionSuccess
	}
	reason := outcome.Reason
	if reason == "" {
		reason = "completed"
	}
	return e.resolve(executionID,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning},
		final, reason,
		func(x *types.Execution) {
			if outcome.Result != nil {
				x.Result = outcome.Result
			}
			if outcome.ErrorLog != "" {
				x.ErrorLog = outcome.ErrorLog
			}
		})
}

// StopExecution cancels a non-terminal execution: stop the container,
// mark the row cancelled. Stopping an already-terminal execution is a
// no-op, so user stop and natural completion can race safely.
func (e *Engine) StopExecution(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	if err := e.driver.Stop(ctx, exec.ContainerName); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", exec.ContainerName, err)
	}

	_, err = e.resolve(executionID,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning},
		types.ExecutionCancelled, "stopped", nil)
	if err != nil && errdefs.IsFailedPrecondition(err) {
		// Resolved by another path between our read and the CAS.
		return nil
	}
	return err
}

// resolve is the single route to a terminal status. It compare-and-sets
// the row, then runs the shared aftermath: host cleanup, cache keys, task
// status, backoff counter, metrics, event.
func (e *Engine) resolve(executionID string, from []types.ExecutionStatus, final types.ExecutionStatus, reason string, mutate func(*types.Execution)) (*types.Execution, error) {
	exec, err := e.store.TransitionExecution(executionID, from, func(x *types.Execution) {
		now := time.Now()
		x.Status = final
		x.EndedAt = &now
		if mutate != nil {
			mutate(x)
		}
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	e.cleanup(ctx, exec)
	e.settleTask(exec.TaskID, final)

	metrics.ExecutionsEnded.WithLabelValues(string(final), reason).Inc()
	e.broker.Publish(&types.Event{
		Type:        types.EventExecutionEnded,
		TaskID:      exec.TaskID,
		ExecutionID: exec.ID,
		Message:     reason,
		Data:        map[string]string{"status": string(final)},
	})
	e.logger.Info().
		Str("execution_id", exec.ID).
		Str("task_id", exec.TaskID).
		Str("status", string(final)).
		Str("reason", reason).
		Msg("Execution ended")
	return exec, nil
}

// cleanup releases everything a run may hold on the host. All of it is
// best-effort: a container that auto-removed itself or a config already
// purged answers not-found and that is fine.
func (e *Engine) cleanup(ctx context.Context, exec *types.Execution) {
	e.removeContainer(ctx, exec)
	if exec.HostPort > 0 {
		e.ports.Release(exec.HostPort)
	}
	e.purgeConfig(ctx, exec)
	if err := e.cache.Delete(ctx, cache.HeartbeatKey(exec.ID)); err != nil {
		e.logger.Debug().Err(err).Str("execution_id", exec.ID).Msg("Failed to drop heartbeat key")
	}
	if err := e.cache.Delete(ctx, cache.TimeoutKey(exec.ID)); err != nil {
		e.logger.Debug().Err(err).Str("execution_id", exec.ID).Msg("Failed to drop timeout key")
	}
}

func (e *Engine) removeContainer(ctx context.Context, exec *types.Execution) {
	if err := e.driver.Stop(ctx, exec.ContainerName); err != nil && !errdefs.IsNotFound(err) {
		e.logger.Debug().Err(err).Str("container", exec.ContainerName).Msg("Container stop during cleanup failed")
	}
	if err := e.driver.Remove(ctx, exec.ContainerName); err != nil && !errdefs.IsNotFound(err) {
		e.logger.Debug().Err(err).Str("container", exec.ContainerName).Msg("Container remove during cleanup failed")
	}
}

func (e *Engine) purgeConfig(ctx context.Context, exec *types.Execution) {
	if exec.ConfigPath == "" {
		return
	}
	if err := e.driver.PurgeConfig(ctx, exec.ID); err != nil {
		e.logger.Warn().Err(err).Str("execution_id", exec.ID).Msg("Failed to purge staged config")
	}
}

// settleTask returns the owning task to active after its run and keeps
// the backoff counter in step: failures extend the streak, anything else
// clears it.
func (e *Engine) settleTask(taskID string, final types.ExecutionStatus) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		e.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to read task after execution end")
	} else if task.Status == types.TaskStatusRunning {
		task.Status = types.TaskStatusActive
		task.UpdatedAt = time.Now()
		if err := e.store.UpdateTask(task); err != nil {
			e.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to return task to active")
		}
	}

	ctx := context.Background()
	if final == types.ExecutionFailed {
		streak, err := e.cache.Increment(ctx, cache.BackoffKey(taskID), backoffTTL)
		if err != nil {
			e.logger.Debug().Err(err).Str("task_id", taskID).Msg("Failed to bump backoff counter")
			return
		}
		e.logger.Debug().Str("task_id", taskID).Int64("streak", streak).Msg("Failure streak extended")
		return
	}
	if err := e.cache.Delete(ctx, cache.BackoffKey(taskID)); err != nil {
		e.logger.Debug().Err(err).Str("task_id", taskID).Msg("Failed to clear backoff counter")
	}
}
