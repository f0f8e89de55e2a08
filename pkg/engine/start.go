package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/containerd/errdefs"

	"github.com/cuemby/magpie/pkg/hostdriver"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/types"
)

// startAttempts bounds the allocate-then-start loop: each attempt probes
// a fresh port, so a lost probe-to-bind race costs one attempt
const (
	startAttempts = 5
	startRetryGap = 200 * time.Millisecond
)

// isPortTaken matches the engine diagnostics for a host port that got
// occupied between the allocator's probe and the container binding it
func isPortTaken(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

// containerPayload is the config.json a task container reads at startup.
// It is a frozen snapshot: edits to the task after admission do not reach
// a run already in flight.
type containerPayload struct {
	ExecutionID   string               `json:"execution_id"`
	TaskID        string               `json:"task_id"`
	TaskName      string               `json:"task_name"`
	TaskType      types.TaskType       `json:"task_type"`
	BaseURL       string               `json:"base_url"`
	Params        []*types.ParamSpec   `json:"params,omitempty"`
	LoginRequired bool                 `json:"login_required"`
	Extract       *types.ExtractConfig `json:"extract,omitempty"`
	CallbackURL   string               `json:"api_base_url"`
	FiredAt       time.Time            `json:"fired_at"`
}

// startExecution takes one admission through the start pipeline:
// CAS pending to running, validate the task snapshot, stage the config,
// allocate a host port, start the container, persist what the host
// assigned. Every failure past staging cleans up what was built and
// lands the row on terminal failed.
func (e *Engine) startExecution(adm admission) {
	ctx := context.Background()
	timer := metrics.NewTimer()

	exec, err := e.store.TransitionExecution(adm.executionID,
		[]types.ExecutionStatus{types.ExecutionPending},
		func(x *types.Execution) {
			now := time.Now()
			x.Status = types.ExecutionRunning
			x.StartedAt = &now
		})
	if err != nil {
		// Duplicate admissions and rows resolved in the meantime land
		// here; neither is a fault.
		if errdefs.IsNotFound(err) || errdefs.IsConflict(err) || errdefs.IsFailedPrecondition(err) {
			e.logger.Debug().Err(err).
				Str("execution_id", adm.executionID).
				Msg("Skipping admission")
			return
		}
		e.logger.Error().Err(err).
			Str("execution_id", adm.executionID).
			Msg("Failed to claim execution")
		return
	}

	logger := e.logger.With().
		Str("execution_id", exec.ID).
		Str("task_id", exec.TaskID).
		Logger()

	task, err := e.store.GetTask(adm.taskID)
	if err != nil {
		e.failStart(exec, "validation", "task unreadable at start: "+err.Error())
		return
	}
	if task.Deleted {
		e.failStart(exec, "validation", "task was deleted before start")
		return
	}
	image := e.cfg.Image(task.Type)
	if image == "" {
		e.failStart(exec, "validation", fmt.Sprintf("no image configured for task type %q", task.Type))
		return
	}

	if task.Status != types.TaskStatusRunning {
		task.Status = types.TaskStatusRunning
		task.UpdatedAt = time.Now()
		if err := e.store.UpdateTask(task); err != nil {
			e.failStart(exec, "store", "failed to mark task running: "+err.Error())
			return
		}
	}

	payload, err := json.Marshal(containerPayload{
		ExecutionID:   exec.ID,
		TaskID:        task.ID,
		TaskName:      task.Name,
		TaskType:      task.Type,
		BaseURL:       task.BaseURL,
		Params:        task.Params,
		LoginRequired: task.LoginRequired,
		Extract:       task.Extract,
		CallbackURL:   e.cfg.Callback.AdvertiseURL,
		FiredAt:       time.Now(),
	})
	if err != nil {
		e.failStart(exec, "validation", "failed to encode container config: "+err.Error())
		return
	}

	staged, err := e.driver.StageConfig(ctx, exec.ID, payload)
	if err != nil {
		e.failStart(exec, "staging", "failed to stage config: "+err.Error())
		return
	}
	exec.ConfigPath = staged

	// Allocation and start retry as one unit: a port that passed the
	// probe can be taken by the time docker run binds it, and the only
	// recovery is a fresh port.
	var (
		port        int
		containerID string
		command     string
		failStage   string
		lastErr     error
	)
	err = retry.Do(
		func() error {
			failStage = "ports"
			p, aerr := e.ports.Allocate(ctx)
			if aerr != nil {
				lastErr = aerr
				return aerr
			}

			failStage = "container"
			spec := hostdriver.StartSpec{
				ExecutionID:   exec.ID,
				Image:         image,
				StagedConfig:  staged,
				ExtraBinds:    e.cfg.Host.ExtraBinds[string(task.Type)],
				CallbackURL:   e.cfg.Callback.AdvertiseURL,
				HostPort:      p,
				ContainerPort: e.cfg.Host.ContainerPort,
				AutoRemove:    e.cfg.Host.AutoRemove,
			}
			id, cmd, serr := e.driver.Start(ctx, spec)
			if serr != nil && errdefs.IsConflict(serr) {
				// A container from a dead run still holds the name.
				// Remove it and try once more; a second conflict is a
				// real failure.
				logger.Warn().Msg("Container name in use, force-removing leftover")
				if rmErr := e.driver.Remove(ctx, exec.ContainerName); rmErr != nil && !errdefs.IsNotFound(rmErr) {
					logger.Warn().Err(rmErr).Msg("Failed to remove leftover container")
				}
				id, cmd, serr = e.driver.Start(ctx, spec)
			}
			if serr != nil {
				e.ports.Release(p)
				lastErr = serr
				if isPortTaken(serr) {
					logger.Warn().Int("host_port", p).
						Msg("Host port taken at start, reallocating")
					return serr
				}
				return retry.Unrecoverable(serr)
			}

			port, containerID, command = p, id, cmd
			return nil
		},
		retry.Attempts(startAttempts),
		retry.Delay(startRetryGap),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errdefs.IsResourceExhausted(lastErr) {
			metrics.PortExhaustion.Inc()
		}
		if failStage == "ports" {
			e.failStart(exec, "ports", "failed to allocate host port: "+lastErr.Error())
		} else {
			e.failStart(exec, "container", "failed to start container: "+lastErr.Error())
		}
		return
	}
	exec.HostPort = port
	exec.ContainerID = containerID
	exec.Command = command
	exec.UpdatedAt = time.Now()
	if err := e.store.UpdateExecution(exec); err != nil {
		// The row went terminal mid-start (user stop, reconciler); the
		// container we just launched is an orphan. Take it back down.
		logger.Warn().Err(err).Msg("Execution resolved during start, stopping fresh container")
		e.removeContainer(ctx, exec)
		e.ports.Release(port)
		e.purgeConfig(ctx, exec)
		return
	}

	metrics.ExecutionsStarted.Inc()
	timer.ObserveDuration(metrics.StartDuration)
	e.broker.Publish(&types.Event{
		Type:        types.EventExecutionStarted,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
	})
	logger.Info().
		Str("container_id", containerID).
		Int("host_port", port).
		Str("image", image).
		Msg("Execution started")
}

// failStart lands a mid-pipeline failure on terminal failed and cleans up
// whatever the pipeline had built so far.
func (e *Engine) failStart(exec *types.Execution, reason, message string) {
	e.logger.Error().
		Str("execution_id", exec.ID).
		Str("task_id", exec.TaskID).
		Str("reason", reason).
		Msg(message)

	_, err := e.resolve(exec.ID,
		[]types.ExecutionStatus{types.ExecutionRunning, types.ExecutionPending},
		types.ExecutionFailed, reason,
		func(x *types.Execution) {
			x.ErrorLog = message
			x.ConfigPath = exec.ConfigPath
			x.HostPort = exec.HostPort
		})
	if err != nil && !errdefs.IsFailedPrecondition(err) {
		e.logger.Error().Err(err).
			Str("execution_id", exec.ID).
			Msg("Failed to record start failure")
	}
}
