package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/engine"
	"github.com/cuemby/magpie/pkg/hostdriver"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// Reconciler closes the gap between execution rows and container reality.
// Containers report their own endings through the callback server; the
// reconciler exists for the ones that never do. Container state is
// authoritative: a row only fails on heartbeat evidence while its
// container is actually running.
type Reconciler struct {
	store  storage.Store
	cache  cache.Cache
	driver *hostdriver.Driver
	engine *engine.Engine
	cfg    *config.Config
	logger zerolog.Logger

	// now is swappable so tests can pin the clock
	now func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler over the shared collaborators
func NewReconciler(store storage.Store, c cache.Cache, driver *hostdriver.Driver, eng *engine.Engine, cfg *config.Config) *Reconciler {
	return &Reconciler{
		store:  store,
		cache:  c,
		driver: driver,
		engine: eng,
		cfg:    cfg,
		logger: log.WithComponent("reconciler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info().
		Dur("cadence", r.cfg.Reconciler.Cadence.D()).
		Int("concurrency", r.cfg.Reconciler.Concurrency).
		Msg("Reconciler started")
}

// Stop halts the loop; a pass in flight finishes first
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Reconciler.Cadence.D())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Pass(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Pass runs one reconciliation pass: judge every running execution
// against its container, then re-admit pending rows the engine lost.
// Errors are contained per item; one stuck execution never starves the
// rest of the sweep.
func (r *Reconciler) Pass(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcilerPassDuration)
		metrics.ReconcilerPasses.Inc()
	}()

	if err := r.sweepRunning(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to sweep running executions")
	}
	if err := r.requeuePending(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Failed to sweep pending executions")
	}
}

func (r *Reconciler) sweepRunning(ctx context.Context) error {
	running, err := r.store.ListExecutionsByStatus(types.ExecutionRunning)
	if err != nil {
		return fmt.Errorf("failed to list running executions: %w", err)
	}
	if len(running) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Reconciler.Concurrency)
	for _, exec := range running {
		exec := exec
		g.Go(func() error {
			if err := r.judge(ctx, exec); err != nil {
				r.logger.Error().Err(err).
					Str("execution_id", exec.ID).
					Msg("Liveness verdict failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// judge reaches a verdict for one running execution. Inspect first: a
// verdict without container reality would fail rows whose containers are
// fine but whose heartbeats got lost in transit.
func (r *Reconciler) judge(ctx context.Context, exec *types.Execution) error {
	state, err := r.driver.Inspect(ctx, exec.ContainerName)
	if err != nil {
		// The host did not answer. No verdict; next pass asks again.
		return fmt.Errorf("failed to inspect %s: %w", exec.ContainerName, err)
	}

	switch {
	case !state.Exists:
		return r.conclude(exec, engine.Outcome{
			Success:  false,
			ErrorLog: "container disappeared without reporting a result",
			Reason:   "container-missing",
		})
	case !state.Running && state.ExitCode == 0:
		// Finished clean but the completion callback never landed.
		return r.conclude(exec, engine.Outcome{
			Success: true,
			Reason:  "silent-success",
		})
	case !state.Running:
		return r.conclude(exec, engine.Outcome{
			Success: false,
			ErrorLog: fmt.Sprintf("container exited with code %d (%s) without reporting a result",
				state.ExitCode, state.Status),
			Reason: "exit-code",
		})
	}

	return r.checkHeartbeat(ctx, exec)
}

// checkHeartbeat judges a live container by its heartbeat trail. One
// stale observation is tolerated; the counter has to reach the configured
// tolerance across consecutive passes before the execution fails.
func (r *Reconciler) checkHeartbeat(ctx context.Context, exec *types.Execution) error {
	timeout := r.cfg.Heartbeat.Timeout.D()
	now := r.now()

	latest := r.lastHeartbeat(ctx, exec)
	if latest == nil {
		if exec.StartedAt != nil && now.Sub(*exec.StartedAt) > timeout {
			return r.conclude(exec, engine.Outcome{
				Success: false,
				ErrorLog: fmt.Sprintf("container running but no heartbeat since start %s ago",
					now.Sub(*exec.StartedAt).Round(time.Second)),
				Reason: "never-heartbeated",
			})
		}
		// Still inside the grace window after start.
		return nil
	}

	age := now.Sub(*latest)
	if age <= timeout {
		if err := r.cache.Delete(ctx, cache.TimeoutKey(exec.ID)); err != nil {
			r.logger.Debug().Err(err).
				Str("execution_id", exec.ID).
				Msg("Failed to reset timeout counter")
		}
		return nil
	}

	misses, err := r.cache.Increment(ctx, cache.TimeoutKey(exec.ID), 2*timeout)
	if err != nil {
		return fmt.Errorf("failed to count stale heartbeat for %s: %w", exec.ID, err)
	}
	if misses < int64(r.cfg.Heartbeat.Tolerance) {
		r.logger.Warn().
			Str("execution_id", exec.ID).
			Str("task_id", exec.TaskID).
			Dur("heartbeat_age", age).
			Int64("stale_passes", misses).
			Msg("Execution heartbeat stale")
		return nil
	}
	return r.conclude(exec, engine.Outcome{
		Success: false,
		ErrorLog: fmt.Sprintf("heartbeat lost: last seen %s ago, stale for %d consecutive passes",
			age.Round(time.Second), misses),
		Reason: "heartbeat-lost",
	})
}

// lastHeartbeat returns the freshest heartbeat instant known for the
// execution: the cache record when present, else the durable column. The
// cache leads because the store write is asynchronous and may lag.
func (r *Reconciler) lastHeartbeat(ctx context.Context, exec *types.Execution) *time.Time {
	data, ok, err := r.cache.Get(ctx, cache.HeartbeatKey(exec.ID))
	if err != nil {
		r.logger.Debug().Err(err).
			Str("execution_id", exec.ID).
			Msg("Heartbeat cache read failed, falling back to store")
	} else if ok {
		var record types.HeartbeatRecord
		if err := json.Unmarshal(data, &record); err == nil && !record.At.IsZero() {
			return &record.At
		}
	}
	return exec.LastHeartbeat
}

// conclude lands a verdict through the engine's terminal path. A losing
// race against a late callback is fine; first writer wins.
func (r *Reconciler) conclude(exec *types.Execution, outcome engine.Outcome) error {
	r.logger.Info().
		Str("execution_id", exec.ID).
		Str("task_id", exec.TaskID).
		Str("reason", outcome.Reason).
		Bool("success", outcome.Success).
		Msg("Resolving execution from container reality")

	if _, err := r.engine.Complete(exec.ID, outcome); err != nil {
		if errdefs.IsFailedPrecondition(err) {
			return nil
		}
		return err
	}
	return nil
}

// requeuePending re-admits pending rows older than the admission timeout.
// A row can sit in pending after a process restart dropped the queued
// admission, or after the queue answered full; both heal here.
func (r *Reconciler) requeuePending(ctx context.Context) error {
	pending, err := r.store.ListExecutionsByStatus(types.ExecutionPending)
	if err != nil {
		return fmt.Errorf("failed to list pending executions: %w", err)
	}

	cutoff := r.now().Add(-r.cfg.Reconciler.AdmissionTimeout.D())
	for _, exec := range pending {
		if exec.CreatedAt.After(cutoff) {
			continue
		}

		task, err := r.store.GetTask(exec.TaskID)
		if err != nil || task.Deleted {
			r.logger.Info().
				Str("execution_id", exec.ID).
				Str("task_id", exec.TaskID).
				Msg("Cancelling stale pending execution, its task is gone")
			if err := r.engine.StopExecution(ctx, exec.ID); err != nil {
				r.logger.Warn().Err(err).
					Str("execution_id", exec.ID).
					Msg("Failed to cancel orphaned execution")
			}
			continue
		}

		r.logger.Info().
			Str("execution_id", exec.ID).
			Str("task_id", exec.TaskID).
			Dur("pending_for", r.now().Sub(exec.CreatedAt)).
			Msg("Re-admitting stale pending execution")
		if err := r.engine.Admit(task, exec); err != nil {
			r.logger.Warn().Err(err).
				Str("execution_id", exec.ID).
				Msg("Re-admission failed, will retry next pass")
		}
	}
	return nil
}
