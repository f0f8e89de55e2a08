package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// failureWindow is how many consecutive failed executions deactivate a
// schedule. The check reads the store, not the backoff counter: the
// counter is ephemeral and may have expired.
const failureWindow = 3

// schedExecutionKind prefixes the names of scheduler-created executions
const schedExecutionKind = "sched"

// Admitter hands freshly fired executions to the execution engine.
// Admission is best-effort: the pending row is already committed, so a
// full queue is tolerated and the reconciler re-admits the row once it
// ages past the admission timeout.
type Admitter interface {
	Admit(task *types.Task, execution *types.Execution) error
}

// Scheduler fires due schedules into pending executions. Every instance
// runs the loop, but only the one holding the leader lease scans; the
// others idle until the lease frees up. All writes go through the store's
// transactional fire path, so even a second accidental leader cannot
// double-admit a task.
type Scheduler struct {
	store    storage.Store
	cache    cache.Cache
	admitter Admitter
	broker   *events.Broker
	cfg      config.SchedulerConfig
	holderID string
	logger   zerolog.Logger

	// now is swappable so tests can pin the clock
	now func() time.Time

	mu     sync.Mutex
	leader bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. holderID identifies this instance in
// the leader lease; pass something stable per process, e.g. hostname+pid.
func NewScheduler(store storage.Store, c cache.Cache, admitter Admitter, broker *events.Broker, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		cache:    c,
		admitter: admitter,
		broker:   broker,
		cfg:      cfg,
		holderID: uuid.New().String(),
		logger:   log.WithComponent("scheduler"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().
		Str("holder", s.holderID).
		Dur("cadence", s.cfg.Cadence.D()).
		Msg("Scheduler started")
}

// Stop halts the loop and releases the leader lease if held
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.releaseLease()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Cadence.D())
	defer ticker.Stop()
	refresh := time.NewTicker(s.cfg.LeaseRefresh.D())
	defer refresh.Stop()

	// First pass immediately so a fresh process does not idle a full
	// cadence before contending for the lease.
	s.Tick(s.now())

	for {
		select {
		case <-ticker.C:
			s.Tick(s.now())
		case <-refresh.C:
			s.renewLease()
		case <-s.stopCh:
			return
		}
	}
}

// Tick runs one scheduler pass at the given instant: contend for the
// leader lease, load the due batch, fire each schedule. On a non-leader
// the pass is a no-op.
func (s *Scheduler) Tick(now time.Time) {
	if !s.ensureLeader() {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)

	due, err := s.store.ListDueSchedules(now, s.cfg.Batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due schedules")
		return
	}
	if len(due) == 0 {
		return
	}
	s.logger.Debug().Int("due", len(due)).Msg("Scheduler pass")

	for _, sched := range due {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.fire(sched, now); err != nil {
			s.logger.Error().Err(err).
				Str("schedule_id", sched.ID).
				Str("task_id", sched.TaskID).
				Msg("Failed to fire schedule")
		}
	}
}

// fire turns one due schedule into a pending execution. Each step re-reads
// current state: the batch snapshot may be stale by the time we get here.
func (s *Scheduler) fire(sched *types.Schedule, now time.Time) error {
	task, err := s.store.GetTask(sched.TaskID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			s.logger.Warn().
				Str("schedule_id", sched.ID).
				Str("task_id", sched.TaskID).
				Msg("Due schedule has no task, skipping")
			return nil
		}
		return err
	}
	if task.Deleted || task.Status == types.TaskStatusRunning || task.Status == types.TaskStatusPaused {
		return nil
	}

	last, err := s.store.LastExecutions(task.ID, failureWindow)
	if err != nil {
		return err
	}
	if len(last) == failureWindow && lo.EveryBy(last, func(e *types.Execution) bool {
		return e.Status == types.ExecutionFailed
	}) {
		return s.disable(sched, task, "three consecutive failed executions")
	}

	if _, err := s.store.GetActiveExecution(task.ID); err == nil {
		s.logger.Debug().Str("task_id", task.ID).Msg("Task already has a live execution, skipping fire")
		return nil
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	next, err := NextAfter(sched.Type, sched.Config, now)
	if err != nil {
		// A config that stopped computing would stay due and refire
		// every tick. Take it out of rotation instead.
		return s.disable(sched, task, "schedule config no longer computes: "+err.Error())
	}
	sched.NextFire = next
	if next == nil {
		sched.Active = false
	}
	sched.UpdatedAt = now

	exec := &types.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Executor:  task.CreatedBy,
		Name:      types.ExecutionName(schedExecutionKind, task.ID, now),
		Status:    types.ExecutionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	exec.ContainerName = types.ContainerName(exec.ID)

	if err := s.store.FireSchedule(exec, sched); err != nil {
		if errdefs.IsConflict(err) {
			s.logger.Debug().Str("task_id", task.ID).Msg("Lost fire race to a live execution")
			return nil
		}
		return err
	}

	metrics.SchedulerFires.Inc()
	s.broker.Publish(&types.Event{
		Type:        types.EventScheduleFired,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
		ScheduleID:  sched.ID,
	})
	s.logger.Info().
		Str("task_id", task.ID).
		Str("execution_id", exec.ID).
		Str("execution_name", exec.Name).
		Msg("Schedule fired")

	if err := s.admitter.Admit(task, exec); err != nil {
		// The pending row is committed; the reconciler re-admits it
		// once it ages past the admission timeout.
		s.logger.Warn().Err(err).
			Str("execution_id", exec.ID).
			Msg("Engine admission failed, leaving execution pending")
		return nil
	}
	s.broker.Publish(&types.Event{
		Type:        types.EventExecutionAdmitted,
		TaskID:      task.ID,
		ExecutionID: exec.ID,
	})
	return nil
}

// disable deactivates a schedule and clears the task's backoff counter.
// Deactivation is the scheduler's only value judgement; everything else
// it observes and forwards.
func (s *Scheduler) disable(sched *types.Schedule, task *types.Task, reason string) error {
	sched.Active = false
	sched.UpdatedAt = s.now()
	if err := s.store.UpdateSchedule(sched); err != nil {
		return err
	}
	if err := s.cache.Delete(context.Background(), cache.BackoffKey(task.ID)); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to clear backoff counter")
	}
	metrics.SchedulesDisabled.Inc()
	s.broker.Publish(&types.Event{
		Type:       types.EventScheduleDisabled,
		TaskID:     task.ID,
		ScheduleID: sched.ID,
		Message:    reason,
	})
	s.logger.Info().
		Str("schedule_id", sched.ID).
		Str("task_id", task.ID).
		Str("reason", reason).
		Msg("Schedule disabled")
	return nil
}

// ensureLeader returns whether this instance holds the leader lease,
// contending for it when it does not.
func (s *Scheduler) ensureLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leader {
		return true
	}
	ok, err := s.cache.AcquireLease(context.Background(), cache.LeaderKey, s.holderID, s.cfg.LeaseTTL.D())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Leader lease acquisition failed")
		return false
	}
	s.leader = ok
	if ok {
		metrics.SchedulerLeader.Set(1)
		s.logger.Info().Str("holder", s.holderID).Msg("Acquired scheduler leader lease")
	} else {
		metrics.SchedulerLeader.Set(0)
	}
	return ok
}

// renewLease extends the lease between ticks. Any renewal failure steps
// down; the next tick re-contends from scratch.
func (s *Scheduler) renewLease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.leader {
		return
	}
	ok, err := s.cache.RenewLease(context.Background(), cache.LeaderKey, s.holderID, s.cfg.LeaseTTL.D())
	if err == nil && ok {
		return
	}
	s.leader = false
	metrics.SchedulerLeader.Set(0)
	s.logger.Warn().Err(err).Str("holder", s.holderID).Msg("Lost scheduler leader lease")
}

func (s *Scheduler) releaseLease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.leader {
		return
	}
	if err := s.cache.ReleaseLease(context.Background(), cache.LeaderKey, s.holderID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to release scheduler leader lease")
	}
	s.leader = false
	metrics.SchedulerLeader.Set(0)
	s.logger.Info().Str("holder", s.holderID).Msg("Released scheduler leader lease")
}

// Leader reports whether this instance currently holds the lease
func (s *Scheduler) Leader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}
