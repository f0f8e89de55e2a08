package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/rbac"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// fakeEngine records admissions and cancels rows straight through the
// store, standing in for pkg/engine
type fakeEngine struct {
	mu       sync.Mutex
	store    storage.Store
	admitted []*types.Execution
	admitErr error
}

func (f *fakeEngine) Admit(task *types.Task, execution *types.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.admitErr != nil {
		return f.admitErr
	}
	f.admitted = append(f.admitted, execution)
	return nil
}

func (f *fakeEngine) StopExecution(ctx context.Context, executionID string) error {
	_, err := f.store.TransitionExecution(executionID,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning},
		func(x *types.Execution) {
			now := time.Now()
			x.Status = types.ExecutionCancelled
			x.EndedAt = &now
		})
	if err != nil && errdefs.IsFailedPrecondition(err) {
		return nil
	}
	return err
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admitted)
}

type fakeLogs struct {
	logs string
}

func (f *fakeLogs) Logs(ctx context.Context, ref string, tail int) (string, error) {
	return f.logs, nil
}

func newTestManager(t *testing.T) (*Manager, storage.Store, *fakeEngine) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	eng := &fakeEngine{store: store}
	m := New(store, eng, rbac.NewEnforcer(store), broker, &fakeLogs{logs: "line one\nline two\n"}, config.Default())
	return m, store, eng
}

func crawlRequest(name string) *CreateTaskRequest {
	return &CreateTaskRequest{
		Name:        name,
		Type:        types.TaskTypeContainerCrawl,
		TriggerMode: types.TriggerManual,
		BaseURL:     "https://example.com/listings",
	}
}

func dailySpec() *ScheduleSpec {
	return &ScheduleSpec{
		Type:   types.ScheduleDaily,
		Config: types.ScheduleConfig{Time: "03:00:00"},
	}
}

func seedExecution(t *testing.T, store storage.Store, taskID string, status types.ExecutionStatus) *types.Execution {
	t.Helper()
	now := time.Now()
	exec := &types.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Executor:  "alice",
		Name:      types.ExecutionName("manual", taskID, now),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	exec.ContainerName = types.ContainerName(exec.ID)
	require.NoError(t, store.CreateExecution(exec))
	return exec
}

func TestCreateManualTask(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.TaskStatusActive, task.Status)
	assert.Equal(t, "alice", task.CreatedBy)

	_, err = store.GetScheduleByTask(task.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCreateAutoTaskCreatesSchedule(t *testing.T) {
	m, store, _ := newTestManager(t)

	req := crawlRequest("nightly-crawl")
	req.TriggerMode = types.TriggerAuto
	req.Schedule = dailySpec()

	task, err := m.CreateTask("alice", req)
	require.NoError(t, err)

	sched, err := store.GetScheduleByTask(task.ID)
	require.NoError(t, err)
	assert.True(t, sched.Active)
	require.NotNil(t, sched.NextFire)
	assert.True(t, sched.NextFire.After(time.Now().Add(-time.Second)))
}

func TestCreateOnceAtPastNeverActivates(t *testing.T) {
	m, store, _ := newTestManager(t)

	req := crawlRequest("one-shot")
	req.TriggerMode = types.TriggerAuto
	req.Schedule = &ScheduleSpec{
		Type:   types.ScheduleOnceAt,
		Config: types.ScheduleConfig{Datetime: "2001-01-01 00:00:00"},
	}

	task, err := m.CreateTask("alice", req)
	require.NoError(t, err)

	sched, err := store.GetScheduleByTask(task.ID)
	require.NoError(t, err)
	assert.False(t, sched.Active)
	assert.Nil(t, sched.NextFire)
}

func TestCreateValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	long := make([]byte, maxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name   string
		mutate func(*CreateTaskRequest)
	}{
		{"empty name", func(r *CreateTaskRequest) { r.Name = "" }},
		{"name too long", func(r *CreateTaskRequest) { r.Name = string(long) }},
		{"unknown type", func(r *CreateTaskRequest) { r.Type = "screen-scrape" }},
		{"relative url", func(r *CreateTaskRequest) { r.BaseURL = "/listings" }},
		{"unknown trigger mode", func(r *CreateTaskRequest) { r.TriggerMode = "cron" }},
		{"auto without schedule", func(r *CreateTaskRequest) { r.TriggerMode = types.TriggerAuto }},
		{"manual with schedule", func(r *CreateTaskRequest) { r.Schedule = dailySpec() }},
		{"list param without values", func(r *CreateTaskRequest) {
			r.Params = []*types.ParamSpec{{Name: "page", Kind: types.ParamKindList}}
		}},
		{"range param without step", func(r *CreateTaskRequest) {
			r.Params = []*types.ParamSpec{{Name: "page", Kind: types.ParamKindRange, Range: &types.RangeSpec{Start: 1, End: 10}}}
		}},
		{"bad schedule config", func(r *CreateTaskRequest) {
			r.TriggerMode = types.TriggerAuto
			r.Schedule = &ScheduleSpec{Type: types.ScheduleDaily, Config: types.ScheduleConfig{Time: "25:00:00"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := crawlRequest("validation-target")
			tt.mutate(req)
			_, err := m.CreateTask("alice", req)
			assert.True(t, errdefs.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestCreateNeedsNoGrant(t *testing.T) {
	m, _, _ := newTestManager(t)

	// Creator-ownership: a brand-new subject with no policy rows may
	// create, and the task it made answers to it alone.
	task, err := m.CreateTask("newcomer", crawlRequest("first-crawl"))
	require.NoError(t, err)
	assert.Equal(t, "newcomer", task.CreatedBy)

	_, err = m.GetTask("newcomer", task.ID)
	assert.NoError(t, err)
	_, err = m.GetTask("bystander", task.ID)
	assert.True(t, errdefs.IsPermissionDenied(err))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	_, err = m.CreateTask("bob", crawlRequest("catalog-crawl"))
	assert.True(t, errdefs.IsConflict(err))
}

func TestDeleteFreesName(t *testing.T) {
	m, _, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)
	require.NoError(t, m.DeleteTask("alice", task.ID))

	_, err = m.CreateTask("alice", crawlRequest("catalog-crawl"))
	assert.NoError(t, err)
}

func TestExecuteCreatesPendingAndAdmits(t *testing.T) {
	m, store, eng := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	exec, err := m.ExecuteTask("alice", task.ID)
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionPending, exec.Status)
	assert.Equal(t, "alice", exec.Executor)
	assert.Equal(t, types.ContainerName(exec.ID), exec.ContainerName)
	assert.Contains(t, exec.Name, "manual-")
	assert.Equal(t, 1, eng.count())

	stored, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, stored.Status)
}

func TestExecuteConflicts(t *testing.T) {
	m, store, _ := newTestManager(t)

	t.Run("paused task", func(t *testing.T) {
		task, err := m.CreateTask("alice", crawlRequest("paused-crawl"))
		require.NoError(t, err)
		_, err = m.PauseTask("alice", task.ID)
		require.NoError(t, err)

		_, err = m.ExecuteTask("alice", task.ID)
		assert.True(t, errdefs.IsConflict(err))
	})

	t.Run("running task", func(t *testing.T) {
		task, err := m.CreateTask("alice", crawlRequest("running-crawl"))
		require.NoError(t, err)
		task.Status = types.TaskStatusRunning
		require.NoError(t, store.UpdateTask(task))

		_, err = m.ExecuteTask("alice", task.ID)
		assert.True(t, errdefs.IsConflict(err))
	})

	t.Run("already executing", func(t *testing.T) {
		task, err := m.CreateTask("alice", crawlRequest("busy-crawl"))
		require.NoError(t, err)
		seedExecution(t, store, task.ID, types.ExecutionPending)

		_, err = m.ExecuteTask("alice", task.ID)
		assert.True(t, errdefs.IsConflict(err))
	})
}

func TestExecuteAdmissionFailureLeavesPending(t *testing.T) {
	m, store, eng := newTestManager(t)
	eng.admitErr = errdefs.ErrUnavailable

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	exec, err := m.ExecuteTask("alice", task.ID)
	require.NoError(t, err)

	stored, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, stored.Status)
}

func TestStopTask(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)
	exec := seedExecution(t, store, task.ID, types.ExecutionRunning)

	stopped, err := m.StopTask(context.Background(), "alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, stopped.ID)
	assert.Equal(t, types.ExecutionCancelled, stopped.Status)

	_, err = m.StopTask(context.Background(), "alice", task.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdateRejectsWhileLive(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)
	seedExecution(t, store, task.ID, types.ExecutionRunning)

	desc := "new description"
	_, err = m.UpdateTask("alice", task.ID, &UpdateTaskRequest{Description: &desc})
	assert.True(t, errdefs.IsConflict(err))
}

func TestUpdateManualToAuto(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	auto := types.TriggerAuto
	_, err = m.UpdateTask("alice", task.ID, &UpdateTaskRequest{TriggerMode: &auto})
	assert.True(t, errdefs.IsInvalidArgument(err), "manual to auto without schedule must fail")

	updated, err := m.UpdateTask("alice", task.ID, &UpdateTaskRequest{TriggerMode: &auto, Schedule: dailySpec()})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerAuto, updated.TriggerMode)

	sched, err := store.GetScheduleByTask(task.ID)
	require.NoError(t, err)
	assert.True(t, sched.Active)
}

func TestUpdateAutoToManualDeletesSchedule(t *testing.T) {
	m, store, _ := newTestManager(t)

	req := crawlRequest("nightly-crawl")
	req.TriggerMode = types.TriggerAuto
	req.Schedule = dailySpec()
	task, err := m.CreateTask("alice", req)
	require.NoError(t, err)

	manual := types.TriggerManual
	updated, err := m.UpdateTask("alice", task.ID, &UpdateTaskRequest{TriggerMode: &manual})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerManual, updated.TriggerMode)

	_, err = store.GetScheduleByTask(task.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdateAutoReplacesSchedule(t *testing.T) {
	m, store, _ := newTestManager(t)

	req := crawlRequest("nightly-crawl")
	req.TriggerMode = types.TriggerAuto
	req.Schedule = dailySpec()
	task, err := m.CreateTask("alice", req)
	require.NoError(t, err)

	old, err := store.GetScheduleByTask(task.ID)
	require.NoError(t, err)

	_, err = m.UpdateTask("alice", task.ID, &UpdateTaskRequest{
		Schedule: &ScheduleSpec{
			Type:   types.ScheduleCron,
			Config: types.ScheduleConfig{CronExpression: "*/15 * * * *"},
		},
	})
	require.NoError(t, err)

	replaced, err := store.GetScheduleByTask(task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, replaced.ID)
	assert.Equal(t, types.ScheduleCron, replaced.Type)
}

func TestDeleteCascadesToSchedule(t *testing.T) {
	m, store, _ := newTestManager(t)

	req := crawlRequest("nightly-crawl")
	req.TriggerMode = types.TriggerAuto
	req.Schedule = dailySpec()
	task, err := m.CreateTask("alice", req)
	require.NoError(t, err)

	require.NoError(t, m.DeleteTask("alice", task.ID))

	_, err = m.GetTask("alice", task.ID)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetScheduleByTask(task.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteRejectsWhileLive(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)
	seedExecution(t, store, task.ID, types.ExecutionRunning)

	err = m.DeleteTask("alice", task.ID)
	assert.True(t, errdefs.IsConflict(err))
}

func TestPauseAndActivate(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	paused, err := m.PauseTask("alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPaused, paused.Status)

	active, err := m.ActivateTask("alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusActive, active.Status)

	task.Status = types.TaskStatusRunning
	require.NoError(t, store.UpdateTask(task))
	_, err = m.PauseTask("alice", task.ID)
	assert.True(t, errdefs.IsConflict(err))
}

func TestVisibility(t *testing.T) {
	m, _, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("alice-crawl"))
	require.NoError(t, err)

	// Creator and admin see the task, a stranger does not.
	_, err = m.GetTask("alice", task.ID)
	assert.NoError(t, err)
	_, err = m.GetTask(rbac.AdminSubject, task.ID)
	assert.NoError(t, err)
	_, err = m.GetTask("mallory", task.ID)
	assert.True(t, errdefs.IsPermissionDenied(err))

	visible, err := m.ListTasks("mallory")
	require.NoError(t, err)
	assert.Empty(t, visible)

	visible, err = m.ListTasks("alice")
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestStrangerCannotMutate(t *testing.T) {
	m, _, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("alice-crawl"))
	require.NoError(t, err)

	_, err = m.ExecuteTask("mallory", task.ID)
	assert.True(t, errdefs.IsPermissionDenied(err))
	err = m.DeleteTask("mallory", task.ID)
	assert.True(t, errdefs.IsPermissionDenied(err))
	desc := "defaced"
	_, err = m.UpdateTask("mallory", task.ID, &UpdateTaskRequest{Description: &desc})
	assert.True(t, errdefs.IsPermissionDenied(err))
}

func TestListExecutionsNewestFirst(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		exec := seedExecution(t, store, task.ID, types.ExecutionPending)
		_, err := store.TransitionExecution(exec.ID,
			[]types.ExecutionStatus{types.ExecutionPending},
			func(x *types.Execution) {
				now := time.Now()
				x.Status = types.ExecutionFailed
				x.EndedAt = &now
			})
		require.NoError(t, err)
		ids = append(ids, exec.ID)
		time.Sleep(5 * time.Millisecond)
	}

	execs, err := m.ListExecutions("alice", task.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, ids[2], execs[0].ID)
	assert.Equal(t, ids[1], execs[1].ID)
}

func TestExecutionLogs(t *testing.T) {
	m, store, _ := newTestManager(t)

	task, err := m.CreateTask("alice", crawlRequest("catalog-crawl"))
	require.NoError(t, err)
	exec := seedExecution(t, store, task.ID, types.ExecutionRunning)

	logs, err := m.ExecutionLogs(context.Background(), "alice", exec.ID, 50)
	require.NoError(t, err)
	assert.Contains(t, logs, "line one")
}
