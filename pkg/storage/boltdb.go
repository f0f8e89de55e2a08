package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/magpie/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks      = []byte("task")
	bucketSchedules  = []byte("task_schedule")
	bucketExecutions = []byte("task_execution")
	bucketPolicies   = []byte("policy")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "magpie.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketSchedules,
			bucketExecutions,
			bucketPolicies,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Task operations
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskByName returns the non-deleted task with the given name
func (s *BoltStore) GetTaskByName(name string) (*types.Task, error) {
	var found *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Name == name && !task.Deleted {
				found = &task
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("task not found: %s: %w", name, errdefs.ErrNotFound)
	}
	return found, nil
}

// ListTasks returns all non-deleted tasks
func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if !task.Deleted {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task) // Same as create (upsert)
}

// DeleteTask soft-deletes a task and cascades to its schedules in one
// transaction. The row stays readable through GetTask for audit.
func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		data := tb.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s: %w", id, errdefs.ErrNotFound)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Deleted = true
		task.UpdatedAt = time.Now()
		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := tb.Put([]byte(task.ID), updated); err != nil {
			return err
		}

		sb := tx.Bucket(bucketSchedules)
		return sb.ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			if sched.TaskID != id || sched.Deleted {
				return nil
			}
			sched.Deleted = true
			sched.Active = false
			sched.UpdatedAt = time.Now()
			data, err := json.Marshal(&sched)
			if err != nil {
				return err
			}
			return sb.Put(k, data)
		})
	})
}

// Schedule operations
func (s *BoltStore) CreateSchedule(schedule *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data, err := json.Marshal(schedule)
		if err != nil {
			return err
		}
		return b.Put([]byte(schedule.ID), data)
	})
}

func (s *BoltStore) GetSchedule(id string) (*types.Schedule, error) {
	var schedule types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("schedule not found: %s: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &schedule)
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetScheduleByTask returns the non-deleted schedule owned by a task
func (s *BoltStore) GetScheduleByTask(taskID string) (*types.Schedule, error) {
	var found *types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			if sched.TaskID == taskID && !sched.Deleted {
				found = &sched
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("schedule not found for task: %s: %w", taskID, errdefs.ErrNotFound)
	}
	return found, nil
}

// ListSchedules returns all non-deleted schedules
func (s *BoltStore) ListSchedules() ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			if !sched.Deleted {
				schedules = append(schedules, &sched)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// ListDueSchedules returns active schedules with next-fire at or before
// now, oldest first, capped at limit (0 = no cap)
func (s *BoltStore) ListDueSchedules(now time.Time, limit int) ([]*types.Schedule, error) {
	var due []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			if sched.Deleted || !sched.Active || sched.NextFire == nil {
				return nil
			}
			if sched.NextFire.After(now) {
				return nil
			}
			due = append(due, &sched)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextFire.Before(*due[j].NextFire)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *BoltStore) UpdateSchedule(schedule *types.Schedule) error {
	return s.CreateSchedule(schedule)
}

// DeleteSchedulesByTask soft-deletes all non-deleted schedules of a task
func (s *BoltStore) DeleteSchedulesByTask(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			if sched.TaskID != taskID || sched.Deleted {
				return nil
			}
			sched.Deleted = true
			sched.Active = false
			sched.UpdatedAt = time.Now()
			data, err := json.Marshal(&sched)
			if err != nil {
				return err
			}
			return b.Put(k, data)
		})
	})
}

// Execution operations

// CreateExecution persists a new execution. At most one execution per task
// may be non-terminal; a second concurrent admission fails with a conflict.
func (s *BoltStore) CreateExecution(execution *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		if active := activeExecutionTx(b, execution.TaskID); active != nil {
			return fmt.Errorf("task %s already has execution %s in status %s: %w",
				execution.TaskID, active.ID, active.Status, errdefs.ErrConflict)
		}
		data, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		return b.Put([]byte(execution.ID), data)
	})
}

// activeExecutionTx scans for a non-terminal execution of the task within
// an open transaction
func activeExecutionTx(b *bolt.Bucket, taskID string) *types.Execution {
	var active *types.Execution
	_ = b.ForEach(func(k, v []byte) error {
		var exec types.Execution
		if err := json.Unmarshal(v, &exec); err != nil {
			return nil
		}
		if exec.TaskID == taskID && !exec.Status.Terminal() {
			active = &exec
		}
		return nil
	})
	return active
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var execution types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution not found: %s: %w", id, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &execution)
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// GetActiveExecution returns the task's pending or running execution
func (s *BoltStore) GetActiveExecution(taskID string) (*types.Execution, error) {
	var active *types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		active = activeExecutionTx(b, taskID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("no active execution for task: %s: %w", taskID, errdefs.ErrNotFound)
	}
	return active, nil
}

// ListExecutionsByTask returns a task's executions ordered by create time
// descending. offset/limit page the result; limit 0 means no cap.
func (s *BoltStore) ListExecutionsByTask(taskID string, limit, offset int) ([]*types.Execution, error) {
	var executions []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			if exec.TaskID == taskID {
				executions = append(executions, &exec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(executions) {
			return nil, nil
		}
		executions = executions[offset:]
	}
	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

func (s *BoltStore) ListExecutionsByStatus(status types.ExecutionStatus) ([]*types.Execution, error) {
	var executions []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			if exec.Status == status {
				executions = append(executions, &exec)
			}
			return nil
		})
	})
	return executions, err
}

// LastExecutions returns the task's n most recent executions, newest first
func (s *BoltStore) LastExecutions(taskID string, n int) ([]*types.Execution, error) {
	return s.ListExecutionsByTask(taskID, n, 0)
}

// UpdateExecution rewrites an execution row. The stored row must not be
// terminal; terminal rows are absorbing and any attempt to rewrite one
// fails with a failed-precondition error.
func (s *BoltStore) UpdateExecution(execution *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(execution.ID))
		if data == nil {
			return fmt.Errorf("execution not found: %s: %w", execution.ID, errdefs.ErrNotFound)
		}
		var stored types.Execution
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		if stored.Status.Terminal() {
			return fmt.Errorf("execution %s is terminal (%s): %w",
				execution.ID, stored.Status, errdefs.ErrFailedPrecondition)
		}
		updated, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		return b.Put([]byte(execution.ID), updated)
	})
}

// TransitionExecution compare-and-sets an execution's status. The stored
// status must be one of from; apply mutates the row (including the new
// status) before it is written back. A terminal stored row always fails
// with a failed-precondition error so callers can tell "already resolved"
// apart from a lost race with another non-terminal state.
func (s *BoltStore) TransitionExecution(id string, from []types.ExecutionStatus, apply func(*types.Execution)) (*types.Execution, error) {
	var result *types.Execution
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution not found: %s: %w", id, errdefs.ErrNotFound)
		}
		var exec types.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return fmt.Errorf("execution %s is terminal (%s): %w",
				id, exec.Status, errdefs.ErrFailedPrecondition)
		}
		allowed := false
		for _, st := range from {
			if exec.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("execution %s is %s, expected one of %v: %w",
				id, exec.Status, from, errdefs.ErrConflict)
		}
		apply(&exec)
		exec.UpdatedAt = time.Now()
		updated, err := json.Marshal(&exec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}
		result = &exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetExecutionHeartbeat records the last heartbeat time. Heartbeats
// arriving after the row turned terminal are silently dropped.
func (s *BoltStore) SetExecutionHeartbeat(id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution not found: %s: %w", id, errdefs.ErrNotFound)
		}
		var exec types.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}
		exec.LastHeartbeat = &at
		exec.UpdatedAt = time.Now()
		updated, err := json.Marshal(&exec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// FireSchedule commits a schedule fire atomically: the new pending
// execution and the schedule's advanced next-fire land in one transaction,
// guarded by the single-active-execution check.
func (s *BoltStore) FireSchedule(execution *types.Execution, schedule *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketExecutions)
		if active := activeExecutionTx(eb, execution.TaskID); active != nil {
			return fmt.Errorf("task %s already has execution %s in status %s: %w",
				execution.TaskID, active.ID, active.Status, errdefs.ErrConflict)
		}
		execData, err := json.Marshal(execution)
		if err != nil {
			return err
		}
		if err := eb.Put([]byte(execution.ID), execData); err != nil {
			return err
		}

		sb := tx.Bucket(bucketSchedules)
		schedData, err := json.Marshal(schedule)
		if err != nil {
			return err
		}
		return sb.Put([]byte(schedule.ID), schedData)
	})
}

// Policy operations
func (s *BoltStore) CreatePolicy(policy *types.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		data, err := json.Marshal(policy)
		if err != nil {
			return err
		}
		return b.Put([]byte(policy.ID), data)
	})
}

func (s *BoltStore) ListPolicies() ([]*types.Policy, error) {
	var policies []*types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		return b.ForEach(func(k, v []byte) error {
			var policy types.Policy
			if err := json.Unmarshal(v, &policy); err != nil {
				return err
			}
			policies = append(policies, &policy)
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) ListPoliciesBySubject(subject string) ([]*types.Policy, error) {
	policies, err := s.ListPolicies()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Policy
	for _, policy := range policies {
		if policy.Subject == subject {
			filtered = append(filtered, policy)
		}
	}
	return filtered, nil
}

func (s *BoltStore) DeletePolicy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		return b.Delete([]byte(id))
	})
}
