package rbac

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// Actions understood by the policy layer
const (
	ActionRead    = "read"
	ActionWrite   = "write"
	ActionExecute = "execute"
	ActionAdmin   = "admin"
)

// Objects understood by the policy layer. Per-task grants use
// TaskObject(id) instead of the class-wide ObjectTasks.
const (
	ObjectTasks      = "tasks"
	ObjectExecutions = "executions"
	ObjectPolicies   = "policies"
	ObjectAll        = "*"
)

// AdminSubject always passes every check
const AdminSubject = "admin"

// policyCacheTTL bounds how stale a cached subject policy set may be
const policyCacheTTL = 30 * time.Second

// TaskObject returns the object name for a single task
func TaskObject(taskID string) string {
	return "task:" + taskID
}

// Enforcer answers "may subject S perform action A on object O?" from the
// policy rows in the store. Subject policy sets are cached briefly; a
// revoked grant can outlive the revocation by up to policyCacheTTL.
type Enforcer struct {
	store storage.Store

	mu    sync.RWMutex
	cache map[string]cachedPolicies
}

type cachedPolicies struct {
	policies []*types.Policy
	loadedAt time.Time
}

// NewEnforcer creates a policy enforcer over the store
func NewEnforcer(store storage.Store) *Enforcer {
	return &Enforcer{
		store: store,
		cache: make(map[string]cachedPolicies),
	}
}

// Allow reports whether subject may perform action on object
func (e *Enforcer) Allow(subject, object, action string) (bool, error) {
	if subject == AdminSubject {
		return true, nil
	}

	policies, err := e.policiesFor(subject)
	if err != nil {
		return false, err
	}

	for _, p := range policies {
		if !objectMatches(p.Object, object) {
			continue
		}
		if p.Action == action || p.Action == "*" || p.Action == ActionAdmin {
			return true, nil
		}
	}
	return false, nil
}

// VisibleTask reports whether subject may read the given task. Creators
// always see their own tasks; everyone else needs a policy grant.
func (e *Enforcer) VisibleTask(subject string, task *types.Task) (bool, error) {
	if subject == AdminSubject || task.CreatedBy == subject {
		return true, nil
	}
	if ok, err := e.Allow(subject, TaskObject(task.ID), ActionRead); err != nil || ok {
		return ok, err
	}
	return e.Allow(subject, ObjectTasks, ActionRead)
}

// FilterTasks returns the subset of tasks subject may read, preserving order
func (e *Enforcer) FilterTasks(subject string, tasks []*types.Task) ([]*types.Task, error) {
	if subject == AdminSubject {
		return tasks, nil
	}
	visible := make([]*types.Task, 0, len(tasks))
	for _, task := range tasks {
		ok, err := e.VisibleTask(subject, task)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, task)
		}
	}
	return visible, nil
}

// Grant writes a policy row and invalidates the subject's cached set
func (e *Enforcer) Grant(subject, object, action string) (*types.Policy, error) {
	if subject == "" || object == "" || action == "" {
		return nil, fmt.Errorf("policy fields must not be empty")
	}
	policy := &types.Policy{
		ID:        uuid.New().String(),
		Subject:   subject,
		Object:    object,
		Action:    action,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreatePolicy(policy); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	e.invalidate(subject)
	return policy, nil
}

// Revoke removes a policy row by ID
func (e *Enforcer) Revoke(policyID string) error {
	policies, err := e.store.ListPolicies()
	if err != nil {
		return err
	}
	for _, p := range policies {
		if p.ID == policyID {
			if err := e.store.DeletePolicy(policyID); err != nil {
				return err
			}
			e.invalidate(p.Subject)
			return nil
		}
	}
	return e.store.DeletePolicy(policyID)
}

// policiesFor returns the subject's policies, from cache when fresh
func (e *Enforcer) policiesFor(subject string) ([]*types.Policy, error) {
	e.mu.RLock()
	entry, ok := e.cache[subject]
	e.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < policyCacheTTL {
		return entry.policies, nil
	}

	policies, err := e.store.ListPoliciesBySubject(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies for %s: %w", subject, err)
	}

	e.mu.Lock()
	e.cache[subject] = cachedPolicies{policies: policies, loadedAt: time.Now()}
	e.mu.Unlock()
	return policies, nil
}

// invalidate drops a subject's cached policy set
func (e *Enforcer) invalidate(subject string) {
	e.mu.Lock()
	delete(e.cache, subject)
	e.mu.Unlock()
}

func objectMatches(granted, requested string) bool {
	if granted == ObjectAll || granted == requested {
		return true
	}
	// a class-wide grant covers every instance of the class
	if granted == ObjectTasks && len(requested) > 5 && requested[:5] == "task:" {
		return true
	}
	return false
}
