package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/manager"
	"github.com/cuemby/magpie/pkg/rbac"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

type noopEngine struct{}

func (noopEngine) Admit(task *types.Task, execution *types.Execution) error { return nil }
func (noopEngine) StopExecution(ctx context.Context, executionID string) error {
	return fmt.Errorf("host unreachable: %w", errdefs.ErrUnavailable)
}

type staticLogs struct{}

func (staticLogs) Logs(ctx context.Context, ref string, tail int) (string, error) {
	return "crawler started\n", nil
}

func newTestAPI(t *testing.T) (*httptest.Server, *events.Broker) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cfg := config.Default()
	mgr := manager.New(store, noopEngine{}, rbac.NewEnforcer(store), broker, staticLogs{}, cfg)
	srv := httptest.NewServer(NewServer(mgr, broker, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv, broker
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, user string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createTaskHTTP(t *testing.T, srv *httptest.Server, user, name string) *types.Task {
	t.Helper()
	resp := doRequest(t, srv, http.MethodPost, "/v1/tasks", user, map[string]interface{}{
		"name":         name,
		"type":         "container-crawl",
		"trigger_mode": "manual",
		"base_url":     "https://example.com/listings",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task types.Task
	decode(t, resp, &task)
	return &task
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestAPI(t)

	task := createTaskHTTP(t, srv, "alice", "catalog-crawl")
	assert.Equal(t, "alice", task.CreatedBy)
	assert.Equal(t, types.TaskStatusActive, task.Status)

	resp := doRequest(t, srv, http.MethodGet, "/v1/tasks/"+task.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/tasks", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tasks []*types.Task
	decode(t, resp, &tasks)
	assert.Len(t, tasks, 1)

	desc := "catalog crawler"
	resp = doRequest(t, srv, http.MethodPut, "/v1/tasks/"+task.ID, "alice",
		map[string]*string{"description": &desc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated types.Task
	decode(t, resp, &updated)
	assert.Equal(t, desc, updated.Description)

	resp = doRequest(t, srv, http.MethodDelete, "/v1/tasks/"+task.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/tasks/"+task.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestAPI(t)
	task := createTaskHTTP(t, srv, "alice", "catalog-crawl")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"malformed body", http.MethodPost, "/v1/tasks", "alice", "not-an-object", http.StatusBadRequest},
		{"validation failure", http.MethodPost, "/v1/tasks", "alice",
			map[string]string{"name": "x", "type": "bogus", "base_url": "https://e.com"}, http.StatusBadRequest},
		{"duplicate name", http.MethodPost, "/v1/tasks", "bob", map[string]string{
			"name": "catalog-crawl", "type": "container-crawl", "trigger_mode": "manual",
			"base_url": "https://example.com"}, http.StatusConflict},
		{"unknown task", http.MethodGet, "/v1/tasks/no-such-id", "alice", nil, http.StatusNotFound},
		{"stranger denied", http.MethodGet, "/v1/tasks/" + task.ID, "mallory", nil, http.StatusForbidden},
		{"anonymous denied", http.MethodGet, "/v1/tasks/" + task.ID, "", nil, http.StatusForbidden},
		{"stop without live execution", http.MethodPost, "/v1/tasks/" + task.ID + "/stop", "alice", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, srv, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			var body map[string]string
			decode(t, resp, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestExecuteOverHTTP(t *testing.T) {
	srv, _ := newTestAPI(t)
	task := createTaskHTTP(t, srv, "alice", "catalog-crawl")

	resp := doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/execute", "alice", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exec types.Execution
	decode(t, resp, &exec)
	assert.Equal(t, types.ExecutionPending, exec.Status)

	// Second execute runs into the single-active rule.
	resp = doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/execute", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/tasks/"+task.ID+"/executions", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var execs []*types.Execution
	decode(t, resp, &execs)
	require.Len(t, execs, 1)
	assert.Equal(t, exec.ID, execs[0].ID)

	resp = doRequest(t, srv, http.MethodGet, "/v1/executions/"+exec.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/v1/executions/"+exec.ID+"/logs?tail=10", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logsBody map[string]string
	decode(t, resp, &logsBody)
	assert.Contains(t, logsBody["logs"], "crawler started")
}

func TestStopMapsUnavailable(t *testing.T) {
	srv, _ := newTestAPI(t)
	task := createTaskHTTP(t, srv, "alice", "catalog-crawl")

	resp := doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/execute", "alice", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The fake engine's StopExecution fails with an unavailable error.
	resp = doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/stop", "alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPauseActivateOverHTTP(t *testing.T) {
	srv, _ := newTestAPI(t)
	task := createTaskHTTP(t, srv, "alice", "catalog-crawl")

	resp := doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/pause", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var paused types.Task
	decode(t, resp, &paused)
	assert.Equal(t, types.TaskStatusPaused, paused.Status)

	resp = doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/execute", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/activate", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScheduleEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp := doRequest(t, srv, http.MethodPost, "/v1/tasks", "alice", map[string]interface{}{
		"name":         "nightly-crawl",
		"type":         "container-crawl",
		"trigger_mode": "auto",
		"base_url":     "https://example.com/listings",
		"schedule": map[string]interface{}{
			"type":   "daily",
			"config": map[string]string{"time": "03:00:00"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task types.Task
	decode(t, resp, &task)

	resp = doRequest(t, srv, http.MethodGet, "/v1/tasks/"+task.ID+"/schedule", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sched types.Schedule
	decode(t, resp, &sched)
	assert.Equal(t, types.ScheduleDaily, sched.Type)
	assert.True(t, sched.Active)
}

func TestEventStream(t *testing.T) {
	srv, broker := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	require.Eventually(t, func() bool { return broker.SubscriberCount() > 0 },
		time.Second, 10*time.Millisecond)
	broker.Publish(&types.Event{
		Type:        types.EventExecutionStarted,
		ExecutionID: "exec-1",
	})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: "+string(types.EventExecutionStarted), eventLine)
	assert.Contains(t, dataLine, "exec-1")
}
