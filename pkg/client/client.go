package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/magpie/pkg/manager"
	"github.com/cuemby/magpie/pkg/types"
)

// userHeader mirrors the header the control API reads the subject from
const userHeader = "X-Magpie-User"

// APIError is a non-2xx answer from the control API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Client talks to one magpie control API endpoint as one subject
type Client struct {
	baseURL string
	user    string
	http    *http.Client
}

// New creates a client for the control API at baseURL, acting as user
func New(baseURL, user string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateTask registers a task (and its schedule, for auto tasks)
func (c *Client) CreateTask(ctx context.Context, req *manager.CreateTaskRequest) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns the tasks visible to the client's subject
func (c *Client) ListTasks(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask reads one task
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask patches a task
func (c *Client) UpdateTask(ctx context.Context, id string, req *manager.UpdateTaskRequest) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPut, "/v1/tasks/"+url.PathEscape(id), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask soft-deletes a task
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(id), nil, nil)
}

// ExecuteTask creates a pending execution for the task
func (c *Client) ExecuteTask(ctx context.Context, id string) (*types.Execution, error) {
	var exec types.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/execute", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// StopTask cancels the task's live execution
func (c *Client) StopTask(ctx context.Context, id string) (*types.Execution, error) {
	var exec types.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/stop", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ActivateTask returns a paused task to active
func (c *Client) ActivateTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/activate", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// PauseTask takes a task out of rotation
func (c *Client) PauseTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/pause", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskSchedule reads the task's schedule
func (c *Client) GetTaskSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	var sched types.Schedule
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id)+"/schedule", nil, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListExecutions returns a task's executions, newest first
func (c *Client) ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*types.Execution, error) {
	path := fmt.Sprintf("/v1/tasks/%s/executions?limit=%d&offset=%d",
		url.PathEscape(taskID), limit, offset)
	var execs []*types.Execution
	if err := c.do(ctx, http.MethodGet, path, nil, &execs); err != nil {
		return nil, err
	}
	return execs, nil
}

// GetExecution reads one execution
func (c *Client) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	var exec types.Execution
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ExecutionLogs tails the execution's container log
func (c *Client) ExecutionLogs(ctx context.Context, id string, tail int) (string, error) {
	path := "/v1/executions/" + url.PathEscape(id) + "/logs?tail=" + strconv.Itoa(tail)
	var body struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return "", err
	}
	return body.Logs, nil
}

// do runs one request. A nil out discards the response body; a non-2xx
// status becomes an *APIError with the server's reason.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(userHeader, c.user)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
