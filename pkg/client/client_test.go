package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/manager"
	"github.com/cuemby/magpie/pkg/types"
)

func TestClientSendsSubjectHeader(t *testing.T) {
	var gotUser, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(userHeader)
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(&types.Task{ID: "t1", Name: "catalog-crawl"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "alice")
	task, err := c.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "/v1/tasks/t1", gotPath)
	assert.Equal(t, "catalog-crawl", task.Name)
}

func TestClientCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req manager.CreateTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&types.Task{ID: "t1", Name: req.Name})
	}))
	defer srv.Close()

	c := New(srv.URL, "alice")
	task, err := c.CreateTask(context.Background(), &manager.CreateTaskRequest{
		Name:        "catalog-crawl",
		Type:        types.TaskTypeContainerCrawl,
		TriggerMode: types.TriggerManual,
		BaseURL:     "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "catalog-crawl", task.Name)
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "task busy-crawl already has a live execution"})
	}))
	defer srv.Close()

	c := New(srv.URL, "alice")
	_, err := c.ExecuteTask(context.Background(), "t1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Message, "live execution")
}

func TestClientQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		_ = json.NewEncoder(w).Encode([]*types.Execution{})
	}))
	defer srv.Close()

	c := New(srv.URL, "alice")
	execs, err := c.ListExecutions(context.Background(), "t1", 25, 50)
	require.NoError(t, err)
	assert.Empty(t, execs)
}
