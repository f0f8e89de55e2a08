package types

import (
	"encoding/json"
	"time"
)

// HeartbeatRequest is periodically posted by collection containers to
// report liveness and progress.
type HeartbeatRequest struct {
	ExecutionID   string         `json:"execution_id"`
	ContainerName string         `json:"container_name,omitempty"`
	Status        string         `json:"status,omitempty"`
	Progress      map[string]any `json:"progress,omitempty"`
	Timestamp     int64          `json:"timestamp,omitempty"` // client epoch seconds
}

// HeartbeatResponse acknowledges a heartbeat. Returned with HTTP 200 even
// when the durable last-heartbeat write is still in flight or failed.
type HeartbeatResponse struct {
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	ExecutionID string `json:"execution_id"`
}

// CompletionRequest is posted once by a container when it finishes.
type CompletionRequest struct {
	ExecutionID   string          `json:"execution_id"`
	ContainerName string          `json:"container_name,omitempty"`
	Success       bool            `json:"success"`
	ResultData    json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// CompletionResponse acknowledges a completion callback.
type CompletionResponse struct {
	Message string `json:"message"`
}

// HeartbeatRecord is the cached trace of an execution's latest heartbeat.
// The callback server writes it, the reconciler reads it when judging
// liveness; the durable last-heartbeat column lags behind it.
type HeartbeatRecord struct {
	At       time.Time      `json:"at"`
	Status   string         `json:"status,omitempty"`
	Progress map[string]any `json:"progress,omitempty"`
}
