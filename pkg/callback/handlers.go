package callback

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/engine"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/types"
)

// handleHeartbeat ingests one liveness report. The response is 200 as
// soon as the cache holds the record; the durable store write happens
// asynchronously and its failure never reaches the container.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed heartbeat payload"})
		return
	}
	if _, err := uuid.Parse(req.ExecutionID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid execution id"})
		return
	}

	metrics.HeartbeatsReceived.Inc()

	// Server receive time, not the client epoch: container clocks drift
	// and liveness judgement needs one clock.
	now := time.Now()
	ctx := r.Context()

	record, err := json.Marshal(types.HeartbeatRecord{
		At:       now,
		Status:   req.Status,
		Progress: req.Progress,
	})
	if err == nil {
		ttl := 2 * s.cfg.Heartbeat.Timeout.D()
		if err := s.cache.Set(ctx, cache.HeartbeatKey(req.ExecutionID), record, ttl); err != nil {
			s.logger.Warn().Err(err).
				Str("execution_id", req.ExecutionID).
				Msg("Heartbeat cache write failed")
		}
	}
	if err := s.cache.Delete(ctx, cache.TimeoutKey(req.ExecutionID)); err != nil {
		s.logger.Debug().Err(err).
			Str("execution_id", req.ExecutionID).
			Msg("Failed to reset timeout counter")
	}

	s.enqueue(heartbeatWrite{executionID: req.ExecutionID, at: now})

	writeJSON(w, http.StatusOK, types.HeartbeatResponse{
		Status:      "ok",
		Timestamp:   now.Unix(),
		ExecutionID: req.ExecutionID,
	})
}

// handleCompletion records a container's terminal report. Duplicate
// deliveries answer 200: the engine's terminal gate makes the second
// write a no-op and the container should stop retrying.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed completion payload"})
		return
	}
	if _, err := uuid.Parse(req.ExecutionID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid execution id"})
		return
	}

	result := "failure"
	if req.Success {
		result = "success"
	}
	metrics.CompletionsReceived.WithLabelValues(result).Inc()

	exec, err := s.store.GetExecution(req.ExecutionID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "execution not found"})
			return
		}
		s.logger.Error().Err(err).
			Str("execution_id", req.ExecutionID).
			Msg("Failed to load execution for completion")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to load execution"})
		return
	}
	if req.ContainerName != "" && req.ContainerName != exec.ContainerName {
		// A convenience label, not a security boundary.
		s.logger.Warn().
			Str("execution_id", req.ExecutionID).
			Str("reported", req.ContainerName).
			Str("expected", exec.ContainerName).
			Msg("Completion container name mismatch")
	}

	_, err = s.engine.Complete(req.ExecutionID, engine.Outcome{
		Success:  req.Success,
		Result:   req.ResultData,
		ErrorLog: req.ErrorMessage,
		Reason:   "completed",
	})
	if err != nil {
		switch {
		case errdefs.IsFailedPrecondition(err):
			writeJSON(w, http.StatusOK, types.CompletionResponse{Message: "execution already finalized"})
		case errdefs.IsNotFound(err):
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "execution not found"})
		default:
			s.logger.Error().Err(err).
				Str("execution_id", req.ExecutionID).
				Msg("Failed to record completion")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to record completion"})
		}
		return
	}

	s.logger.Info().
		Str("execution_id", req.ExecutionID).
		Bool("success", req.Success).
		Msg("Completion recorded")
	writeJSON(w, http.StatusOK, types.CompletionResponse{Message: "completion recorded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
