package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// Enqueuer starts runs in the background and reports on them
type Enqueuer interface {
	RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error)
	GetStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error)
}

// SeenRecorder counts repeated submissions
type SeenRecorder interface {
	Record(ctx context.Context, req pipeline.ProcessRequest) (int, error)
}

// AsyncHandler handles asynchronous workflow requests
type AsyncHandler struct {
	runner Enqueuer
	seen   SeenRecorder
	logger *zap.SugaredLogger
}

// NewAsyncHandler creates a new async handler. seen may be nil.
func NewAsyncHandler(runner Enqueuer, seen SeenRecorder, logger *zap.SugaredLogger) *AsyncHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AsyncHandler{
		runner: runner,
		seen:   seen,
		logger: logger,
	}
}

// HandleProcessAsync handles POST /v1/process - enqueues workflow and returns immediately
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := h.logger.With("job", req.Job, "site", req.Site, "content_id", req.ContentID)

	seenCount := 0
	if h.seen != nil {
		n, err := h.seen.Record(r.Context(), req)
		if err != nil {
			log.Warnw("failed to record submission", "error", err)
		} else {
			seenCount = n
		}
	}

	log.Infow("enqueueing workflow", "seen_count", seenCount)
	runID, err := h.runner.RunAsync(r.Context(), req)
	if err != nil {
		log.Errorw("failed to enqueue workflow", "error", err)
		http.Error(w, fmt.Sprintf("Failed to enqueue workflow: %v", err), http.StatusInternalServerError)
		return
	}
	log.Infow("✓ workflow enqueued", "run_id", runID)

	writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{
		RunID:           runID,
		DedupeSeenCount: seenCount,
	})
}

// HandleStatus handles GET /v1/runs/{runID} - returns workflow status
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.runner.GetStatus(r.Context(), runID)
	if errors.Is(err, dbosruntime.ErrWorkflowNotFound) {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Errorw("failed to get workflow status", "run_id", runID, "error", err)
		http.Error(w, "Failed to get workflow status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
