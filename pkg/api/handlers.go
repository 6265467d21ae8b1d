package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.temporal.io/sdk/client"

	"dev/bravebird/simulation-verifier/pkg/models"
	"dev/bravebird/simulation-verifier/pkg/temporal/workflows"
	"dev/bravebird/simulation-verifier/pkg/verify"
)

// RunStore is the run history the handlers read and write
type RunStore interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	GetRun(ctx context.Context, id string) (*models.VerificationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
}

// Handlers contains API handlers
type Handlers struct {
	store          RunStore // Nil when running without persistence
	temporalClient client.Client
	screenshotDir  string
	upgrader       websocket.Upgrader
	pollInterval   time.Duration

	// DefaultTargetURL is used when a request names no target
	DefaultTargetURL string
}

// NewHandlers creates new API handlers
func NewHandlers(store RunStore, temporalClient client.Client, screenshotDir string) *Handlers {
	return &Handlers{
		store:          store,
		temporalClient: temporalClient,
		screenshotDir:  screenshotDir,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pollInterval:     500 * time.Millisecond,
		DefaultTargetURL: verify.DefaultTargetURL,
	}
}

// WorkflowID returns the Temporal workflow ID for a run
func WorkflowID(runID string) string {
	return "verification-" + runID
}

// ==================== Verification Handlers ====================

// StartVerification starts a verification workflow
func (h *Handlers) StartVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	target := req.TargetURL
	if target == "" {
		target = h.DefaultTargetURL
	}
	if err := validateTargetURL(target); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.temporalClient == nil {
		http.Error(w, "Temporal not available", http.StatusServiceUnavailable)
		return
	}

	runID := uuid.New().String()
	now := time.Now()
	run := &models.VerificationRun{
		ID:        runID,
		TargetURL: target,
		Status:    models.StatusPending,
		StartedAt: &now,
	}

	if h.store != nil {
		if err := h.store.CreateRun(ctx, run); err != nil {
			http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	input := workflows.VerificationInput{
		RunID:     runID,
		TargetURL: target,
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:        WorkflowID(runID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, workflowOptions, workflows.VerificationWorkflow, input)
	if err != nil {
		if h.store != nil {
			if uerr := h.store.UpdateRunStatus(ctx, runID, models.StatusFailed, err.Error()); uerr != nil {
				log.Printf("Failed to mark run %s failed: %v", runID, uerr)
			}
		}
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Update run with Temporal IDs
	run.TemporalWorkflowID = we.GetID()
	run.TemporalRunID = we.GetRunID()
	run.Status = models.StatusRunning
	if h.store != nil {
		if err := h.store.CreateRun(ctx, run); err != nil {
			log.Printf("Failed to store Temporal IDs for run %s: %v", runID, err)
		}
	}

	respondJSON(w, map[string]interface{}{
		"run_id":               runID,
		"temporal_workflow_id": we.GetID(),
		"temporal_run_id":      we.GetRunID(),
		"status":               models.StatusRunning,
	})
}

// ListVerifications lists recent verification runs
func (h *Handlers) ListVerifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(ctx, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, runs)
}

// GetVerification retrieves a verification run
func (h *Handlers) GetVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	respondJSON(w, run)
}

// StreamVerification streams run status via WebSocket until it is terminal
func (h *Handlers) StreamVerification(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// net/http stops tracking a hijacked connection, so a client that goes
	// away is only noticed by reading from it
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var lastStatus models.RunStatus

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, status, ok := h.currentStatus(ctx, runID)
			if !ok || status == lastStatus {
				continue
			}

			msg := models.WSMessage{
				Type:    "run_update",
				Payload: payload,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			lastStatus = status

			if status.IsTerminal() {
				return
			}
		}
	}
}

// currentStatus queries the workflow for its status, falling back to the store
func (h *Handlers) currentStatus(ctx context.Context, runID string) (interface{}, models.RunStatus, bool) {
	if h.temporalClient != nil {
		queryResp, err := h.temporalClient.QueryWorkflow(ctx, WorkflowID(runID), "", workflows.StatusQuery)
		if err == nil {
			var result models.VerificationResult
			if queryResp.Get(&result) == nil && result.Status != "" {
				return result, result.Status, true
			}
		}
	}

	if h.store != nil {
		run, err := h.store.GetRun(ctx, runID)
		if err == nil && run != nil {
			return run, run.Status, true
		}
	}

	return nil, "", false
}

// ==================== Artifact Handlers ====================

// ServeArtifact serves a screenshot from the screenshot directory
func (h *Handlers) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(mux.Vars(r)["filename"])
	if filepath.Ext(filename) != ".png" {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}

	filePath := filepath.Join(h.screenshotDir, filename)

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}

	// Artifacts are overwritten by later runs
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid target_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid target_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid target_url: missing host")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
