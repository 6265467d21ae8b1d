package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/simulation-verifier/pkg/models"
)

const (
	// TaskQueue is the queue verification workers poll
	TaskQueue = "simulation-verifier"

	// StatusQuery returns the workflow's VerificationResult. Its status stays
	// running until the verification activity returns.
	StatusQuery = "getStatus"

	defaultTimeout = 2 * time.Minute
)

// VerificationInput is the input for a verification workflow
type VerificationInput struct {
	RunID          string `json:"run_id"`
	TargetURL      string `json:"target_url,omitempty"` // Empty means the worker default
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// VerificationWorkflow runs one verification pass on a worker and records
// the outcome. A failed pass is reported in the result, not as an error.
func VerificationWorkflow(ctx workflow.Context, input VerificationInput) (models.VerificationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting verification workflow", "runID", input.RunID, "target", input.TargetURL)

	result := models.VerificationResult{
		RunID:     input.RunID,
		Status:    models.StatusRunning,
		TargetURL: input.TargetURL,
		StartedAt: workflow.Now(ctx),
	}

	// Register query handler for run status
	err := workflow.SetQueryHandler(ctx, StatusQuery, func() (models.VerificationResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	timeout := defaultTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	// A verification attempt is never retried
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var runResult models.VerificationResult
	err = workflow.ExecuteActivity(runCtx, "RunVerificationActivity", input).Get(ctx, &runResult)
	if err != nil {
		result.Status = models.StatusFailed
		result.ErrorMessage = "Verification activity failed: " + err.Error()
		result.FinishedAt = workflow.Now(ctx)
	} else {
		result = runResult
	}

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(recordCtx, "RecordRunActivity", result).Get(ctx, nil); err != nil {
		logger.Warn("Failed to record verification run", "runID", result.RunID, "error", err)
	}

	logger.Info("Verification workflow completed", "status", result.Status, "artifact", result.ArtifactPath)
	return result, nil
}
