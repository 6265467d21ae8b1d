package activities

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/log"

	"dev/bravebird/simulation-verifier/pkg/models"
	"dev/bravebird/simulation-verifier/pkg/temporal/workflows"
	"dev/bravebird/simulation-verifier/pkg/verify"
)

// RunRecorder persists verification outcomes
type RunRecorder interface {
	CompleteRun(ctx context.Context, result models.VerificationResult) error
}

// Activities holds activity implementations
type Activities struct {
	Config        verify.Config
	ScreenshotDir string
	Recorder      RunRecorder // Nil disables persistence

	// NewLauncher builds the browser launcher for a run
	NewLauncher func(cfg verify.Config) verify.Launcher
}

// NewActivities creates activities that launch browsers through go-rod
func NewActivities(cfg verify.Config, screenshotDir string, recorder RunRecorder) *Activities {
	return &Activities{
		Config:        cfg,
		ScreenshotDir: screenshotDir,
		Recorder:      recorder,
		NewLauncher: func(cfg verify.Config) verify.Launcher {
			return verify.NewRodLauncher(cfg)
		},
	}
}

// ArtifactNames returns the success and error screenshot file names for a run
func ArtifactNames(runID string) (success, failure string) {
	return runID + "_simulation.png", runID + "_error.png"
}

// RunVerificationActivity performs one verification pass
func (a *Activities) RunVerificationActivity(ctx context.Context, input workflows.VerificationInput) (models.VerificationResult, error) {
	logger := activity.GetLogger(ctx)

	cfg := a.Config
	if input.TargetURL != "" {
		cfg.TargetURL = input.TargetURL
	}
	successName, errorName := ArtifactNames(input.RunID)
	cfg.SuccessPath = filepath.Join(a.ScreenshotDir, successName)
	cfg.ErrorPath = filepath.Join(a.ScreenshotDir, errorName)

	logger.Info("Running verification", "runID", input.RunID, "target", cfg.TargetURL)
	activity.RecordHeartbeat(ctx, "launching browser")

	runner := verify.NewRunner(cfg, a.NewLauncher(cfg))
	out := newLogWriter(logger, input.RunID)
	runner.Out = out

	result := runner.RunAs(ctx, input.RunID)
	out.Flush()

	logger.Info("Verification finished", "runID", result.RunID, "status", result.Status, "duration", result.Duration())
	return result, nil
}

// RecordRunActivity stores the outcome of a verification run
func (a *Activities) RecordRunActivity(ctx context.Context, result models.VerificationResult) error {
	if a.Recorder == nil {
		return nil
	}
	if err := a.Recorder.CompleteRun(ctx, result); err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.RunID, err)
	}
	return nil
}

// logWriter forwards each console line of a run to the activity logger
type logWriter struct {
	logger log.Logger
	runID  string
	buf    strings.Builder
}

var _ io.Writer = (*logWriter)(nil)

func newLogWriter(logger log.Logger, runID string) *logWriter {
	return &logWriter{logger: logger, runID: runID}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	text := w.buf.String()

	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return len(p), nil
	}

	for _, line := range strings.Split(text[:idx], "\n") {
		w.emit(line)
	}
	w.buf.Reset()
	w.buf.WriteString(text[idx+1:])
	return len(p), nil
}

// Flush emits any trailing partial line
func (w *logWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *logWriter) emit(line string) {
	if line == "" {
		return
	}
	if msg, ok := strings.CutPrefix(line, "Error: "); ok {
		w.logger.Warn("Verification error", "runID", w.runID, "error", msg)
		return
	}
	w.logger.Info(line, "runID", w.runID)
}
