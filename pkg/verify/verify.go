// Package verify captures a screenshot of a locally served web application
// once it has rendered, for manual or CI inspection.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"dev/bravebird/simulation-verifier/pkg/models"
)

const (
	DefaultTargetURL   = "http://localhost:8080"
	DefaultSuccessPath = "/home/jules/verification/simulation.png"
	DefaultErrorPath   = "/home/jules/verification/error.png"
)

var (
	ErrLaunch     = errors.New("failed to launch browser")
	ErrNavigation = errors.New("navigation failed")
	ErrTimeout    = errors.New("timed out waiting for content")
	ErrScreenshot = errors.New("failed to take screenshot")
)

// Config holds the parameters of one verification pass
type Config struct {
	TargetURL         string
	SuccessPath       string
	ErrorPath         string
	ReadySelector     string
	ReadyTimeout      time.Duration
	NavigationTimeout time.Duration
	SettleDelay       time.Duration // Fixed pause after the selector matches
	Headless          bool
	ChromeBin         string
}

// DefaultConfig returns the fixed verification constants
func DefaultConfig() Config {
	return Config{
		TargetURL:         DefaultTargetURL,
		SuccessPath:       DefaultSuccessPath,
		ErrorPath:         DefaultErrorPath,
		ReadySelector:     "body",
		ReadyTimeout:      30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       5 * time.Second,
		Headless:          true,
	}
}

// Runner executes verification passes against a browser launcher
type Runner struct {
	cfg      Config
	launcher Launcher

	// Out receives the plain progress lines
	Out io.Writer

	sleep func(time.Duration)
	now   func() time.Time
}

// NewRunner creates a runner that prints progress to stdout
func NewRunner(cfg Config, launcher Launcher) *Runner {
	return &Runner{
		cfg:      cfg,
		launcher: launcher,
		Out:      os.Stdout,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Config returns the runner configuration
func (r *Runner) Config() Config {
	return r.cfg
}

// Run performs one verification pass. Failures are reported through the
// console and the error screenshot, never returned. The browser session is
// closed on every path.
func (r *Runner) Run(ctx context.Context) models.VerificationResult {
	return r.RunAs(ctx, uuid.New().String())
}

// RunAs is Run with a caller-assigned run ID
func (r *Runner) RunAs(ctx context.Context, runID string) (result models.VerificationResult) {
	result = models.VerificationResult{
		RunID:     runID,
		Status:    models.StatusRunning,
		TargetURL: r.cfg.TargetURL,
		StartedAt: r.now(),
	}
	defer func() {
		result.FinishedAt = r.now()
	}()

	session, err := r.launcher.Launch(ctx)
	if err != nil {
		r.fail(nil, fmt.Errorf("%w: %w", ErrLaunch, err), &result)
		return result
	}
	defer session.Close()

	if err := r.execute(session, &result); err != nil {
		r.fail(session, err, &result)
		return result
	}

	result.Status = models.StatusSuccess
	return result
}

// execute runs navigation, readiness wait, settle delay and capture in order
func (r *Runner) execute(session Session, result *models.VerificationResult) error {
	fmt.Fprintf(r.Out, "Navigating to %s\n", r.cfg.TargetURL)
	if err := session.Navigate(r.cfg.TargetURL, r.cfg.NavigationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, r.cfg.TargetURL, err)
	}

	fmt.Fprintln(r.Out, "Waiting for content...")
	if err := session.WaitElement(r.cfg.ReadySelector, r.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("%w: selector %q after %s: %w", ErrTimeout, r.cfg.ReadySelector, r.cfg.ReadyTimeout, err)
	}
	readyAt := r.now()
	result.ReadyAt = &readyAt

	// Client-side rendering has no completion signal to poll
	r.sleep(r.cfg.SettleDelay)

	fmt.Fprintln(r.Out, "Taking screenshot...")
	capturedAt := r.now()
	result.CapturedAt = &capturedAt
	if err := capture(session, r.cfg.SuccessPath); err != nil {
		return err
	}
	result.ArtifactPath = r.cfg.SuccessPath
	fmt.Fprintln(r.Out, "Screenshot taken")

	return nil
}

// fail reports err and makes a best-effort error screenshot
func (r *Runner) fail(session Session, err error, result *models.VerificationResult) {
	fmt.Fprintf(r.Out, "Error: %v\n", err)
	result.Status = models.StatusFailed
	result.ErrorMessage = err.Error()

	if session == nil {
		return
	}
	// A failed error capture is discarded so it cannot mask err
	if capture(session, r.cfg.ErrorPath) == nil {
		result.ArtifactPath = r.cfg.ErrorPath
	}
}

// capture writes a full-page screenshot to path, overwriting any prior file
func capture(session Session, path string) error {
	data, err := session.Screenshot()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScreenshot, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrScreenshot, path, err)
	}
	return nil
}
