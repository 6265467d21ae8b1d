package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/simulation-verifier/pkg/models"
)

type VerificationWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env *testsuite.TestWorkflowEnvironment
}

func TestVerificationWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(VerificationWorkflowTestSuite))
}

func (s *VerificationWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()

	// Stand-ins registered under the worker's activity names
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context, input VerificationInput) (models.VerificationResult, error) {
			return models.VerificationResult{}, nil
		},
		activity.RegisterOptions{Name: "RunVerificationActivity"},
	)
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context, result models.VerificationResult) error { return nil },
		activity.RegisterOptions{Name: "RecordRunActivity"},
	)
}

func (s *VerificationWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *VerificationWorkflowTestSuite) Test_Success() {
	input := VerificationInput{RunID: "run-1", TargetURL: "http://localhost:8080"}
	want := models.VerificationResult{
		RunID:        "run-1",
		Status:       models.StatusSuccess,
		TargetURL:    "http://localhost:8080",
		ArtifactPath: "/tmp/screenshots/run-1_simulation.png",
	}

	s.env.OnActivity("RunVerificationActivity", mock.Anything, input).Return(want, nil).Once()
	s.env.OnActivity("RecordRunActivity", mock.Anything, mock.MatchedBy(func(r models.VerificationResult) bool {
		return r.RunID == "run-1" && r.Status == models.StatusSuccess
	})).Return(nil).Once()

	s.env.ExecuteWorkflow(VerificationWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var got models.VerificationResult
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(models.StatusSuccess, got.Status)
	s.Equal(want.ArtifactPath, got.ArtifactPath)
}

func (s *VerificationWorkflowTestSuite) Test_ActivityErrorIsNotRetried() {
	input := VerificationInput{RunID: "run-2"}

	s.env.OnActivity("RunVerificationActivity", mock.Anything, input).
		Return(models.VerificationResult{}, errors.New("worker lost browser")).Once()
	s.env.OnActivity("RecordRunActivity", mock.Anything, mock.MatchedBy(func(r models.VerificationResult) bool {
		return r.Status == models.StatusFailed
	})).Return(nil).Once()

	s.env.ExecuteWorkflow(VerificationWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var got models.VerificationResult
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(models.StatusFailed, got.Status)
	s.Equal("run-2", got.RunID)
	s.Contains(got.ErrorMessage, "worker lost browser")
}

func (s *VerificationWorkflowTestSuite) Test_RecordFailureDoesNotFailWorkflow() {
	input := VerificationInput{RunID: "run-3"}

	s.env.OnActivity("RunVerificationActivity", mock.Anything, input).
		Return(models.VerificationResult{RunID: "run-3", Status: models.StatusFailed, ErrorMessage: "navigation failed"}, nil)
	s.env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(errors.New("db down"))

	s.env.ExecuteWorkflow(VerificationWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var got models.VerificationResult
	s.NoError(s.env.GetWorkflowResult(&got))
	s.Equal(models.StatusFailed, got.Status)
	s.Equal("navigation failed", got.ErrorMessage)
}

func (s *VerificationWorkflowTestSuite) Test_StatusQuery() {
	input := VerificationInput{RunID: "run-4", TargetURL: "http://localhost:8080"}

	s.env.OnActivity("RunVerificationActivity", mock.Anything, input).
		After(10*time.Second).
		Return(models.VerificationResult{
			RunID:        "run-4",
			Status:       models.StatusSuccess,
			ArtifactPath: "/tmp/screenshots/run-4_simulation.png",
		}, nil)
	s.env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		val, err := s.env.QueryWorkflow(StatusQuery)
		s.NoError(err)

		var status models.VerificationResult
		s.NoError(val.Get(&status))
		s.Equal(models.StatusRunning, status.Status)
		s.Equal("run-4", status.RunID)
		s.Empty(status.ArtifactPath)
	}, 5*time.Second)

	s.env.ExecuteWorkflow(VerificationWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	// The query switches to the activity outcome once it returns
	val, err := s.env.QueryWorkflow(StatusQuery)
	s.NoError(err)

	var status models.VerificationResult
	s.NoError(val.Get(&status))
	s.Equal(models.StatusSuccess, status.Status)
	s.Equal("/tmp/screenshots/run-4_simulation.png", status.ArtifactPath)
}
