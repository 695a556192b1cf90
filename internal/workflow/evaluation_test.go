package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/AnthusAI/Plexus-sub006/internal/activity"
	"github.com/AnthusAI/Plexus-sub006/internal/config"
	"github.com/AnthusAI/Plexus-sub006/internal/dispatch"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
)

func testActivities() *activity.Activities {
	cfg := config.DefaultEvaluation()
	cfg.PollInterval = 5 * time.Millisecond
	fast := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	cfg.PredictRetry = fast
	return activity.NewActivities(activity.Dependencies{
		Evaluation: cfg,
		SyncPolicy: fast,
		Registry: dispatch.Registry{
			"Topic": dispatch.PredictorFunc(func(_ context.Context, req dispatch.Request) ([]domain.Prediction, error) {
				label, _ := req.Sample.Label("Topic")
				return []domain.Prediction{{Value: label}}, nil
			}),
		},
	})
}

func validRequest() domain.EvaluationRequest {
	return domain.EvaluationRequest{
		Scorecard: domain.Scorecard{Name: "Support", Scores: []domain.ScoreConfig{{Name: "Topic"}}},
		Samples: []domain.SampleRecord{
			{ID: "a", Labels: map[string]string{"Topic": "billing"}},
			{ID: "b", Labels: map[string]string{"Topic": "refund"}},
		},
	}
}

func TestScorecardEvaluationWorkflow(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}

	t.Run("runs the evaluation activity", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		env.RegisterActivity(testActivities())

		env.ExecuteWorkflow(ScorecardEvaluationWorkflow, validRequest())
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var summary domain.EvaluationSummary
		require.NoError(t, env.GetWorkflowResult(&summary))
		assert.NotEmpty(t, summary.RunID, "a run id is assigned")
		assert.Equal(t, domain.RunCompleted, summary.Status)
		assert.Equal(t, int64(2), summary.Processed)
		require.Len(t, summary.Scores, 1)
		require.NotNil(t, summary.Scores[0].Accuracy)
		assert.InDelta(t, 1.0, *summary.Scores[0].Accuracy, 1e-9)
	})

	t.Run("keeps a caller supplied run id", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		env.RegisterActivity(testActivities())
		var acts *activity.Activities
		env.OnActivity(acts.EvaluateScorecard, mock.Anything, mock.MatchedBy(func(req domain.EvaluationRequest) bool {
			return req.RunID == "run-fixed"
		})).Return(&domain.EvaluationSummary{RunID: "run-fixed", Status: domain.RunCompleted}, nil).Once()

		req := validRequest()
		req.RunID = "run-fixed"
		env.ExecuteWorkflow(ScorecardEvaluationWorkflow, req)
		require.NoError(t, env.GetWorkflowError())
		env.AssertExpectations(t)

		var summary domain.EvaluationSummary
		require.NoError(t, env.GetWorkflowResult(&summary))
		assert.Equal(t, "run-fixed", summary.RunID)
	})

	t.Run("invalid request fails validation", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		env.RegisterActivity(testActivities())

		env.ExecuteWorkflow(ScorecardEvaluationWorkflow, domain.EvaluationRequest{})
		require.True(t, env.IsWorkflowCompleted())

		err := env.GetWorkflowError()
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, activity.ErrorTypeValidation, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("activity failure is not retried", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		env.RegisterActivity(testActivities())
		var acts *activity.Activities
		env.OnActivity(acts.EvaluateScorecard, mock.Anything, mock.Anything).
			Return(nil, temporal.NewApplicationErrorWithCause("evaluation run failed", activity.ErrorTypeRunFailed, errors.New("final sync"))).
			Once()

		env.ExecuteWorkflow(ScorecardEvaluationWorkflow, validRequest())
		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		env.AssertExpectations(t)

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, env.GetWorkflowError(), &appErr)
		assert.Equal(t, activity.ErrorTypeRunFailed, appErr.Type())
	})
}
