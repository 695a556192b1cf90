// Package worker registers the evaluation workflow and activity with a
// Temporal worker and builds their collaborators from configuration.
package worker

import (
	"github.com/AnthusAI/Plexus-sub006/internal/activity"
	"github.com/AnthusAI/Plexus-sub006/internal/workflow"
)

// Registrar is the registration surface shared by sdk workers and the
// Temporal test environments.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// RegisterAll registers the evaluation workflow and activity. It must be
// called once during worker startup, before the worker starts.
func RegisterAll(w Registrar, deps activity.Dependencies) *activity.Activities {
	acts := activity.NewActivities(deps)

	w.RegisterWorkflow(workflow.ScorecardEvaluationWorkflow)
	w.RegisterActivity(acts)
	return acts
}
