package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker serving the knowledge and
// index workflows. Dependencies must be set before activities run.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// Register adds the workflows and activities to r.
func Register(r worker.Registry) {
	r.RegisterWorkflow(KnowledgeWorkflow)
	r.RegisterWorkflow(IndexWorkflow)
	r.RegisterActivity(ParseDiffActivity)
	r.RegisterActivity(RetrievePatternsActivity)
	r.RegisterActivity(RelatedFilesActivity)
	r.RegisterActivity(IndexActivity)
}
