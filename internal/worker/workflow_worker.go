package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/podbrief/api/internal/engine"
	"github.com/podbrief/api/internal/service"
)

// WorkflowWorker processes workflow step tasks
type WorkflowWorker struct {
	engine *engine.Engine
}

// NewWorkflowWorker creates a new workflow worker
func NewWorkflowWorker(eng *engine.Engine) *WorkflowWorker {
	return &WorkflowWorker{engine: eng}
}

// ProcessTask handles one step invocation. A returned error makes asynq retry
// the task; the engine's compare-and-set transitions keep a retried step from
// double-applying.
func (w *WorkflowWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.StepTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	if payload.ExecutionID == "" {
		return fmt.Errorf("step task carries no execution id")
	}

	log.Printf("Processing step for execution %s", payload.ExecutionID)
	return w.engine.Step(ctx, payload.ExecutionID)
}
