package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeWorkflowStep = "workflow:step"
	QueueWorkflow        = "workflow"
)

// StepScheduler enqueues workflow step invocations
type StepScheduler interface {
	ScheduleStep(ctx context.Context, executionID string, delay time.Duration) error
}

// StepTaskPayload is the asynq task body for one workflow step
type StepTaskPayload struct {
	ExecutionID string `json:"executionId"`
}

// AsynqScheduler implements StepScheduler on a durable task queue. A delayed
// step is a future task, not a sleeping worker.
type AsynqScheduler struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqScheduler(asynqClient *asynq.Client, retention time.Duration) *AsynqScheduler {
	return &AsynqScheduler{
		client:    asynqClient,
		retention: retention,
	}
}

func (s *AsynqScheduler) ScheduleStep(ctx context.Context, executionID string, delay time.Duration) error {
	data, err := json.Marshal(&StepTaskPayload{ExecutionID: executionID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueWorkflow),
		asynq.MaxRetry(5),
		asynq.Retention(s.retention),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TaskTypeWorkflowStep, data)
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue workflow step: %w", err)
	}
	return nil
}
