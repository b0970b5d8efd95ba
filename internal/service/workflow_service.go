package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/podbrief/api/internal/model"
	"github.com/podbrief/api/internal/store"
)

// ErrExecutionNotFound is surfaced to handlers for unknown execution ids
var ErrExecutionNotFound = errors.New("execution not found")

// ErrResultNotReady means the execution has not succeeded (yet)
var ErrResultNotReady = errors.New("execution has not succeeded")

// WorkflowService manages workflow executions: idempotent start, status and
// result reads
type WorkflowService struct {
	store            store.ExecutionStore
	scheduler        StepScheduler
	executionTimeout time.Duration
	outputBucket     string
}

func NewWorkflowService(execStore store.ExecutionStore, scheduler StepScheduler, executionTimeout time.Duration, outputBucket string) *WorkflowService {
	return &WorkflowService{
		store:            execStore,
		scheduler:        scheduler,
		executionTimeout: executionTimeout,
		outputBucket:     outputBucket,
	}
}

// Start begins a workflow for an input object. Idempotent on the input's
// (bucket, key, version): a duplicate start while an execution is running or
// succeeded returns that execution instead of creating a second one. A failed
// execution releases the input for reprocessing.
func (s *WorkflowService) Start(ctx context.Context, input model.ObjectRef) (*model.StartWorkflowResponse, error) {
	executionID := uuid.New().String()

	winner, claimed, err := s.store.ClaimInput(ctx, input, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim input: %w", err)
	}

	if !claimed {
		existing, err := s.store.Get(ctx, winner)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Claim points at an expired execution; take over the input.
			if err := s.store.ReclaimInput(ctx, input, executionID); err != nil {
				return nil, fmt.Errorf("failed to reclaim input: %w", err)
			}
		case err != nil:
			return nil, err
		case existing.Status == model.ExecutionFailed:
			log.Printf("Input %s previously failed (execution %s), starting over", input.IdempotencyKey(), existing.ID)
			if err := s.store.ReclaimInput(ctx, input, executionID); err != nil {
				return nil, fmt.Errorf("failed to reclaim input: %w", err)
			}
		default:
			log.Printf("Duplicate start for input %s, returning execution %s", input.IdempotencyKey(), existing.ID)
			return &model.StartWorkflowResponse{
				ExecutionID:  existing.ID,
				Status:       existing.Status,
				State:        existing.CurrentState,
				Deduplicated: true,
				CreatedAt:    existing.CreatedAt,
			}, nil
		}
	}

	now := time.Now()
	exec := &model.WorkflowExecution{
		ID:           executionID,
		Input:        input,
		CurrentState: model.StateSubmitTranscription,
		Status:       model.ExecutionRunning,
		Payload: model.StagePayload{
			Source:           input,
			OriginalFileName: path.Base(input.Key),
		},
		CreatedAt: now,
		Deadline:  now.Add(s.executionTimeout),
	}

	if err := s.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	if err := s.scheduler.ScheduleStep(ctx, executionID, 0); err != nil {
		return nil, fmt.Errorf("failed to schedule first step: %w", err)
	}

	log.Printf("Started execution %s for %s", executionID, input.URI())

	return &model.StartWorkflowResponse{
		ExecutionID: executionID,
		Status:      model.ExecutionRunning,
		State:       model.StateSubmitTranscription,
		CreatedAt:   now,
	}, nil
}

// GetStatus returns the current status of an execution
func (s *WorkflowService) GetStatus(ctx context.Context, executionID string) (*model.WorkflowStatusResponse, error) {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &model.WorkflowStatusResponse{
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		State:        exec.CurrentState,
		Input:        exec.Input,
		JobID:        exec.Payload.JobID,
		PollCount:    exec.Payload.PollCount,
		Error:        exec.Error,
		CreatedAt:    exec.CreatedAt,
		CompletedAt:  exec.CompletedAt,
		HistoryDepth: len(exec.History),
	}, nil
}

// GetResult returns the stored document location for a succeeded execution
func (s *WorkflowService) GetResult(ctx context.Context, executionID string) (*model.WorkflowResultResponse, error) {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if exec.Status != model.ExecutionSucceeded {
		return nil, ErrResultNotReady
	}

	return &model.WorkflowResultResponse{
		ExecutionID:   exec.ID,
		OutputBucket:  s.outputBucket,
		OutputKey:     exec.Payload.OutputKey,
		EpisodeName:   exec.Payload.EpisodeName,
		EpisodeNumber: exec.Payload.EpisodeNumber,
		CompletedAt:   exec.CompletedAt,
	}, nil
}

// GetHistory returns the append-only transition log of an execution
func (s *WorkflowService) GetHistory(ctx context.Context, executionID string) (*model.WorkflowHistoryResponse, error) {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &model.WorkflowHistoryResponse{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		History:     exec.History,
	}, nil
}

func (s *WorkflowService) getExecution(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	exec, err := s.store.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}
