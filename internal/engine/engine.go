package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/podbrief/api/internal/client"
	"github.com/podbrief/api/internal/model"
	"github.com/podbrief/api/internal/store"
)

// StageHandler is one named processing step with a pure-transform contract
// over the stage payload
type StageHandler interface {
	Name() string
	Run(ctx context.Context, p *model.StagePayload) (*model.StagePayload, error)
}

// Scheduler enqueues the next step invocation for an execution. A wait is
// expressed as a delayed re-invocation, never a blocked worker.
type Scheduler interface {
	ScheduleStep(ctx context.Context, executionID string, delay time.Duration) error
}

// Notifier receives state transitions as they are recorded
type Notifier interface {
	NotifyTransition(executionID string, state model.WorkflowState, status model.ExecutionStatus, detail string)
}

// Config tunes the engine
type Config struct {
	PollInterval    time.Duration
	MaxPollFailures int
	SubmitAttempts  int
	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	StageTimeout    time.Duration

	TranscriptsBucket string
	TranscriptPrefix  string
}

// Engine drives the summarization state machine. Each Step call performs at
// most one transition for one execution and persists it before scheduling the
// next invocation, so a crash never loses or duplicates a stage.
type Engine struct {
	store     store.ExecutionStore
	jobs      client.TranscriptionEngine
	clean     StageHandler
	summarize StageHandler
	format    StageHandler
	scheduler Scheduler
	notifier  Notifier
	cfg       Config
}

func New(execStore store.ExecutionStore, jobs client.TranscriptionEngine, clean, summarize, format StageHandler, scheduler Scheduler, notifier Notifier, cfg Config) *Engine {
	return &Engine{
		store:     execStore,
		jobs:      jobs,
		clean:     clean,
		summarize: summarize,
		format:    format,
		scheduler: scheduler,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Step advances one execution by one state transition
func (e *Engine) Step(ctx context.Context, executionID string) error {
	exec, err := e.store.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Execution %s no longer exists, dropping step", executionID)
			return nil
		}
		return err
	}

	if exec.CurrentState.Terminal() || exec.Status != model.ExecutionRunning {
		return nil
	}

	if time.Now().After(exec.Deadline) {
		return e.fail(ctx, exec, model.StateTimedOut,
			fmt.Sprintf("execution exceeded its deadline at %s while in %s", exec.Deadline.Format(time.RFC3339), exec.CurrentState))
	}

	switch exec.CurrentState {
	case model.StateSubmitTranscription:
		return e.submitTranscription(ctx, exec)
	case model.StateAwaitTranscription:
		return e.pollTranscription(ctx, exec)
	case model.StateCleanTranscript:
		return e.runStage(ctx, exec, e.clean, model.StateSummarize, model.StateCleaningFailed)
	case model.StateSummarize:
		return e.runStage(ctx, exec, e.summarize, model.StateFormat, model.StateSummarizationFailed)
	case model.StateFormat:
		return e.runStage(ctx, exec, e.format, model.StateSucceeded, model.StateFormattingFailed)
	default:
		log.Printf("Execution %s is in unexpected state %s, ignoring", exec.ID, exec.CurrentState)
		return nil
	}
}

func (e *Engine) submitTranscription(ctx context.Context, exec *model.WorkflowExecution) error {
	// The dedup token is persisted before the submit call. A re-run of this
	// step after a lost transition write resubmits with the same token, and
	// the provider collapses it onto the existing job.
	token := exec.Payload.ClientToken
	if token == "" {
		token = uuid.New().String()
		if err := e.store.Transition(ctx, exec.ID, exec.CurrentState, func(cur *model.WorkflowExecution) error {
			cur.Payload.ClientToken = token
			*exec = *cur
			return nil
		}); err != nil {
			return err
		}
	}

	req := &client.SubmitJobRequest{
		InputURI:    sourceURI(exec.Input),
		OutputURI:   fmt.Sprintf("s3://%s/%s", e.cfg.TranscriptsBucket, e.cfg.TranscriptPrefix),
		ClientToken: token,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	attempts := e.cfg.SubmitAttempts
	if attempts < 1 {
		attempts = 1
	}

	var resp *client.SubmitJobResponse
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(time.Second))
	err := retry.Do(callCtx, backoff, func(ctx context.Context) error {
		r, err := e.jobs.SubmitJob(ctx, req)
		if err != nil {
			var subErr *client.SubmissionError
			if errors.As(err, &subErr) {
				// Engine rejection is permanent, stop retrying
				return err
			}
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return e.fail(ctx, exec, model.StateTranscriptionFailed, fmt.Sprintf("submission failed: %v", err))
	}

	if err := e.transition(ctx, exec, model.StateAwaitTranscription, model.OutcomeAdvanced, nil, func(cur *model.WorkflowExecution) {
		cur.Payload.JobID = resp.JobID
	}); err != nil {
		return err
	}
	return e.scheduler.ScheduleStep(ctx, exec.ID, e.cfg.PollInterval)
}

func (e *Engine) pollTranscription(ctx context.Context, exec *model.WorkflowExecution) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	res, err := e.jobs.GetJobStatus(callCtx, exec.Payload.JobID)
	cancel()

	if err != nil {
		var permErr *client.PermanentPollError
		if errors.As(err, &permErr) {
			return e.fail(ctx, exec, model.StateTranscriptionFailed, permErr.Error())
		}

		// Transient errors re-loop with a bound on consecutive failures
		failures := exec.Payload.PollFailures + 1
		if failures >= e.cfg.MaxPollFailures {
			return e.fail(ctx, exec, model.StateTranscriptionFailed,
				fmt.Sprintf("polling failed %d consecutive times, last error: %v", failures, err))
		}
		msg := err.Error()
		if terr := e.transition(ctx, exec, model.StateAwaitTranscription, model.OutcomePollError, &msg, func(cur *model.WorkflowExecution) {
			cur.Payload.PollFailures++
		}); terr != nil {
			return terr
		}
		return e.scheduler.ScheduleStep(ctx, exec.ID, e.cfg.PollInterval)
	}

	switch res.Status {
	case model.JobStatusCompleted:
		if res.OutputLocation == nil {
			return e.fail(ctx, exec, model.StateTranscriptionFailed, "job completed without an output location")
		}
		if err := e.transition(ctx, exec, model.StateCleanTranscript, model.OutcomeAdvanced, nil, func(cur *model.WorkflowExecution) {
			cur.Payload.PollCount++
			cur.Payload.PollFailures = 0
			loc := *res.OutputLocation
			cur.Payload.TranscriptLocation = &loc
		}); err != nil {
			return err
		}
		return e.scheduler.ScheduleStep(ctx, exec.ID, 0)

	case model.JobStatusFailed:
		msg := res.FailureReason
		if msg == "" {
			msg = "transcription job failed"
		}
		return e.transition(ctx, exec, model.StateTranscriptionFailed, model.OutcomeFailed, &msg, func(cur *model.WorkflowExecution) {
			cur.Payload.PollCount++
			cur.Payload.PollFailures = 0
		})

	default:
		// SUBMITTED or RUNNING (including unrecognized provider states): wait
		// another interval. Output availability is ignored until COMPLETED.
		if err := e.transition(ctx, exec, model.StateAwaitTranscription, model.OutcomePolling, nil, func(cur *model.WorkflowExecution) {
			cur.Payload.PollCount++
			cur.Payload.PollFailures = 0
		}); err != nil {
			return err
		}
		return e.scheduler.ScheduleStep(ctx, exec.ID, e.cfg.PollInterval)
	}
}

func (e *Engine) runStage(ctx context.Context, exec *model.WorkflowExecution, h StageHandler, next, failState model.WorkflowState) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	out, err := h.Run(callCtx, &exec.Payload)
	cancel()

	if err != nil {
		return e.fail(ctx, exec, failState, fmt.Sprintf("%s stage: %v", h.Name(), err))
	}

	outcome := model.OutcomeAdvanced
	if next == model.StateSucceeded {
		outcome = model.OutcomeSucceeded
	}

	if err := e.transition(ctx, exec, next, outcome, nil, func(cur *model.WorkflowExecution) {
		cur.Payload = *out
	}); err != nil {
		return err
	}

	if next == model.StateSucceeded {
		log.Printf("Execution %s succeeded, output s3 key %s", exec.ID, exec.Payload.OutputKey)
		return nil
	}
	return e.scheduler.ScheduleStep(ctx, exec.ID, 0)
}

// transition applies one compare-and-set state change with a history append.
// The caller's exec is refreshed with the stored result.
func (e *Engine) transition(ctx context.Context, exec *model.WorkflowExecution, to model.WorkflowState, outcome string, errMsg *string, mutate func(*model.WorkflowExecution)) error {
	from := exec.CurrentState

	err := e.store.Transition(ctx, exec.ID, from, func(cur *model.WorkflowExecution) error {
		if mutate != nil {
			mutate(cur)
		}
		cur.CurrentState = to
		if to == model.StateSucceeded {
			cur.Status = model.ExecutionSucceeded
			now := time.Now()
			cur.CompletedAt = &now
		} else if to.Terminal() {
			cur.Status = model.ExecutionFailed
			cur.Error = errMsg
			now := time.Now()
			cur.CompletedAt = &now
		}

		snapshot, err := json.Marshal(cur.Payload)
		if err != nil {
			return fmt.Errorf("failed to snapshot payload: %w", err)
		}
		cur.History = append(cur.History, model.HistoryEntry{
			State:     to,
			Timestamp: time.Now(),
			Payload:   snapshot,
			Outcome:   outcome,
			Error:     errMsg,
		})

		*exec = *cur
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Execution %s: %s -> %s (%s)", exec.ID, from, to, outcome)

	if e.notifier != nil {
		detail := ""
		if errMsg != nil {
			detail = *errMsg
		}
		e.notifier.NotifyTransition(exec.ID, exec.CurrentState, exec.Status, detail)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, exec *model.WorkflowExecution, failState model.WorkflowState, message string) error {
	outcome := model.OutcomeFailed
	if failState == model.StateTimedOut {
		outcome = model.OutcomeTimedOut
	}
	return e.transition(ctx, exec, failState, outcome, &message, nil)
}

// sourceURI builds the engine-side input URI, normalizing spaces and escaping
// each path segment the way the engine expects
func sourceURI(ref model.ObjectRef) string {
	key := strings.ReplaceAll(ref.Key, " ", "_")
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("s3://%s/%s", ref.Bucket, strings.Join(parts, "/"))
}
