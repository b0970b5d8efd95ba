package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/podbrief/api/internal/model"
	"github.com/podbrief/api/internal/store"
)

type memStore struct {
	execs  map[string]*model.WorkflowExecution
	claims map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		execs:  make(map[string]*model.WorkflowExecution),
		claims: make(map[string]string),
	}
}

func (s *memStore) Create(_ context.Context, exec *model.WorkflowExecution) error {
	data, _ := json.Marshal(exec)
	var cp model.WorkflowExecution
	_ = json.Unmarshal(data, &cp)
	s.execs[exec.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*model.WorkflowExecution, error) {
	exec, ok := s.execs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return exec, nil
}

func (s *memStore) Transition(_ context.Context, id string, from model.WorkflowState, apply func(*model.WorkflowExecution) error) error {
	exec, ok := s.execs[id]
	if !ok {
		return store.ErrNotFound
	}
	if exec.CurrentState != from {
		return store.ErrStateConflict
	}
	return apply(exec)
}

func (s *memStore) ClaimInput(_ context.Context, input model.ObjectRef, executionID string) (string, bool, error) {
	if winner, ok := s.claims[input.IdempotencyKey()]; ok {
		return winner, false, nil
	}
	s.claims[input.IdempotencyKey()] = executionID
	return executionID, true, nil
}

func (s *memStore) ReclaimInput(_ context.Context, input model.ObjectRef, executionID string) error {
	s.claims[input.IdempotencyKey()] = executionID
	return nil
}

type recordingScheduler struct {
	calls []time.Duration
	err   error
}

func (s *recordingScheduler) ScheduleStep(_ context.Context, executionID string, delay time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, delay)
	return nil
}

func newTestService() (*WorkflowService, *memStore, *recordingScheduler) {
	st := newMemStore()
	sched := &recordingScheduler{}
	svc := NewWorkflowService(st, sched, 30*time.Minute, "summaries-bucket")
	return svc, st, sched
}

func TestStartWorkflow(t *testing.T) {
	svc, st, sched := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/Episode 5.mp3"}

	resp, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if resp.Deduplicated {
		t.Error("first start should not be deduplicated")
	}
	if resp.Status != model.ExecutionRunning || resp.State != model.StateSubmitTranscription {
		t.Errorf("unexpected initial status/state: %s/%s", resp.Status, resp.State)
	}

	exec, err := st.Get(context.Background(), resp.ExecutionID)
	if err != nil {
		t.Fatalf("execution not persisted: %v", err)
	}
	if exec.Payload.OriginalFileName != "Episode 5.mp3" {
		t.Errorf("unexpected original file name: %q", exec.Payload.OriginalFileName)
	}
	if exec.Deadline.Before(time.Now().Add(29 * time.Minute)) {
		t.Errorf("deadline not applied: %v", exec.Deadline)
	}

	if len(sched.calls) != 1 || sched.calls[0] != 0 {
		t.Errorf("expected one immediate step, got %v", sched.calls)
	}
}

func TestStartWorkflowDeduplicates(t *testing.T) {
	svc, _, sched := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/ep5.mp3"}

	first, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	second, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("duplicate start failed: %v", err)
	}

	if !second.Deduplicated {
		t.Error("second start should be deduplicated")
	}
	if second.ExecutionID != first.ExecutionID {
		t.Errorf("expected original execution id %s, got %s", first.ExecutionID, second.ExecutionID)
	}
	if len(sched.calls) != 1 {
		t.Errorf("duplicate start must not schedule a step, got %d", len(sched.calls))
	}
}

func TestStartWorkflowVersionIsDistinct(t *testing.T) {
	svc, _, _ := newTestService()

	first, err := svc.Start(context.Background(), model.ObjectRef{Bucket: "b", Key: "k", Version: "v1"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	second, err := svc.Start(context.Background(), model.ObjectRef{Bucket: "b", Key: "k", Version: "v2"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if second.Deduplicated || second.ExecutionID == first.ExecutionID {
		t.Error("a new object version is a new input")
	}
}

func TestStartWorkflowReprocessesFailedInput(t *testing.T) {
	svc, st, _ := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/ep5.mp3"}

	first, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	st.execs[first.ExecutionID].Status = model.ExecutionFailed
	st.execs[first.ExecutionID].CurrentState = model.StateTranscriptionFailed

	second, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	if second.Deduplicated {
		t.Error("a failed input should be reprocessable")
	}
	if second.ExecutionID == first.ExecutionID {
		t.Error("reprocessing should create a fresh execution")
	}
}

func TestStartWorkflowReclaimsExpiredClaim(t *testing.T) {
	svc, st, _ := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/ep5.mp3"}

	// Claim held by an execution record that no longer exists
	st.claims[input.IdempotencyKey()] = "expired-exec"

	resp, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if resp.Deduplicated {
		t.Error("an orphaned claim should be taken over")
	}
}

func TestGetStatusNotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.GetStatus(context.Background(), "missing")
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestGetResult(t *testing.T) {
	svc, st, _ := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/ep5.mp3"}

	resp, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, err = svc.GetResult(context.Background(), resp.ExecutionID)
	if !errors.Is(err, ErrResultNotReady) {
		t.Errorf("expected ErrResultNotReady while running, got %v", err)
	}

	exec := st.execs[resp.ExecutionID]
	exec.Status = model.ExecutionSucceeded
	exec.CurrentState = model.StateSucceeded
	exec.Payload.OutputKey = "summaries/Episode_5.md"
	exec.Payload.EpisodeName = "Episode 5"

	result, err := svc.GetResult(context.Background(), resp.ExecutionID)
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if result.OutputBucket != "summaries-bucket" || result.OutputKey != "summaries/Episode_5.md" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGetHistory(t *testing.T) {
	svc, st, _ := newTestService()
	input := model.ObjectRef{Bucket: "uploads", Key: "uploads/ep5.mp3"}

	resp, err := svc.Start(context.Background(), input)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	st.execs[resp.ExecutionID].History = []model.HistoryEntry{
		{State: model.StateAwaitTranscription, Timestamp: time.Now(), Outcome: model.OutcomeAdvanced},
	}

	history, err := svc.GetHistory(context.Background(), resp.ExecutionID)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(history.History) != 1 || history.History[0].State != model.StateAwaitTranscription {
		t.Errorf("unexpected history: %+v", history)
	}
}
