package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowState identifies a step in the summarization state machine
type WorkflowState string

const (
	StateSubmitTranscription WorkflowState = "SubmitTranscription"
	StateAwaitTranscription  WorkflowState = "AwaitTranscription"
	StateCleanTranscript     WorkflowState = "CleanTranscript"
	StateSummarize           WorkflowState = "Summarize"
	StateFormat              WorkflowState = "Format"
	StateSucceeded           WorkflowState = "Succeeded"
	StateTranscriptionFailed WorkflowState = "TranscriptionFailed"
	StateCleaningFailed      WorkflowState = "CleaningFailed"
	StateSummarizationFailed WorkflowState = "SummarizationFailed"
	StateFormattingFailed    WorkflowState = "FormattingFailed"
	StateTimedOut            WorkflowState = "TimedOut"
)

// Terminal reports whether no further transition can leave this state.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateSucceeded, StateTranscriptionFailed, StateCleaningFailed,
		StateSummarizationFailed, StateFormattingFailed, StateTimedOut:
		return true
	}
	return false
}

// Execution status
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Canonical transcription job status, normalized from provider states
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// ObjectRef identifies an object in blob storage
type ObjectRef struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Version string `json:"version,omitempty"`
}

func (r ObjectRef) URI() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

// IdempotencyKey identifies the triggering input object. Duplicate
// notifications for the same object map to the same key.
func (r ObjectRef) IdempotencyKey() string {
	if r.Version != "" {
		return fmt.Sprintf("%s/%s@%s", r.Bucket, r.Key, r.Version)
	}
	return fmt.Sprintf("%s/%s", r.Bucket, r.Key)
}

// TranscriptMetadata describes a cleaned transcript
type TranscriptMetadata struct {
	OriginalFileName    string `json:"originalFileName"`
	ProcessingTimestamp string `json:"processingTimestamp"`
	TranscriptLength    int    `json:"transcriptLength"`
	TranscriptSource    string `json:"transcriptSource"`
}

// StagePayload is the structured data handed from stage to stage. Field names
// are a fixed contract: each stage reads its predecessor's output fields and
// adds its own.
type StagePayload struct {
	Source             ObjectRef           `json:"source"`
	OriginalFileName   string              `json:"originalFileName,omitempty"`
	ClientToken        string              `json:"clientToken,omitempty"`
	JobID              string              `json:"jobId,omitempty"`
	PollCount          int                 `json:"pollCount,omitempty"`
	PollFailures       int                 `json:"pollFailures,omitempty"`
	TranscriptLocation *ObjectRef          `json:"transcriptLocation,omitempty"`
	Transcript         string              `json:"transcript,omitempty"`
	Metadata           *TranscriptMetadata `json:"metadata,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	OutputKey          string              `json:"outputKey,omitempty"`
	EpisodeName        string              `json:"episodeName,omitempty"`
	EpisodeNumber      string              `json:"episodeNumber,omitempty"`
}

// History entry outcomes
const (
	OutcomeAdvanced  = "advanced"
	OutcomePolling   = "polling"
	OutcomePollError = "poll_error"
	OutcomeFailed    = "failed"
	OutcomeSucceeded = "succeeded"
	OutcomeTimedOut  = "timed_out"
)

// HistoryEntry is one record in the append-only execution log
type HistoryEntry struct {
	State     WorkflowState   `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Outcome   string          `json:"outcome"`
	Error     *string         `json:"error,omitempty"`
}

// WorkflowExecution is the durable record of one workflow instance. It is
// mutated only by the engine, one transition at a time, through the store's
// compare-and-set discipline.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	Input        ObjectRef       `json:"input"`
	CurrentState WorkflowState   `json:"currentState"`
	Status       ExecutionStatus `json:"status"`
	Payload      StagePayload    `json:"payload"`
	History      []HistoryEntry  `json:"history"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`

	// Deadline is the wall-clock bound for the whole execution. Crossing it
	// forces a transition to TimedOut regardless of the current state.
	Deadline time.Time `json:"deadline"`
}
