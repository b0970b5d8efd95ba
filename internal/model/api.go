package model

import "time"

// StartWorkflowRequest starts a summarization workflow for a source object
type StartWorkflowRequest struct {
	Bucket  string `json:"bucket" validate:"required"`
	Key     string `json:"key" validate:"required"`
	Version string `json:"version,omitempty"`
}

// StartWorkflowResponse is returned by POST /api/workflows/start
type StartWorkflowResponse struct {
	ExecutionID  string          `json:"executionId"`
	Status       ExecutionStatus `json:"status"`
	State        WorkflowState   `json:"state"`
	Deduplicated bool            `json:"deduplicated"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// WorkflowStatusResponse is returned by GET /api/workflows/status/:executionId
type WorkflowStatusResponse struct {
	ExecutionID  string          `json:"executionId"`
	Status       ExecutionStatus `json:"status"`
	State        WorkflowState   `json:"state"`
	Input        ObjectRef       `json:"input"`
	JobID        string          `json:"jobId,omitempty"`
	PollCount    int             `json:"pollCount,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	HistoryDepth int             `json:"historyDepth"`
}

// WorkflowResultResponse is returned by GET /api/workflows/result/:executionId
// once an execution has succeeded
type WorkflowResultResponse struct {
	ExecutionID   string     `json:"executionId"`
	OutputBucket  string     `json:"outputBucket"`
	OutputKey     string     `json:"outputKey"`
	EpisodeName   string     `json:"episodeName"`
	EpisodeNumber string     `json:"episodeNumber,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// WorkflowHistoryResponse is returned by GET /api/workflows/history/:executionId
type WorkflowHistoryResponse struct {
	ExecutionID string          `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
	History     []HistoryEntry  `json:"history"`
}

// StorageEvent is the S3-style notification delivered to the trigger webhook.
// Delivery is at-least-once; records may be duplicated.
type StorageEvent struct {
	Records []StorageEventRecord `json:"Records"`
}

type StorageEventRecord struct {
	EventName string `json:"eventName,omitempty"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			VersionID string `json:"versionId,omitempty"`
			Size      int64  `json:"size,omitempty"`
		} `json:"object"`
	} `json:"s3"`
}

// StorageEventResponse reports how a notification batch was handled
type StorageEventResponse struct {
	Started int `json:"started"`
	Skipped int `json:"skipped"`
}
