package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/podbrief/api/internal/config"
	"github.com/podbrief/api/internal/model"
)

// TranscriptionEngine defines the interface for the external transcription
// service: submit a job, then poll it by id until it reaches a terminal state.
type TranscriptionEngine interface {
	SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*JobStatusResult, error)
}

// SubmissionError means the engine rejected the submission (bad input format,
// quota, auth). Not retryable.
type SubmissionError struct {
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transcription submission rejected: %s", e.Message)
}

// TransientPollError wraps a network or service error during polling.
// Retryable with a bound.
type TransientPollError struct {
	Err error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("transient poll error: %v", e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }

// PermanentPollError means the job id is unknown to the engine. Not retryable.
type PermanentPollError struct {
	JobID   string
	Message string
}

func (e *PermanentPollError) Error() string {
	return fmt.Sprintf("permanent poll error for job %s: %s", e.JobID, e.Message)
}

// SubmitJobRequest represents a transcription job submission
type SubmitJobRequest struct {
	InputURI    string `json:"input_uri"`
	OutputURI   string `json:"output_uri"`
	Profile     string `json:"profile,omitempty"`
	ClientToken string `json:"client_token"`
}

// SubmitJobResponse represents the engine's acknowledgement of a submission
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatusResult is the normalized status of a transcription job
type JobStatusResult struct {
	JobID          string
	Status         model.JobStatus
	OutputLocation *model.ObjectRef
	FailureReason  string
}

// ScribeClient implements TranscriptionEngine over the Scribe HTTP API
type ScribeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	profile    string
}

// NewScribeClient creates a new transcription engine client
func NewScribeClient(cfg *config.ScribeConfig) *ScribeClient {
	return &ScribeClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		profile: cfg.Profile,
	}
}

// jobStatusResponse is the provider's wire format for a status check
type jobStatusResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	OutputURI     string `json:"output_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// SubmitJob submits a transcription job. Any HTTP-level error is returned as
// is (retryable upstream); a 4xx rejection becomes a SubmissionError.
func (c *ScribeClient) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	if req.Profile == "" {
		req.Profile = c.profile
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Scribe API] → POST /v1/transcriptions input=%s", req.InputURI)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Scribe API] ← %d POST /v1/transcriptions", resp.StatusCode)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &SubmissionError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scribe API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result SubmitJobResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.JobID == "" {
		return nil, &SubmissionError{Message: "engine returned no job id"}
	}

	return &result, nil
}

// GetJobStatus polls a job and normalizes the provider status into the
// canonical set. Unknown provider states map to RUNNING so a new engine-side
// state never fails a workflow.
func (c *ScribeClient) GetJobStatus(ctx context.Context, jobID string) (*JobStatusResult, error) {
	endpoint := fmt.Sprintf("%s/v1/transcriptions/%s", c.baseURL, jobID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientPollError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientPollError{Err: err}
	}

	log.Printf("[Scribe API] ← %d GET /v1/transcriptions/%s", resp.StatusCode, jobID)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &PermanentPollError{JobID: jobID, Message: "unknown job id"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &TransientPollError{Err: fmt.Errorf("scribe API error (status %d): %s", resp.StatusCode, string(respBody))}
	}

	var raw jobStatusResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &TransientPollError{Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	result := &JobStatusResult{
		JobID:         jobID,
		Status:        NormalizeJobStatus(raw.Status),
		FailureReason: raw.FailureReason,
	}

	// Output availability is only trusted once status is COMPLETED. The
	// status field is authoritative when the two signals disagree.
	if result.Status == model.JobStatusCompleted && raw.OutputURI != "" {
		loc, err := parseObjectURI(raw.OutputURI)
		if err != nil {
			return nil, &TransientPollError{Err: err}
		}
		loc.Key = resolveTranscriptKey(loc.Key, jobID)
		result.OutputLocation = &loc
	}

	return result, nil
}

// NormalizeJobStatus maps provider-specific job states onto the canonical
// set. Unrecognized states default to RUNNING rather than erroring.
func NormalizeJobStatus(providerStatus string) model.JobStatus {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "SUBMITTED", "QUEUED", "CREATED", "PENDING":
		return model.JobStatusSubmitted
	case "COMPLETED", "SUCCESS", "SUCCEEDED":
		return model.JobStatusCompleted
	case "FAILED", "ERROR", "CLIENT_ERROR", "SERVICE_ERROR":
		return model.JobStatusFailed
	case "RUNNING", "IN_PROGRESS", "IN PROGRESS":
		return model.JobStatusRunning
	default:
		return model.JobStatusRunning
	}
}

var (
	objectURIPattern = regexp.MustCompile(`^s3://([^/]+)/(.+)$`)
	jobUUIDPattern   = regexp.MustCompile(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)
)

func parseObjectURI(uri string) (model.ObjectRef, error) {
	m := objectURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return model.ObjectRef{}, fmt.Errorf("malformed object URI %q", uri)
	}
	return model.ObjectRef{Bucket: m[1], Key: m[2]}, nil
}

// resolveTranscriptKey maps an engine job-metadata key onto the standard
// output document for the job. Some engine versions report the metadata file
// instead of the transcript itself.
func resolveTranscriptKey(key, jobID string) string {
	if !strings.HasSuffix(key, "job_metadata.json") {
		return key
	}
	id := jobID
	if m := jobUUIDPattern.FindString(key); m != "" {
		id = m
	} else if i := strings.LastIndex(jobID, "/"); i >= 0 {
		id = jobID[i+1:]
	}
	return fmt.Sprintf("transcripts/%s/standard_output/result.json", id)
}
