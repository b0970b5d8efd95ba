package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/podbrief/api/internal/config"
	"github.com/podbrief/api/internal/model"
)

func newTestClient(url string) *ScribeClient {
	return NewScribeClient(&config.ScribeConfig{
		BaseURL: url,
		APIKey:  "test-key",
		Profile: "podcast-audio-v1",
	})
}

func TestSubmitJob(t *testing.T) {
	var received SubmitJobRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SubmitJobResponse{JobID: "job-123", Status: "SUBMITTED"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	resp, err := c.SubmitJob(context.Background(), &SubmitJobRequest{
		InputURI:    "s3://uploads/uploads/ep5.mp3",
		OutputURI:   "s3://transcripts/transcripts/",
		ClientToken: "token-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.JobID != "job-123" {
		t.Errorf("unexpected job id: %q", resp.JobID)
	}
	if received.Profile != "podcast-audio-v1" {
		t.Errorf("default profile not applied: %q", received.Profile)
	}
	if received.ClientToken != "token-1" {
		t.Errorf("client token not forwarded: %q", received.ClientToken)
	}
}

func TestSubmitJobRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported media format", http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.SubmitJob(context.Background(), &SubmitJobRequest{InputURI: "s3://uploads/x.bin"})

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestSubmitJobServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.SubmitJob(context.Background(), &SubmitJobRequest{InputURI: "s3://uploads/x.mp3"})
	if err == nil {
		t.Fatal("expected error")
	}
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		t.Error("a 5xx should not be a permanent submission error")
	}
}

func TestSubmitJobMissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SubmitJobResponse{Status: "SUBMITTED"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.SubmitJob(context.Background(), &SubmitJobRequest{InputURI: "s3://uploads/x.mp3"})

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestGetJobStatusCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions/job-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(jobStatusResponse{
			JobID:     "job-123",
			Status:    "COMPLETED",
			OutputURI: "s3://transcripts/transcripts/job-123/result.json",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	result, err := c.GetJobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != model.JobStatusCompleted {
		t.Errorf("unexpected status: %q", result.Status)
	}
	if result.OutputLocation == nil {
		t.Fatal("expected output location")
	}
	if result.OutputLocation.Bucket != "transcripts" || result.OutputLocation.Key != "transcripts/job-123/result.json" {
		t.Errorf("unexpected output location: %+v", result.OutputLocation)
	}
}

func TestGetJobStatusUnknownJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetJobStatus(context.Background(), "gone")

	var permErr *PermanentPollError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermanentPollError, got %v", err)
	}
}

func TestGetJobStatusServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetJobStatus(context.Background(), "job-123")

	var transient *TransientPollError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientPollError, got %v", err)
	}
}

func TestGetJobStatusNetworkError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.GetJobStatus(context.Background(), "job-123")

	var transient *TransientPollError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientPollError, got %v", err)
	}
}

func TestGetJobStatusIgnoresOutputWhileRunning(t *testing.T) {
	// Status is authoritative; a premature output location is ignored.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jobStatusResponse{
			JobID:     "job-123",
			Status:    "IN_PROGRESS",
			OutputURI: "s3://transcripts/partial.json",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	result, err := c.GetJobStatus(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != model.JobStatusRunning {
		t.Errorf("unexpected status: %q", result.Status)
	}
	if result.OutputLocation != nil {
		t.Error("output location should be ignored for a running job")
	}
}

func TestNormalizeJobStatus(t *testing.T) {
	cases := []struct {
		in   string
		want model.JobStatus
	}{
		{"SUBMITTED", model.JobStatusSubmitted},
		{"queued", model.JobStatusSubmitted},
		{"IN_PROGRESS", model.JobStatusRunning},
		{"COMPLETED", model.JobStatusCompleted},
		{"SUCCESS", model.JobStatusCompleted},
		{"FAILED", model.JobStatusFailed},
		{"SERVICE_ERROR", model.JobStatusFailed},
		{"SOME_FUTURE_STATE", model.JobStatusRunning},
		{"", model.JobStatusRunning},
	}

	for _, tc := range cases {
		if got := NormalizeJobStatus(tc.in); got != tc.want {
			t.Errorf("NormalizeJobStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveTranscriptKey(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		jobID string
		want  string
	}{
		{
			name:  "direct result key untouched",
			key:   "transcripts/abc/standard_output/result.json",
			jobID: "abc",
			want:  "transcripts/abc/standard_output/result.json",
		},
		{
			name:  "metadata key with embedded uuid",
			key:   "transcripts/0f8fad5b-d9cb-469f-a165-70867728950e/job_metadata.json",
			jobID: "other",
			want:  "transcripts/0f8fad5b-d9cb-469f-a165-70867728950e/standard_output/result.json",
		},
		{
			name:  "metadata key falls back to job id",
			key:   "output/job_metadata.json",
			jobID: "arn/jobs/abc123",
			want:  "transcripts/abc123/standard_output/result.json",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveTranscriptKey(tc.key, tc.jobID); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
