package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/podbrief/api/internal/model"
)

// ObjectFetcher is the slice of the storage client the clean stage needs
type ObjectFetcher interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// CleanHandler turns a raw transcription engine document into a single text
// blob plus a metadata record
type CleanHandler struct {
	store ObjectFetcher
}

func NewCleanHandler(store ObjectFetcher) *CleanHandler {
	return &CleanHandler{store: store}
}

func (h *CleanHandler) Name() string { return "clean" }

// Run fetches the raw transcript referenced by the payload and produces the
// cleaned transcript text and metadata
func (h *CleanHandler) Run(ctx context.Context, p *model.StagePayload) (*model.StagePayload, error) {
	if p.TranscriptLocation == nil {
		return nil, &MalformedTranscriptError{Reason: "payload carries no transcript location"}
	}

	data, err := h.store.Download(ctx, p.TranscriptLocation.Bucket, p.TranscriptLocation.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raw transcript: %w", err)
	}

	text, err := ExtractTranscript(data)
	if err != nil {
		return nil, err
	}

	out := *p
	out.Transcript = text
	out.Metadata = &model.TranscriptMetadata{
		OriginalFileName:    p.OriginalFileName,
		ProcessingTimestamp: time.Now().Format(time.RFC3339),
		TranscriptLength:    len(text),
		TranscriptSource:    p.TranscriptLocation.URI(),
	}

	log.Printf("Cleaned transcript for %s (%d chars)", p.Source.Key, len(text))
	return &out, nil
}

// TranscriptSegment is one timed span of transcribed speech
type TranscriptSegment struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Speaker   string  `json:"speaker,omitempty"`
	Text      string  `json:"text"`
}

// transcriptDocument mirrors the engine's standard output layout, with the
// flat fallback keys some engine versions emit instead
type transcriptDocument struct {
	StandardOutput *struct {
		Audio *struct {
			Extraction *struct {
				Text *struct {
					Segments []TranscriptSegment `json:"segments"`
					Content  string              `json:"content"`
				} `json:"text"`
			} `json:"extraction"`
		} `json:"audio"`
	} `json:"standardOutput"`
	Segments   []TranscriptSegment `json:"segments"`
	Text       string              `json:"text"`
	Transcript string              `json:"transcript"`
	Content    string              `json:"content"`
}

// ExtractTranscript concatenates per-segment text into one blob, tagging
// speaker labels when present. A document with no segments and no full-text
// field is a MalformedTranscriptError.
func ExtractTranscript(data []byte) (string, error) {
	var doc transcriptDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &MalformedTranscriptError{Reason: fmt.Sprintf("not a transcript document: %v", err)}
	}

	segments := doc.Segments
	content := firstNonEmpty(doc.Text, doc.Transcript, doc.Content)

	if so := doc.StandardOutput; so != nil && so.Audio != nil && so.Audio.Extraction != nil && so.Audio.Extraction.Text != nil {
		t := so.Audio.Extraction.Text
		if len(t.Segments) > 0 {
			segments = t.Segments
		} else if t.Content != "" {
			content = t.Content
		}
	}

	if len(segments) > 0 {
		var b strings.Builder
		for _, seg := range segments {
			b.WriteString(renderSegment(seg))
			b.WriteString("\n\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	if strings.TrimSpace(content) != "" {
		return content, nil
	}

	return "", &MalformedTranscriptError{Reason: "no recognizable segment structure"}
}

func renderSegment(seg TranscriptSegment) string {
	text := seg.Text
	if seg.Speaker != "" {
		text = fmt.Sprintf("Speaker %s: %s", seg.Speaker, text)
	}
	minutes := int(seg.StartTime) / 60
	seconds := int(seg.StartTime) % 60
	return fmt.Sprintf("[%02d:%02d] %s", minutes, seconds, text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
