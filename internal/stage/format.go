package stage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/podbrief/api/internal/model"
)

// ObjectWriter is the slice of the storage client the format stage needs
type ObjectWriter interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}

// FormatHandler parses the raw model output, re-renders it as the fixed
// markdown template and stores the document under a deterministic key
type FormatHandler struct {
	store        ObjectWriter
	outputBucket string
	keyPrefix    string
}

func NewFormatHandler(store ObjectWriter, outputBucket, keyPrefix string) *FormatHandler {
	return &FormatHandler{
		store:        store,
		outputBucket: outputBucket,
		keyPrefix:    keyPrefix,
	}
}

func (h *FormatHandler) Name() string { return "format" }

// Run renders and stores the final document. Title and film extraction are
// best-effort with fallbacks; a missing summary body fails the stage.
func (h *FormatHandler) Run(ctx context.Context, p *model.StagePayload) (*model.StagePayload, error) {
	if strings.TrimSpace(p.Summary) == "" {
		return nil, &FormatError{Reason: "payload carries no model output"}
	}

	doc, err := ParseSummary(p.Summary)
	if err != nil {
		return nil, err
	}

	markdown := RenderMarkdown(doc)

	head := p.Summary
	if len(head) > 500 {
		head = head[:500]
	}
	episodeNumber := ExtractEpisodeNumber(doc.Title, head, p.OriginalFileName)

	outputKey := h.keyPrefix + Slugify(doc.Title) + ".md"

	if err := h.store.Upload(ctx, h.outputBucket, outputKey, strings.NewReader(markdown), "text/markdown"); err != nil {
		return nil, fmt.Errorf("failed to store summary document: %w", err)
	}

	log.Printf("Stored summary document s3://%s/%s", h.outputBucket, outputKey)

	out := *p
	out.OutputKey = outputKey
	out.EpisodeName = doc.Title
	out.EpisodeNumber = episodeNumber
	return &out, nil
}

// RenderMarkdown produces the fixed output template
func RenderMarkdown(doc *SummaryDocument) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "## Featured Film\n\n%s\n\n", doc.Subject)
	fmt.Fprintf(&b, "## Episode Summary\n\n%s\n\n", doc.Summary)

	if doc.CheatSheet != "" {
		fmt.Fprintf(&b, "## Parenting Cheat Sheet\n\n%s\n\n", doc.CheatSheet)
	}

	if len(doc.SearchTerms) > 0 {
		b.WriteString("## Search Terms\n\n")
		for _, term := range doc.SearchTerms {
			fmt.Fprintf(&b, "- %s\n", term)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
