package stage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/podbrief/api/internal/model"
)

type fakeWriter struct {
	bucket      string
	key         string
	contentType string
	body        string
	err         error
}

func (f *fakeWriter) Upload(_ context.Context, bucket, key string, body io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.bucket = bucket
	f.key = key
	f.contentType = contentType
	f.body = string(data)
	return nil
}

func TestFormatHandlerRun(t *testing.T) {
	writer := &fakeWriter{}
	h := NewFormatHandler(writer, "summaries-bucket", "summaries/")

	p := &model.StagePayload{
		OriginalFileName: "ep5.mp3",
		Summary:          wellFormedSummary,
	}

	out, err := h.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if writer.bucket != "summaries-bucket" {
		t.Errorf("unexpected bucket: %q", writer.bucket)
	}
	if writer.key != "summaries/Episode_5__Raising_Kids.md" {
		t.Errorf("unexpected key: %q", writer.key)
	}
	if writer.contentType != "text/markdown" {
		t.Errorf("unexpected content type: %q", writer.contentType)
	}

	if !strings.HasPrefix(writer.body, "# Episode 5: Raising Kids\n") {
		t.Errorf("unexpected document head: %q", writer.body)
	}
	for _, heading := range []string{"## Featured Film", "## Episode Summary", "## Parenting Cheat Sheet", "## Search Terms"} {
		if !strings.Contains(writer.body, heading) {
			t.Errorf("document missing %q", heading)
		}
	}
	if !strings.Contains(writer.body, "- childhood anxiety\n") {
		t.Errorf("search terms not rendered as bullets: %q", writer.body)
	}

	if out.OutputKey != writer.key {
		t.Errorf("payload output key %q does not match stored key %q", out.OutputKey, writer.key)
	}
	if out.EpisodeName != "Episode 5: Raising Kids" {
		t.Errorf("unexpected episode name: %q", out.EpisodeName)
	}
	if out.EpisodeNumber != "005" {
		t.Errorf("unexpected episode number: %q", out.EpisodeNumber)
	}
}

func TestFormatHandlerDeterministicKey(t *testing.T) {
	writer := &fakeWriter{}
	h := NewFormatHandler(writer, "summaries-bucket", "summaries/")

	p := &model.StagePayload{Summary: wellFormedSummary}

	first, err := h.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := h.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.OutputKey != second.OutputKey {
		t.Errorf("reprocessing produced a different key: %q vs %q", first.OutputKey, second.OutputKey)
	}
}

func TestFormatHandlerOptionalSections(t *testing.T) {
	// No cheat sheet or search terms; the document omits those headings.
	input := `## Episode Title

Quiet Episode

## Featured Film

Up

## Episode Summary

In this episode Billy and Nick discuss grief, in the context of Up.
`

	writer := &fakeWriter{}
	h := NewFormatHandler(writer, "summaries-bucket", "summaries/")

	_, err := h.Run(context.Background(), &model.StagePayload{Summary: input})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(writer.body, "## Parenting Cheat Sheet") {
		t.Error("empty cheat sheet should be omitted")
	}
	if strings.Contains(writer.body, "## Search Terms") {
		t.Error("empty search terms should be omitted")
	}
}

func TestFormatHandlerMissingSummaryBody(t *testing.T) {
	writer := &fakeWriter{}
	h := NewFormatHandler(writer, "summaries-bucket", "summaries/")

	_, err := h.Run(context.Background(), &model.StagePayload{
		Summary: "## Episode Title\n\nA Title\n",
	})
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Errorf("expected FormatError, got %v", err)
	}
	if writer.key != "" {
		t.Error("nothing should be stored on a failed parse")
	}
}

func TestFormatHandlerStoreFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("access denied")}
	h := NewFormatHandler(writer, "summaries-bucket", "summaries/")

	_, err := h.Run(context.Background(), &model.StagePayload{Summary: wellFormedSummary})
	if err == nil {
		t.Fatal("expected error")
	}
	var formatErr *FormatError
	if errors.As(err, &formatErr) {
		t.Error("store failure should not be a format error")
	}
}
