package stage

import (
	"context"
	"log"
	"strings"

	"github.com/podbrief/api/internal/model"
)

// LanguageModel is the slice of the LLM client the summarize stage needs
type LanguageModel interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
}

// systemPrompt is the fixed instruction template. The model is asked for five
// labeled markdown sections so the formatter can extract them.
const systemPrompt = `The following is a transcript of an audio podcast. The podcast is called Pop Culture Parenting, it is hosted by a Pediatrician (Dr Billy Garvey), and his friend (Nick) who is a parent to young children, but not formally qualified in this domain. Each episode they discuss a topic related to parenting in the context of a film. It has a preamble covering general topics and then provides specific, actionable parenting advice on a given topic.

Produce a markdown document with exactly these five sections, each under its own heading:

1) Episode Title — the name of the episode.
2) Featured Film — the film featured in the episode.
3) Episode Summary — a short summary beginning with "In this episode Billy and Nick discuss <topic>, in the context of <film>".
4) Parenting Cheat Sheet — a single page, easy to consume list that summarises the advice in the podcast into actionable insights, consumable at a glance.
5) Search Terms — 5 search terms that can be used to find the episode, specific to the topic of the episode rather than generic to the podcast.`

const truncationMarker = "\n\n[Transcript truncated due to length]"

// SummarizeHandler invokes the language model once over the cleaned transcript
type SummarizeHandler struct {
	llm      LanguageModel
	maxChars int
}

func NewSummarizeHandler(llm LanguageModel, maxChars int) *SummarizeHandler {
	return &SummarizeHandler{llm: llm, maxChars: maxChars}
}

func (h *SummarizeHandler) Name() string { return "summarize" }

// Run generates the summary. Model output missing any of the five expected
// labeled sections is a GenerationError, never a partial success.
func (h *SummarizeHandler) Run(ctx context.Context, p *model.StagePayload) (*model.StagePayload, error) {
	if strings.TrimSpace(p.Transcript) == "" {
		return nil, &GenerationError{Reason: "payload carries no cleaned transcript"}
	}

	transcript := p.Transcript
	if h.maxChars > 0 && len(transcript) > h.maxChars {
		transcript = transcript[:h.maxChars] + truncationMarker
	}

	user := "Here's the podcast transcript to analyze:\n\n" + transcript

	summary, err := h.llm.ChatCompletion(ctx, systemPrompt, user)
	if err != nil {
		return nil, &GenerationError{Reason: err.Error()}
	}

	if strings.TrimSpace(summary) == "" {
		return nil, &GenerationError{Reason: "model returned empty output"}
	}
	if err := HasAllSections(summary); err != nil {
		return nil, &GenerationError{Reason: err.Error()}
	}

	log.Printf("Generated summary for %s (%d chars)", p.Source.Key, len(summary))

	out := *p
	out.Summary = summary
	return &out, nil
}
