package stage

import (
	"fmt"
	"regexp"
	"strings"
)

// SummaryDocument holds the five labeled outputs extracted from raw model text
type SummaryDocument struct {
	Title       string
	Subject     string
	Summary     string
	CheatSheet  string
	SearchTerms []string
}

// Prompt wording drifts over time, so section labels are matched leniently:
// label text first, position in the document second. Only the summary body is
// allowed to fail the parse.
var (
	titleLabel   = regexp.MustCompile(`(?i)\b(?:episode\s+)?(?:title|name)\b`)
	subjectLabel = regexp.MustCompile(`(?i)\b(?:featured\s+)?(?:film|movie|subject)\b`)
	summaryLabel = regexp.MustCompile(`(?i)\bsummary\b`)
	cheatLabel   = regexp.MustCompile(`(?i)\bcheat\s*sheet\b|\bactionable?\b|\baction\s+items?\b|\binsights?\b`)
	termsLabel   = regexp.MustCompile(`(?i)\bsearch\s*terms?\b|\bkeywords?\b`)

	headerLine = regexp.MustCompile(`^\s*(?:#{1,6}\s+\S.*|\*\*[^*]+\*\*:?\s*)$`)

	// numberedLabel matches "3) Episode Summary: ..." style headers, where
	// the numbered text is one of the expected labels with at most inline
	// content after a colon. A numbered list item like "1. Name the feeling"
	// does not match and stays in the section body.
	numberedLabel = regexp.MustCompile(`(?i)^\s*\d+[\).:]\s*(?:\*\*)?(?:episode\s+)?(?:title|name|(?:featured\s+)?(?:film|movie|subject)|summary|(?:parenting\s+)?cheat\s*sheet|actionable\s+insights?|action\s+items?|search\s*terms?|keywords?)(?:\*\*)?\s*(?::.*)?$`)

	bulletItem = regexp.MustCompile(`^\s*(?:[-*•]|\d+[\).])\s*(.+)$`)
	hashPrefix = regexp.MustCompile(`^#{1,6}\s*`)
	markup     = regexp.MustCompile(`[*_#]`)
)

func isHeader(line string) bool {
	return headerLine.MatchString(line) || numberedLabel.MatchString(line)
}

type rawSection struct {
	header string
	body   []string
}

// splitSections breaks model output into labeled blocks. A block header is a
// markdown heading, a bold label line, or a numbered label ("3) Episode
// Summary: ...").
func splitSections(text string) []rawSection {
	var sections []rawSection
	current := rawSection{}
	for _, line := range strings.Split(text, "\n") {
		if isHeader(line) {
			if current.header != "" || len(current.body) > 0 {
				sections = append(sections, current)
			}
			current = rawSection{header: strings.TrimSpace(line)}
			continue
		}
		current.body = append(current.body, line)
	}
	if current.header != "" || len(current.body) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func (s rawSection) bodyText() string {
	return strings.TrimSpace(strings.Join(s.body, "\n"))
}

// headerRemainder returns content of the header after a "Label:" prefix,
// e.g. "1) Episode Title: Foo" -> "Foo".
func (s rawSection) headerRemainder() string {
	h := markup.ReplaceAllString(s.header, "")
	if i := strings.Index(h, ":"); i >= 0 {
		return strings.TrimSpace(h[i+1:])
	}
	return ""
}

// headerText returns the header stripped of markup and numbering
func (s rawSection) headerText() string {
	h := hashPrefix.ReplaceAllString(strings.TrimSpace(s.header), "")
	h = regexp.MustCompile(`^\d+[\).:]\s*`).ReplaceAllString(h, "")
	return strings.TrimSpace(strings.Trim(h, "*: "))
}

// sectionContent prefers the body, falling back to inline header content
func (s rawSection) content() string {
	if b := s.bodyText(); b != "" {
		return b
	}
	return s.headerRemainder()
}

// FallbackTitle is used when no episode title can be extracted
const FallbackTitle = "Untitled Episode"

// FallbackSubject is used when no featured film can be extracted
const FallbackSubject = "Unknown Film"

// ParseSummary extracts the five labeled sections from raw model output.
// Resolution order per section: label match, then position, then a default.
// A missing or empty summary body is a hard FormatError.
func ParseSummary(text string) (*SummaryDocument, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &FormatError{Reason: "model output is empty"}
	}

	sections := splitSections(text)
	claimed := make(map[int]bool)

	find := func(label *regexp.Regexp) (rawSection, int, bool) {
		for i, s := range sections {
			if s.header == "" || claimed[i] {
				continue
			}
			if label.MatchString(s.header) {
				claimed[i] = true
				return s, i, true
			}
		}
		return rawSection{}, -1, false
	}

	doc := &SummaryDocument{}

	titleSec, _, titleOK := find(titleLabel)
	subjectSec, _, subjectOK := find(subjectLabel)
	summarySec, _, summaryOK := find(summaryLabel)
	cheatSec, _, cheatOK := find(cheatLabel)
	termsSec, _, termsOK := find(termsLabel)

	// Positional fallback: unclaimed labeled blocks in document order stand in
	// for the expected section sequence.
	positional := func(pos int) (rawSection, bool) {
		idx := 0
		for i, s := range sections {
			if s.header == "" {
				continue
			}
			idx++
			if idx == pos && !claimed[i] {
				claimed[i] = true
				return s, true
			}
		}
		return rawSection{}, false
	}

	if !titleOK {
		titleSec, titleOK = positional(1)
	}
	if !subjectOK {
		subjectSec, subjectOK = positional(2)
	}
	if !summaryOK {
		summarySec, summaryOK = positional(3)
	}
	if !cheatOK {
		cheatSec, cheatOK = positional(4)
	}
	if !termsOK {
		termsSec, termsOK = positional(5)
	}

	if titleOK {
		doc.Title = firstLine(titleSec.content())
	}
	if doc.Title == "" {
		doc.Title = firstHeading(text)
	}
	if doc.Title == "" {
		doc.Title = FallbackTitle
	}

	if subjectOK {
		doc.Subject = firstLine(subjectSec.content())
	}
	if doc.Subject == "" {
		doc.Subject = FallbackSubject
	}

	if summaryOK {
		doc.Summary = summarySec.content()
	}
	if strings.TrimSpace(doc.Summary) == "" {
		return nil, &FormatError{Reason: "summary body not found in model output"}
	}

	if cheatOK {
		doc.CheatSheet = cheatSec.content()
	}
	if termsOK {
		doc.SearchTerms = parseListItems(termsSec.content())
	}

	return doc, nil
}

// HasAllSections reports whether every expected labeled section is present by
// label match. Used to validate model output before accepting it.
func HasAllSections(text string) error {
	sections := splitSections(text)
	labels := []struct {
		name  string
		label *regexp.Regexp
	}{
		{"episode title", titleLabel},
		{"featured film", subjectLabel},
		{"summary", summaryLabel},
		{"cheat sheet", cheatLabel},
		{"search terms", termsLabel},
	}
	for _, l := range labels {
		found := false
		for _, s := range sections {
			if s.header != "" && l.label.MatchString(s.header) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("missing %s section", l.name)
		}
	}
	return nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(markup.ReplaceAllString(line, ""))
		if line != "" {
			return line
		}
	}
	return ""
}

// firstHeading returns the text of the first markdown heading in the document
func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(hashPrefix.ReplaceAllString(trimmed, ""))
		}
	}
	return ""
}

func parseListItems(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		if m := bulletItem.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(markup.ReplaceAllString(m[1], "")))
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" && len(items) == 0 {
			items = append(items, trimmed)
		}
	}
	return items
}

// Slugify replaces every non-alphanumeric character with an underscore,
// preserving case. Deterministic so reprocessing overwrites the same key.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

var episodeNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:episode|ep)\.?\s*#?(\d+)`),
	regexp.MustCompile(`#(\d+)`),
	regexp.MustCompile(`^(\d+)\s*[-:]`),
	regexp.MustCompile(`(?i)\bpart\s+(\d+)\b`),
}

var digitRun = regexp.MustCompile(`(\d+)`)

// ExtractEpisodeNumber finds an episode number in the title, the head of the
// summary or the source file name, zero-padded to three digits. "000" when
// nothing matches.
func ExtractEpisodeNumber(title, summaryHead, fileName string) string {
	for _, p := range episodeNumberPatterns {
		if m := p.FindStringSubmatch(title); m != nil {
			return padEpisodeNumber(m[1])
		}
		if m := p.FindStringSubmatch(summaryHead); m != nil {
			return padEpisodeNumber(m[1])
		}
	}
	if m := digitRun.FindStringSubmatch(fileName); m != nil {
		return padEpisodeNumber(m[1])
	}
	return "000"
}

func padEpisodeNumber(n string) string {
	for len(n) < 3 {
		n = "0" + n
	}
	return n
}
