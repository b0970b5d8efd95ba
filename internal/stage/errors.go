package stage

import "fmt"

// MalformedTranscriptError means the raw transcript document had no
// recognizable segment structure. Absence of segments is a hard error, never
// an empty-string success.
type MalformedTranscriptError struct {
	Reason string
}

func (e *MalformedTranscriptError) Error() string {
	return fmt.Sprintf("malformed transcript: %s", e.Reason)
}

// GenerationError means the model produced empty or malformed output
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("summary generation failed: %s", e.Reason)
}

// FormatError means the summary body could not be extracted from the model
// output. Metadata extraction is best-effort, the body is not.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("formatting failed: %s", e.Reason)
}
