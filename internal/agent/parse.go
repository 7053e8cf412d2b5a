package agent

// parse.go contains helpers for extracting structured data from model output.
// Models wrap JSON in markdown fences more often than not; everything that
// parses model output goes through these helpers.

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// MaxModelResponseSize bounds the model output we are willing to parse (64KB).
// Larger responses indicate a runaway generation, not a valid result.
const MaxModelResponseSize = 64 * 1024

// unmarshalModelJSON strips code fences from model output and unmarshals the
// remainder into v. The raw text is included (truncated) in parse errors to
// make bad generations debuggable.
func unmarshalModelJSON(text string, v any) error {
	if len(text) > MaxModelResponseSize {
		return fmt.Errorf("model response too large: %d bytes (max %d)", len(text), MaxModelResponseSize)
	}
	text = stripCodeFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("parsing model JSON: %w (raw: %q)", err, truncate(text, 200))
	}
	return nil
}

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (with optional language tag).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence.
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// docText concatenates a retrieved document's text parts.
func docText(doc *ai.Document) string {
	var sb strings.Builder
	for _, part := range doc.Content {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// regulationIDs collects the distinct regulation_id metadata values from
// retrieved documents.
func regulationIDs(docs []*ai.Document) []string {
	seen := make(map[string]bool, len(docs))
	var ids []string
	for _, doc := range docs {
		if id, ok := doc.Metadata["regulation_id"].(string); ok && id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
