package rag

import (
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
)

func TestAnswerCacheKey(t *testing.T) {
	base := answerCacheKey("What is the GST rate?", "gst", "company")

	if !strings.HasPrefix(base, "rag:answer:") {
		t.Errorf("cache key %q missing prefix", base)
	}
	if got := answerCacheKey("  what   IS the gst RATE?  ", "gst", "company"); got != base {
		t.Errorf("normalization changed the key: %q vs %q", got, base)
	}
	if got := answerCacheKey("What is the GST rate?", "tds", "company"); got == base {
		t.Error("different domain produced the same key")
	}
	if got := answerCacheKey("What is the GST rate?", "gst", "individual"); got == base {
		t.Error("different entity type produced the same key")
	}
}

func TestQueryTerms(t *testing.T) {
	terms := queryTerms("What is the GST rate, and when?")
	want := []string{"what", "the", "gst", "rate", "and", "when"}
	if len(terms) != len(want) {
		t.Fatalf("queryTerms = %v, want %v", terms, want)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, terms[i], want[i])
		}
	}

	if got := queryTerms("a an of"); len(got) != 0 {
		t.Errorf("short terms survived: %v", got)
	}
}

func TestKeywordOverlap(t *testing.T) {
	terms := []string{"gst", "rate", "exemption"}

	if got := keywordOverlap(terms, "The GST rate is 18% with no exemption"); got != 0.5 {
		t.Errorf("full overlap = %v, want 0.5", got)
	}
	if got := keywordOverlap(terms, "unrelated content"); got != 0 {
		t.Errorf("no overlap = %v, want 0", got)
	}
	if got := keywordOverlap(nil, "anything"); got != 0 {
		t.Errorf("empty terms = %v, want 0", got)
	}
	partial := keywordOverlap(terms, "the gst act")
	if partial <= 0 || partial >= 0.5 {
		t.Errorf("partial overlap = %v, want in (0, 0.5)", partial)
	}
}

func TestSourcesFromDocuments(t *testing.T) {
	long := strings.Repeat("x", maxExcerptLen+50)
	docs := []*ai.Document{
		ai.DocumentFromText(long, map[string]any{
			"regulation_id": "REG-1",
			"title":         "GST Act",
			"similarity":    0.91,
		}),
		ai.DocumentFromText("short excerpt", nil),
	}

	sources := SourcesFromDocuments(docs)
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if sources[0].RegulationID != "REG-1" || sources[0].Title != "GST Act" || sources[0].Similarity != 0.91 {
		t.Errorf("source[0] = %+v", sources[0])
	}
	if len([]rune(sources[0].Excerpt)) != maxExcerptLen+3 || !strings.HasSuffix(sources[0].Excerpt, "...") {
		t.Errorf("excerpt not truncated: %d runes", len([]rune(sources[0].Excerpt)))
	}
	if sources[1].Excerpt != "short excerpt" || sources[1].RegulationID != "" {
		t.Errorf("source[1] = %+v", sources[1])
	}
}

func TestCacheEnabled(t *testing.T) {
	if (&Engine{}).CacheEnabled() {
		t.Error("nil cache reported as enabled")
	}
}
