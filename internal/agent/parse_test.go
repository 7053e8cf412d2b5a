package agent

import (
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced with language tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.in); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnmarshalModelJSON(t *testing.T) {
	t.Run("fenced object", func(t *testing.T) {
		var v struct {
			Name string `json:"name"`
		}
		if err := unmarshalModelJSON("```json\n{\"name\":\"gst\"}\n```", &v); err != nil {
			t.Fatalf("unmarshalModelJSON: %v", err)
		}
		if v.Name != "gst" {
			t.Errorf("name = %q, want gst", v.Name)
		}
	})

	t.Run("invalid JSON includes raw snippet", func(t *testing.T) {
		var v map[string]any
		err := unmarshalModelJSON("not json at all", &v)
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
		if !strings.Contains(err.Error(), "not json at all") {
			t.Errorf("error %q does not include the raw text", err)
		}
	})

	t.Run("oversized response rejected", func(t *testing.T) {
		var v map[string]any
		err := unmarshalModelJSON(strings.Repeat("x", MaxModelResponseSize+1), &v)
		if err == nil || !strings.Contains(err.Error(), "too large") {
			t.Errorf("expected size error, got %v", err)
		}
	})
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short, 10) = %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate = %q, want abcd...", got)
	}
}

func TestRegulationIDs(t *testing.T) {
	docs := []*ai.Document{
		{Metadata: map[string]any{"regulation_id": "reg_a"}},
		{Metadata: map[string]any{"regulation_id": "reg_a"}},
		{Metadata: map[string]any{"regulation_id": "reg_b"}},
		{Metadata: map[string]any{}},
		{Metadata: map[string]any{"regulation_id": ""}},
	}

	ids := regulationIDs(docs)
	if len(ids) != 2 || ids[0] != "reg_a" || ids[1] != "reg_b" {
		t.Errorf("regulationIDs = %v, want [reg_a reg_b]", ids)
	}
}
