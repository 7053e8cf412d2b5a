package rag

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name       string
		domain     string
		entityType string
		want       string
		wantErr    bool
	}{
		{name: "no filters", want: ""},
		{name: "domain only", domain: "gst", want: "domain = 'gst'"},
		{name: "entity type only", entityType: "partnership", want: "entity_type = 'partnership'"},
		{
			name:       "both",
			domain:     "income-tax",
			entityType: "sole_proprietor",
			want:       "domain = 'income-tax' AND entity_type = 'sole_proprietor'",
		},
		{name: "quote in domain", domain: "gst' OR '1'='1", wantErr: true},
		{name: "uppercase rejected", domain: "GST", wantErr: true},
		{name: "space rejected", entityType: "private limited", wantErr: true},
		{name: "semicolon rejected", domain: "gst;drop", wantErr: true},
		{name: "overlong rejected", domain: strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFilter(tt.domain, tt.entityType)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("buildFilter(%q, %q) = %q, want error", tt.domain, tt.entityType, got)
				}
				if !errors.Is(err, ErrInvalidFilter) {
					t.Errorf("buildFilter(%q, %q) error = %v, want ErrInvalidFilter", tt.domain, tt.entityType, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildFilter(%q, %q) error: %v", tt.domain, tt.entityType, err)
			}
			if got != tt.want {
				t.Errorf("buildFilter(%q, %q) = %q, want %q", tt.domain, tt.entityType, got, tt.want)
			}
		})
	}
}

func TestClampTopK(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero uses default", 0, DefaultTopK},
		{"negative uses default", -3, DefaultTopK},
		{"in range", 7, 7},
		{"above max clamps", 100, MaxTopK},
		{"max passes", MaxTopK, MaxTopK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampTopK(tt.in); got != tt.want {
				t.Errorf("clampTopK(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
