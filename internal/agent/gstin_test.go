package agent

import "testing"

func TestValidGSTIN(t *testing.T) {
	tests := []struct {
		name  string
		gstin string
		valid bool
	}{
		{"valid", "27AAPFU0939F1ZV", true},
		{"valid other state", "07ABCDE1234F2Z5", true},
		{"empty", "", false},
		{"too short", "27AAPFU0939F1Z", false},
		{"too long", "27AAPFU0939F1ZVX", false},
		{"lowercase", "27aapfu0939f1zv", false},
		{"missing Z at position 14", "27AAPFU0939F1XV", false},
		{"zero entity code", "27AAPFU0939F0ZV", false},
		{"digits where letters expected", "27AAP4U0939F1ZV", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidGSTIN(tt.gstin); got != tt.valid {
				t.Errorf("ValidGSTIN(%q) = %v, want %v", tt.gstin, got, tt.valid)
			}
		})
	}
}

func TestValidPAN(t *testing.T) {
	tests := []struct {
		name  string
		pan   string
		valid bool
	}{
		{"valid", "AAPFU0939F", true},
		{"empty", "", false},
		{"too short", "AAPFU0939", false},
		{"too long", "AAPFU0939FX", false},
		{"lowercase", "aapfu0939f", false},
		{"digits in prefix", "AA1FU0939F", false},
		{"letter in digit block", "AAPFUX939F", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPAN(tt.pan); got != tt.valid {
				t.Errorf("ValidPAN(%q) = %v, want %v", tt.pan, got, tt.valid)
			}
		})
	}
}
