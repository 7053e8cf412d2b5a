package agent

// gstin.go validates Indian tax identifiers.

import "regexp"

// GSTIN format: 2-digit state code, 10-char PAN, entity number, "Z", checksum.
// 15 characters total.
var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

// PAN format: 5 letters, 4 digits, 1 letter.
var panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// ValidGSTIN reports whether s is a structurally valid GSTIN.
func ValidGSTIN(s string) bool {
	return len(s) == 15 && gstinPattern.MatchString(s)
}

// ValidPAN reports whether s is a structurally valid PAN.
func ValidPAN(s string) bool {
	return len(s) == 10 && panPattern.MatchString(s)
}
