package cli

import "testing"

// Stdout under `go test` is never a TTY, so both helpers must fall back to
// the plain string unchanged.
func TestColorize_NonTTYPassthrough(t *testing.T) {
	if got := colorizeSeverity("Critical"); got != "Critical" {
		t.Fatalf("expected plain passthrough, got %q", got)
	}
	if got := colorizeLevel("ERROR"); got != "ERROR" {
		t.Fatalf("expected plain passthrough, got %q", got)
	}
}

func TestColorize_UnknownValuePassthrough(t *testing.T) {
	if got := colorizeSeverity("Unknown"); got != "Unknown" {
		t.Fatalf("expected unknown severity to pass through unchanged, got %q", got)
	}
}
