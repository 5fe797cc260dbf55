package scanner

import (
	"strconv"
	"testing"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

func finding(methodKey string, offset int, ruleID string) ilmodel.ScanFinding {
	return ilmodel.ScanFinding{
		Location: methodKey + ":" + strconv.Itoa(offset),
		Offset:   offset,
		RuleID:   ruleID,
		Severity: ilmodel.SeverityMedium,
	}
}

// Findings within one method must come out in ascending numeric offset
// order even when a higher offset has fewer decimal digits than a lower one
// (spec.md §5): offset 3 must sort before offset 25, not after.
func TestDedupeAndOrder_NumericOffsetNotLexicographic(t *testing.T) {
	findings := []ilmodel.ScanFinding{
		finding("Mod.Updater.Run", 25, "RuleB"),
		finding("Mod.Updater.Run", 3, "RuleA"),
		finding("Mod.Updater.Run", 100, "RuleC"),
	}
	out := dedupeAndOrder(findings)
	if len(out) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(out))
	}
	offsets := []int{out[0].Offset, out[1].Offset, out[2].Offset}
	if offsets[0] != 3 || offsets[1] != 25 || offsets[2] != 100 {
		t.Fatalf("expected ascending offsets [3 25 100], got %v", offsets)
	}
}

// Findings across different methods order by the method prefix first, then
// by offset within a method.
func TestDedupeAndOrder_OrdersByMethodThenOffset(t *testing.T) {
	findings := []ilmodel.ScanFinding{
		finding("Mod.Updater.Zeta", 1, "RuleA"),
		finding("Mod.Updater.Alpha", 30, "RuleB"),
		finding("Mod.Updater.Alpha", 4, "RuleC"),
	}
	out := dedupeAndOrder(findings)
	want := []string{"Mod.Updater.Alpha:4", "Mod.Updater.Alpha:30", "Mod.Updater.Zeta:1"}
	for i, loc := range want {
		if out[i].Location != loc {
			t.Fatalf("position %d: expected %s, got %s", i, loc, out[i].Location)
		}
	}
}

// Duplicate (rule-id, location, description, severity) tuples collapse to
// the first occurrence (spec.md §3 dedupe key).
func TestDedupeAndOrder_Dedupes(t *testing.T) {
	f := finding("Mod.Updater.Run", 5, "RuleA")
	out := dedupeAndOrder([]ilmodel.ScanFinding{f, f, f})
	if len(out) != 1 {
		t.Fatalf("expected duplicates collapsed to 1, got %d", len(out))
	}
}
