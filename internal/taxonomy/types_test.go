package taxonomy

import "testing"

func TestLookup_KnownRule(t *testing.T) {
	entry, ok := Lookup("ProcessStartRule")
	if !ok {
		t.Fatal("expected ProcessStartRule to be present in the catalog")
	}
	if len(entry.MitreAttack) == 0 {
		t.Error("expected at least one MITRE ATT&CK technique")
	}
	if len(entry.CWE) == 0 {
		t.Error("expected at least one CWE id")
	}
}

func TestLookup_UnknownRule(t *testing.T) {
	if _, ok := Lookup("NotARealRule"); ok {
		t.Error("expected unknown rule id to miss")
	}
}
