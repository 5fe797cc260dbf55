package callgraph

import (
	"testing"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// A declaration with call-sites consolidates into one CallChain finding
// shaped [EntryPoint, SuspiciousDeclaration] (spec.md §4.5, S4).
func TestBuildCallChains_ConsolidatesCallSites(t *testing.T) {
	b := NewBuilder()
	b.RegisterSuspiciousDeclaration("Native.Interop.ShellExecuteW", Declaration{
		RuleID: "Shell32Rule", Description: "native import", Severity: ilmodel.SeverityCritical,
	})
	b.RegisterCallSite("Native.Interop.ShellExecuteW", CallSite{CallerMethodKey: "Mod.Main.Run", Offset: 12})
	b.RegisterCallSite("Native.Interop.ShellExecuteW", CallSite{CallerMethodKey: "Mod.Main.Run", Offset: 40})

	findings := b.BuildCallChains()
	if len(findings) != 1 {
		t.Fatalf("expected 1 consolidated finding, got %d", len(findings))
	}
	f := findings[0]
	if f.CallChain == nil {
		t.Fatal("expected a CallChain to be attached")
	}
	if len(f.CallChain.Nodes) != 2 {
		t.Fatalf("expected a 2-node chain, got %d", len(f.CallChain.Nodes))
	}
	if f.CallChain.Nodes[0].Kind != ilmodel.NodeEntryPoint || f.CallChain.Nodes[0].Offset != 12 {
		t.Fatalf("expected the first call-site (lowest offset) as the entry node, got %+v", f.CallChain.Nodes[0])
	}
	if f.CallChain.Nodes[1].Kind != ilmodel.NodeSuspiciousDeclaration {
		t.Fatalf("expected the declaration as the second node, got %+v", f.CallChain.Nodes[1])
	}
	if f.RuleID != "Shell32Rule" || f.Severity != ilmodel.SeverityCritical {
		t.Fatalf("expected the chain to carry the declaration's rule id/severity, got %s/%s", f.RuleID, f.Severity)
	}
}

// A declaration with zero call-sites falls back to a standalone finding.
func TestBuildCallChains_NoCallSitesFallsBackToStandalone(t *testing.T) {
	b := NewBuilder()
	b.RegisterSuspiciousDeclaration("Native.Interop.VirtualAlloc", Declaration{
		RuleID: "DllImportRule", Description: "native import", Severity: ilmodel.SeverityHigh,
	})
	findings := b.BuildCallChains()
	if len(findings) != 1 {
		t.Fatalf("expected 1 standalone finding, got %d", len(findings))
	}
	if findings[0].CallChain != nil {
		t.Fatal("expected no CallChain on a declaration with zero call-sites")
	}
	if findings[0].Location != "Native.Interop.VirtualAlloc" {
		t.Fatalf("expected the finding location to be the declaration's key, got %s", findings[0].Location)
	}
}

func TestDeclarationRuleID_UnknownKey(t *testing.T) {
	b := NewBuilder()
	if _, ok := b.DeclarationRuleID("does.not.exist"); ok {
		t.Fatal("expected an unregistered method key to report not-found")
	}
}
