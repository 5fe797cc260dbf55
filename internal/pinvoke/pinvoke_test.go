package pinvoke

import (
	"testing"

	"github.com/diffsec/clrsentry/internal/callgraph"
	"github.com/diffsec/clrsentry/internal/ilmodel"
)

func moduleWithImport(dll, entry string) *ilmodel.Module {
	typ := &ilmodel.Type{Namespace: "Native", Name: "Interop"}
	typ.Methods = []*ilmodel.Method{{
		DeclaringType: typ,
		Name:          entry,
		PInvoke:       &ilmodel.PInvoke{DLLName: dll, EntryPoint: entry},
	}}
	return &ilmodel.Module{Types: []*ilmodel.Type{typ}}
}

// A shell32.dll native import resolves to Shell32Rule at Critical severity,
// distinct from the default DllImportRule/High used for every other
// suspicious DLL (spec.md S4).
func TestScan_Shell32ResolvesToShell32Rule(t *testing.T) {
	mod := moduleWithImport("shell32.dll", "ShellExecuteW")
	builder := callgraph.NewBuilder()
	Scan(mod, builder)

	key := mod.Types[0].Methods[0].Key()
	ruleID, ok := builder.DeclarationRuleID(key)
	if !ok {
		t.Fatalf("expected %s to be registered as a suspicious declaration", key)
	}
	if ruleID != "Shell32Rule" {
		t.Fatalf("expected Shell32Rule, got %s", ruleID)
	}
}

func TestScan_Kernel32ResolvesToDllImportRule(t *testing.T) {
	mod := moduleWithImport("kernel32.dll", "VirtualAlloc")
	builder := callgraph.NewBuilder()
	Scan(mod, builder)

	key := mod.Types[0].Methods[0].Key()
	ruleID, ok := builder.DeclarationRuleID(key)
	if !ok {
		t.Fatalf("expected %s to be registered as a suspicious declaration", key)
	}
	if ruleID != "DllImportRule" {
		t.Fatalf("expected DllImportRule, got %s", ruleID)
	}
}

func TestScan_UnknownImportIgnored(t *testing.T) {
	mod := moduleWithImport("msvcrt.dll", "memcpy")
	builder := callgraph.NewBuilder()
	Scan(mod, builder)

	key := mod.Types[0].Methods[0].Key()
	if builder.IsSuspiciousMethod(key) {
		t.Fatal("expected an unrecognized native import not to be registered")
	}
}

// With no builder, Scan returns a standalone finding directly.
func TestScan_StandaloneWithoutBuilder(t *testing.T) {
	mod := moduleWithImport("shell32.dll", "ShellExecuteW")
	findings := Scan(mod, nil)
	if len(findings) != 1 {
		t.Fatalf("expected 1 standalone finding, got %d", len(findings))
	}
	if findings[0].RuleID != "Shell32Rule" || findings[0].Severity != ilmodel.SeverityCritical {
		t.Fatalf("expected Shell32Rule/Critical, got %s/%s", findings[0].RuleID, findings[0].Severity)
	}
}
