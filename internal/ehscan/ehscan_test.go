package ehscan

import (
	"testing"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

func call(offset int, declType, name string) ilmodel.Instruction {
	return ilmodel.Instruction{Offset: offset, Opcode: ilmodel.OpCall, Operand: ilmodel.Operand{
		HasMethodRef: true,
		MethodRef:    &ilmodel.MethodRef{DeclaringType: declType, Name: name},
	}}
}

func nop(offset int) ilmodel.Instruction {
	return ilmodel.Instruction{Offset: offset, Opcode: ilmodel.OpOther}
}

func methodWith(instrs []ilmodel.Instruction, handlers []ilmodel.ExceptionHandler) *ilmodel.Method {
	typ := &ilmodel.Type{Namespace: "Mod", Name: "Updater"}
	m := &ilmodel.Method{DeclaringType: typ, Name: "Run", Body: &ilmodel.MethodBody{
		Instructions:      instrs,
		ExceptionHandlers: handlers,
	}}
	typ.Methods = []*ilmodel.Method{m}
	return m
}

// A risky sink called directly inside a catch body must be flagged even
// though the try-block itself never calls anything risky — this is exactly
// the instructions instrscan excludes from normal dispatch.
func TestScan_RiskySinkInsideCatchBody(t *testing.T) {
	m := methodWith([]ilmodel.Instruction{
		nop(0),
		call(10, "System.Diagnostics.Process", "Start"),
	}, []ilmodel.ExceptionHandler{
		{Kind: ilmodel.HandlerCatch, TryStart: 0, TryEnd: 5, HandlerStart: 5, HandlerEnd: 20},
	})
	findings := Scan(m)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(findings), findings)
	}
	if findings[0].RuleID != "HandlerConcealedCallRule" {
		t.Errorf("expected HandlerConcealedCallRule, got %s", findings[0].RuleID)
	}
	if findings[0].Offset != 10 {
		t.Errorf("expected offset 10, got %d", findings[0].Offset)
	}
}

// The same evasion inside a finally or filter body must still be flagged —
// instrscan excludes all handler kinds from dispatch, not just catch/fault.
func TestScan_RiskySinkInsideFinallyAndFilterBodies(t *testing.T) {
	for _, kind := range []ilmodel.HandlerKind{ilmodel.HandlerFinally, ilmodel.HandlerFilter} {
		m := methodWith([]ilmodel.Instruction{
			call(5, "System.IO.File", "WriteAllBytes"),
		}, []ilmodel.ExceptionHandler{
			{Kind: kind, TryStart: 0, TryEnd: 5, HandlerStart: 5, HandlerEnd: 10},
		})
		findings := Scan(m)
		if len(findings) != 1 || findings[0].RuleID != "HandlerConcealedCallRule" {
			t.Fatalf("handler kind %v: expected 1 HandlerConcealedCallRule finding, got %+v", kind, findings)
		}
	}
}

// A risky sink in the try-block paired with a near-empty catch handler
// reports the secondary swallowed-failure signal, not the concealed-call one.
func TestScan_SwallowedFailureInTryBlock(t *testing.T) {
	m := methodWith([]ilmodel.Instruction{
		call(0, "System.IO.File", "WriteAllBytes"),
		nop(10),
	}, []ilmodel.ExceptionHandler{
		{Kind: ilmodel.HandlerCatch, TryStart: 0, TryEnd: 8, HandlerStart: 8, HandlerEnd: 20},
	})
	findings := Scan(m)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(findings), findings)
	}
	if findings[0].RuleID != "SwallowedFailureRule" {
		t.Errorf("expected SwallowedFailureRule, got %s", findings[0].RuleID)
	}
	if findings[0].Offset != 0 {
		t.Errorf("expected offset 0 (the try-block sink), got %d", findings[0].Offset)
	}
}

// A handler with several instructions does not look swallowed, so no
// secondary finding fires even though the try-block has a risky sink.
func TestScan_NoSwallowedFailureWhenHandlerIsSubstantial(t *testing.T) {
	m := methodWith([]ilmodel.Instruction{
		call(0, "System.IO.File", "WriteAllBytes"),
		nop(8), nop(9), nop(10), nop(11),
	}, []ilmodel.ExceptionHandler{
		{Kind: ilmodel.HandlerCatch, TryStart: 0, TryEnd: 8, HandlerStart: 8, HandlerEnd: 12},
	})
	if findings := Scan(m); len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
}

func TestScan_NilMethodOrBody(t *testing.T) {
	if findings := Scan(nil); findings != nil {
		t.Errorf("expected nil findings for a nil method, got %+v", findings)
	}
	if findings := Scan(&ilmodel.Method{}); findings != nil {
		t.Errorf("expected nil findings for a method with no body, got %+v", findings)
	}
}
