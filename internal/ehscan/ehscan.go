// Package ehscan implements the Exception-Handler Analyzer (spec.md §4.8):
// for each catch/fault/finally/filter region it re-analyzes the instructions
// the handler body spans — exactly the offsets the Instruction Analyzer
// skips during normal dispatch (spec.md §3 invariant 5; instrscan.go's
// computeHandlerOffsets excludes `[HandlerStart,HandlerEnd)` on the
// assumption this package owns that territory) — so a risky call placed
// directly inside an exception handler, a common evasion against
// instruction-stream scanning, is still flagged. It additionally correlates
// a risky sink in the protected try-block with a near-empty handler as a
// secondary "swallowed failure" signal.
package ehscan

import (
	"fmt"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// riskySinks names the declaring-type/member pairs whose appearance inside a
// handler region — or whose failure, if silently swallowed, is worth
// flagging (file write, process start, network send, registry write,
// assembly load — the sink half of spec.md §4.6's pattern table, reused
// here for this narrower "inside a handler" signal).
var riskySinks = map[string]map[string]bool{
	"System.IO.File":             {"WriteAllBytes": true, "WriteAllText": true, "Delete": true, "Copy": true},
	"System.Diagnostics.Process": {"Start": true},
	"System.Net.WebClient":       {"UploadData": true, "DownloadFile": true, "UploadFile": true},
	"Microsoft.Win32.Registry":   {"SetValue": true},
	"System.Reflection.Assembly": {"Load": true, "LoadFrom": true, "LoadFile": true, "UnsafeLoadFrom": true},
}

// swallowedHandlerMaxInstructions is the heuristic threshold at or below
// which a non-empty handler body is considered to be "silently swallowing" the exception
// rather than handling it (e.g. logging and rethrowing).
const swallowedHandlerMaxInstructions = 3

// Scan re-analyzes every exception-handler region of method's body: first
// for a risky sink called directly inside the handler region itself (the
// instructions instrscan never rule-matches), then, separately, for a risky
// sink in the protected try-block paired with a near-empty handler.
func Scan(method *ilmodel.Method) []ilmodel.ScanFinding {
	if method == nil || method.Body == nil {
		return nil
	}
	body := method.Body
	var out []ilmodel.ScanFinding
	for _, eh := range body.ExceptionHandlers {
		if offset, desc, found := findRiskySinkInRange(body.Instructions, eh.HandlerStart, eh.HandlerEnd); found {
			severity := ilmodel.SeverityHigh
			if eh.Kind == ilmodel.HandlerFinally {
				severity = ilmodel.SeverityMedium
			}
			out = append(out, ilmodel.ScanFinding{
				Location:    fmt.Sprintf("%s:%d", method.Key(), offset),
				Offset:      offset,
				Description: fmt.Sprintf("%s called inside a %s handler region, bypassing normal instruction dispatch", desc, handlerKindName(eh.Kind)),
				Severity:    severity,
				RuleID:      "HandlerConcealedCallRule",
			})
		}

		if eh.Kind != ilmodel.HandlerCatch && eh.Kind != ilmodel.HandlerFault {
			continue
		}
		riskyOffset, riskyDesc, found := findRiskySinkInRange(body.Instructions, eh.TryStart, eh.TryEnd)
		if !found {
			continue
		}
		if !handlerLooksSwallowed(body.Instructions, eh.HandlerStart, eh.HandlerEnd) {
			continue
		}
		severity := ilmodel.SeverityMedium
		if eh.Kind == ilmodel.HandlerFault {
			severity = ilmodel.SeverityHigh
		}
		out = append(out, ilmodel.ScanFinding{
			Location:    fmt.Sprintf("%s:%d", method.Key(), riskyOffset),
			Offset:      riskyOffset,
			Description: fmt.Sprintf("Failure of %s is silently swallowed by a near-empty exception handler", riskyDesc),
			Severity:    severity,
			RuleID:      "SwallowedFailureRule",
		})
	}
	return out
}

func handlerKindName(kind ilmodel.HandlerKind) string {
	switch kind {
	case ilmodel.HandlerCatch:
		return "catch"
	case ilmodel.HandlerFinally:
		return "finally"
	case ilmodel.HandlerFault:
		return "fault"
	case ilmodel.HandlerFilter:
		return "filter"
	default:
		return "exception-handler"
	}
}

func findRiskySinkInRange(instructions []ilmodel.Instruction, start, end int) (int, string, bool) {
	for _, in := range instructions {
		if in.Offset < start || in.Offset >= end {
			continue
		}
		if in.Opcode != ilmodel.OpCall && in.Opcode != ilmodel.OpCallvirt {
			continue
		}
		if !in.Operand.HasMethodRef {
			continue
		}
		ref := in.Operand.MethodRef
		if members, ok := riskySinks[ref.DeclaringType]; ok && members[ref.Name] {
			return in.Offset, ref.DeclaringType + "." + ref.Name, true
		}
	}
	return 0, "", false
}

func handlerLooksSwallowed(instructions []ilmodel.Instruction, start, end int) bool {
	count := 0
	for _, in := range instructions {
		if in.Offset >= start && in.Offset < end {
			count++
		}
	}
	return count > 0 && count <= swallowedHandlerMaxInstructions
}
