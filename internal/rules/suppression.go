package rules

import (
	"strings"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/signals"
)

// pathManipulationCalls names the string/path-building members whose
// presence between a literal and a Process.Start call defeats the bare-
// literal suppression shapes of spec.md §4.7 (PATH-manipulation +
// explorer.exe, or a forged "current module" path).
var pathManipulationCalls = map[string]map[string]bool{
	"System.String": {"Concat": true, "Format": true, "Replace": true},
	"System.IO.Path": {"Combine": true, "Join": true, "GetFullPath": true},
}

func isPathManipulationCall(in ilmodel.Instruction) bool {
	if !in.Operand.HasMethodRef {
		return false
	}
	ref := in.Operand.MethodRef
	m, ok := pathManipulationCalls[ref.DeclaringType]
	return ok && m[ref.Name]
}

// suppressProcessStart implements spec.md §4.7's two contextual-suppression
// shapes for ProcessStartRule, gated by the "never suppress" veto.
func suppressProcessStart(callee *ilmodel.MethodRef, win ContextWindow, ms, ts *signals.MethodSignals) bool {
	if callee == nil || callee.DeclaringType != "System.Diagnostics.Process" || callee.Name != "Start" {
		return false
	}
	if (ms != nil && (ms.EnvModified || ms.FileWrite)) || (ts != nil && (ts.EnvModified || ts.FileWrite)) {
		return false
	}
	return suppressBareExplorer(win) || suppressCurrentProcessRestart(win)
}

// suppressBareExplorer: the start argument is a bare literal "explorer.exe"
// (case-insensitive, no slashes or colons) with no path-manipulation call
// between the literal and the start call, within a 10-instruction lookback.
func suppressBareExplorer(win ContextWindow) bool {
	lit, idx, ok := nearestLdstrBefore(win, 10)
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(lit)
	if !strings.EqualFold(trimmed, "explorer.exe") {
		return false
	}
	if strings.ContainsAny(trimmed, `/\:`) {
		return false
	}
	return !hasPathManipulationBetween(win, idx, win.Index)
}

// suppressCurrentProcessRestart: the preceding call sequence within 40
// instructions matches exactly, in order, Process.GetCurrentProcess ->
// Process.get_MainModule -> ProcessModule.get_FileName, with no intervening
// string or path-manipulation call between the final get_FileName and the
// start call (a current-process restart, not an attacker-controlled target).
func suppressCurrentProcessRestart(win ContextWindow) bool {
	start := win.Index - 40
	if start < 0 {
		start = 0
	}
	fileNameIdx := nearestCallBefore(win, start, "System.Diagnostics.ProcessModule", "get_FileName")
	if fileNameIdx < 0 {
		return false
	}
	for i := fileNameIdx + 1; i < win.Index; i++ {
		in := win.Instructions[i]
		if in.Opcode == ilmodel.OpLdstr || isPathManipulationCall(in) {
			return false
		}
	}
	mainModuleIdx := nearestCallBeforeIndex(win, start, fileNameIdx, "System.Diagnostics.Process", "get_MainModule")
	if mainModuleIdx < 0 {
		return false
	}
	return nearestCallBeforeIndex(win, start, mainModuleIdx, "System.Diagnostics.Process", "GetCurrentProcess") >= 0
}

func nearestLdstrBefore(win ContextWindow, lookback int) (string, int, bool) {
	start := win.Index - lookback
	if start < 0 {
		start = 0
	}
	for i := win.Index - 1; i >= start; i-- {
		in := win.Instructions[i]
		if in.Opcode == ilmodel.OpLdstr && in.Operand.HasString {
			return in.Operand.StringLit, i, true
		}
	}
	return "", 0, false
}

func hasPathManipulationBetween(win ContextWindow, from, to int) bool {
	for i := from + 1; i < to; i++ {
		if isPathManipulationCall(win.Instructions[i]) {
			return true
		}
	}
	return false
}

func nearestCallBefore(win ContextWindow, floor int, declType, name string) int {
	return nearestCallBeforeIndex(win, floor, win.Index, declType, name)
}

func nearestCallBeforeIndex(win ContextWindow, floor, before int, declType, name string) int {
	for i := before - 1; i >= floor; i-- {
		in := win.Instructions[i]
		if in.Operand.HasMethodRef && in.Operand.MethodRef.DeclaringType == declType && in.Operand.MethodRef.Name == name {
			return i
		}
	}
	return -1
}

// controlledChildProcessTypes names the local-variable types of the
// "controlled child process" shape from spec.md §4.7. Nothing consults it:
// suppressControlledChildProcess decides from the method's signals alone.
var controlledChildProcessTypes = map[string]bool{
	"System.Diagnostics.Process":       true,
	"System.Diagnostics.ProcessStartInfo": true,
}

// suppressControlledChildProcess suppresses a SuspiciousLocalVariableRule
// finding whenever the method has the suspicious-local-variable signal and
// no other rule has triggered in it. The local's type and the way a child
// process is launched (shell execution, output redirection, waiting, command
// literals) are not examined.
func suppressControlledChildProcess(callee *ilmodel.MethodRef, win ContextWindow, ms, ts *signals.MethodSignals) bool {
	if ms == nil {
		return false
	}
	if !ms.SuspiciousLocalVariables {
		return false
	}
	return !ms.HasTriggeredOtherThan("SuspiciousLocalVariableRule")
}
