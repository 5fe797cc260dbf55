package rules

import (
	"testing"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/signals"
)

func ldstr(lit string) ilmodel.Instruction {
	return ilmodel.Instruction{Opcode: ilmodel.OpLdstr, Mnemonic: "ldstr", Operand: ilmodel.Operand{HasString: true, StringLit: lit}}
}

func callRef(declType, name string) ilmodel.Instruction {
	return ilmodel.Instruction{Opcode: ilmodel.OpCall, Mnemonic: "call", Operand: ilmodel.Operand{
		HasMethodRef: true,
		MethodRef:    &ilmodel.MethodRef{DeclaringType: declType, Name: name},
	}}
}

var processStart = &ilmodel.MethodRef{DeclaringType: "System.Diagnostics.Process", Name: "Start"}

// suppressProcessStart must suppress a bare "explorer.exe" literal with no
// intervening path-manipulation call (spec.md S2).
func TestSuppressProcessStart_BareExplorer(t *testing.T) {
	instrs := []ilmodel.Instruction{
		ldstr("explorer.exe"),
		callRef("System.Diagnostics.Process", "Start"),
	}
	win := ContextWindow{Instructions: instrs, Index: 1}
	ms := signals.NewMethodSignals()
	if !suppressProcessStart(processStart, win, ms, nil) {
		t.Fatal("expected bare explorer.exe launch to be suppressed")
	}
}

// suppressProcessStart must NOT suppress when a path-manipulation call sits
// between the literal and the start call, even though "explorer.exe" still
// appears in the lookback window (spec.md S3: PATH-manipulation attack).
func TestSuppressProcessStart_PathManipulationNotSuppressed(t *testing.T) {
	instrs := []ilmodel.Instruction{
		ldstr(`C:\x\`),
		ldstr("explorer.exe"),
		callRef("System.String", "Concat"),
		callRef("System.Diagnostics.Process", "Start"),
	}
	win := ContextWindow{Instructions: instrs, Index: 3}
	ms := signals.NewMethodSignals()
	if suppressProcessStart(processStart, win, ms, nil) {
		t.Fatal("expected PATH-manipulated explorer.exe launch NOT to be suppressed")
	}
}

// A literal that merely contains "explorer.exe" as a substring, with
// surrounding path characters, must not satisfy the bare-literal shape.
func TestSuppressProcessStart_PathLikeLiteralNotSuppressed(t *testing.T) {
	instrs := []ilmodel.Instruction{
		ldstr(`C:\Windows\explorer.exe`),
		callRef("System.Diagnostics.Process", "Start"),
	}
	win := ContextWindow{Instructions: instrs, Index: 1}
	ms := signals.NewMethodSignals()
	if suppressProcessStart(processStart, win, ms, nil) {
		t.Fatal("expected path-qualified explorer.exe literal NOT to be suppressed")
	}
}

// The current-process-restart shape: GetCurrentProcess -> get_MainModule ->
// get_FileName -> Start, with nothing intervening, is suppressed.
func TestSuppressProcessStart_CurrentProcessRestart(t *testing.T) {
	instrs := []ilmodel.Instruction{
		callRef("System.Diagnostics.Process", "GetCurrentProcess"),
		callRef("System.Diagnostics.Process", "get_MainModule"),
		callRef("System.Diagnostics.ProcessModule", "get_FileName"),
		callRef("System.Diagnostics.Process", "Start"),
	}
	win := ContextWindow{Instructions: instrs, Index: 3}
	ms := signals.NewMethodSignals()
	if !suppressProcessStart(processStart, win, ms, nil) {
		t.Fatal("expected current-process restart shape to be suppressed")
	}
}

// The "never suppress" veto: any EnvModified/FileWrite signal on the method
// defeats both suppression shapes outright.
func TestSuppressProcessStart_VetoedByFileWrite(t *testing.T) {
	instrs := []ilmodel.Instruction{
		ldstr("explorer.exe"),
		callRef("System.Diagnostics.Process", "Start"),
	}
	win := ContextWindow{Instructions: instrs, Index: 1}
	ms := signals.NewMethodSignals()
	ms.FileWrite = true
	if suppressProcessStart(processStart, win, ms, nil) {
		t.Fatal("expected FileWrite signal to veto suppression")
	}
}

func TestSuppressControlledChildProcess(t *testing.T) {
	ms := signals.NewMethodSignals()
	ms.SuspiciousLocalVariables = true
	win := ContextWindow{}
	if !suppressControlledChildProcess(nil, win, ms, nil) {
		t.Fatal("expected a lone local-variable signal to be suppressed")
	}
	ms.MarkTriggered("ProcessStartRule")
	if suppressControlledChildProcess(nil, win, ms, nil) {
		t.Fatal("expected a method with another triggered rule NOT to be suppressed")
	}
}
