// Package instrscan implements the Instruction Analyzer (spec.md §4.3): the
// per-method pass that walks a method body's instructions, updates the
// signal tracker, dispatches call sites to the rule registry, applies
// companion-gating and contextual suppression, and registers suspicious
// declarations' call-sites with the Call-Graph Builder instead of emitting
// direct findings for them.
package instrscan

import (
	"fmt"
	"strings"

	"github.com/diffsec/clrsentry/internal/callgraph"
	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/rules"
	"github.com/diffsec/clrsentry/internal/signals"
)

// Config tunes the analyzer's window sizes and optional passes (spec.md §6
// Configuration object, scoped to this package's concerns).
type Config struct {
	WindowSize               int
	PInvokeWindowSize        int
	AnalyzeExceptionHandlers bool
	AnalyzeLocalVariables    bool
}

// DefaultConfig matches spec.md §4.3's defaults (K=2 normal, K=8 for
// P/Invoke-registered call-sites) and §6's analyze-* flags (true).
func DefaultConfig() Config {
	return Config{WindowSize: 2, PInvokeWindowSize: 8, AnalyzeExceptionHandlers: true, AnalyzeLocalVariables: true}
}

// pendingReflection is a reflection-invocation finding awaiting a strong
// companion (spec.md §4.3 step 4).
type pendingReflection struct {
	finding      ilmodel.ScanFinding
	methodKey    string
	typeFullName string
}

// Analyzer walks method bodies, sharing a Registry, Tracker and
// CallGraph Builder across the whole assembly pass.
type Analyzer struct {
	Registry  *rules.Registry
	Tracker   *signals.Tracker
	CallGraph *callgraph.Builder
	Config    Config

	pending        []pendingReflection
	handlerOffsets map[int]bool // reused scratch, rebuilt per method
}

// NewAnalyzer constructs an Instruction Analyzer for one assembly scan.
func NewAnalyzer(reg *rules.Registry, tracker *signals.Tracker, cg *callgraph.Builder, cfg Config) *Analyzer {
	return &Analyzer{Registry: reg, Tracker: tracker, CallGraph: cg, Config: cfg}
}

// suspiciousLocalTypes flags local-variable declarations of a type commonly
// used to host a child process, socket, or script engine (spec.md §4.2
// "suspicious-local-variables").
var suspiciousLocalTypes = map[string]bool{
	"System.Diagnostics.Process":          true,
	"System.Net.Sockets.Socket":           true,
	"System.Net.Sockets.TcpClient":        true,
	"MSScriptControl.ScriptControl":       true,
	"System.Management.Automation.PowerShell": true,
}

// sensitiveFolderValues are the Environment.SpecialFolder integer values
// spec.md §4.2 names as sensitive (Startup=7, ApplicationData=26,
// LocalApplicationData=28, CommonApplicationData=35).
var sensitiveFolderValues = map[int64]bool{7: true, 26: true, 28: true, 35: true}

// AnalyzeMethod runs the full instruction pass over one method. Instruction
// findings are returned in ascending instruction-offset order (spec.md §5
// ordering guarantee), followed by the local-variable finding, which carries
// no offset, if there is one; pending reflection findings are NOT included here — call
// FlushPendingReflections once the whole assembly has been walked.
func (a *Analyzer) AnalyzeMethod(method *ilmodel.Method) []ilmodel.ScanFinding {
	if method == nil || method.Body == nil {
		return nil
	}
	typeFullName := ""
	if method.DeclaringType != nil {
		typeFullName = method.DeclaringType.FullName()
	}
	methodKey := method.Key()
	ms := a.Tracker.ForMethod(methodKey)
	instructions := method.Body.Instructions

	if a.Config.AnalyzeExceptionHandlers {
		a.handlerOffsets = computeHandlerOffsets(method.Body)
	} else {
		a.handlerOffsets = nil
	}

	var findings []ilmodel.ScanFinding
	for i, inst := range instructions {
		if inst.Opcode == ilmodel.OpLdstr && inst.Operand.HasString {
			findings = append(findings, a.analyzeStringLiteral(inst.Operand.StringLit, methodKey, inst.Offset)...)
			continue
		}
		if inst.Opcode != ilmodel.OpCall && inst.Opcode != ilmodel.OpCallvirt {
			continue
		}
		if !inst.Operand.HasMethodRef {
			continue
		}
		callee := inst.Operand.MethodRef
		insideHandler := a.handlerOffsets != nil && a.handlerOffsets[inst.Offset]

		a.updateSignalsFromCall(ms, callee, instructions, i)

		// Step 2: declaration-time suspicious call target -> consolidate
		// via the call graph builder instead of emitting here.
		if a.CallGraph != nil {
			declKey := calleeKey(callee)
			if a.CallGraph.IsSuspiciousMethod(declKey) {
				win := windowAround(instructions, i, a.Config.PInvokeWindowSize)
				a.CallGraph.RegisterCallSite(declKey, callgraph.CallSite{
					CallerMethodKey: methodKey,
					Offset:          inst.Offset,
					Snippet:         renderSnippet(win),
				})
				if ruleID, ok := a.CallGraph.DeclarationRuleID(declKey); ok {
					ms.MarkTriggered(ruleID)
				}
				continue
			}
		}

		if !insideHandler {
			findings = append(findings, a.dispatchContextual(callee, instructions, i, ms, typeFullName, methodKey)...)
		}

		// Step 4: reflection invoke deferred emission.
		if rules.IsReflectionInvoke(callee) {
			win := windowAround(instructions, i, a.Config.WindowSize)
			finding := ilmodel.ScanFinding{
				Location:    locationFor(methodKey, inst.Offset),
				Offset:      inst.Offset,
				Description: "Reflection-based dynamic invocation detected",
				Severity:    ilmodel.SeverityHigh,
				RuleID:      "ReflectionRule",
				Snippet:     renderSnippet(win),
			}
			ts := a.Tracker.ForType(typeFullName)
			if ms.HasAnyOf(rules.StrongCompanionIDs) || ts.HasAnyOf(rules.StrongCompanionIDs) {
				ms.MarkTriggered("ReflectionRule")
				findings = append(findings, finding)
			} else {
				a.pending = append(a.pending, pendingReflection{finding: finding, methodKey: methodKey, typeFullName: typeFullName})
			}
			continue
		}

		// Step 5: first is-suspicious rule in registry order.
		if !insideHandler {
			if f, ok := a.dispatchFirstSuspicious(callee, instructions, i, ms, typeFullName, methodKey); ok {
				findings = append(findings, f)
			}
		}
	}

	if a.Config.AnalyzeLocalVariables {
		if f, ok := a.analyzeLocalVariables(method, ms, typeFullName, methodKey); ok {
			findings = append(findings, f)
		}
	}

	a.Tracker.MergeMethodIntoType(typeFullName, methodKey)
	return findings
}

func (a *Analyzer) dispatchContextual(callee *ilmodel.MethodRef, instructions []ilmodel.Instruction, i int, ms *signals.MethodSignals, typeFullName, methodKey string) []ilmodel.ScanFinding {
	var out []ilmodel.ScanFinding
	win := rules.ContextWindow{Instructions: instructions, Index: i}
	for _, rule := range a.Registry.Rules() {
		if rule.AnalyzeContextual == nil {
			continue
		}
		for _, f := range rule.AnalyzeContextual(callee, win, ms) {
			f.Location = locationFor(methodKey, f.Offset)
			if !a.admit(rule, f, ms, typeFullName) {
				continue
			}
			out = append(out, f)
			if f.Severity != ilmodel.SeverityLow || !rule.RequiresCompanion {
				ms.MarkTriggered(rule.ID)
			}
		}
	}
	return out
}

func (a *Analyzer) dispatchFirstSuspicious(callee *ilmodel.MethodRef, instructions []ilmodel.Instruction, i int, ms *signals.MethodSignals, typeFullName, methodKey string) (ilmodel.ScanFinding, bool) {
	win := rules.ContextWindow{Instructions: instructions, Index: i}
	ts := a.Tracker.ForType(typeFullName)
	for _, rule := range a.Registry.Rules() {
		if rule.IsSuspicious == nil || !rule.IsSuspicious(callee) {
			continue
		}
		if rule.ShouldSuppress != nil && rule.ShouldSuppress(callee, win, ms, ts) {
			return ilmodel.ScanFinding{}, false
		}
		f := ilmodel.ScanFinding{
			Location:    locationFor(methodKey, instructions[i].Offset),
			Offset:      instructions[i].Offset,
			Description: rule.Description,
			Severity:    rule.Severity,
			RuleID:      rule.ID,
			Snippet:     renderSnippet(windowAround(instructions, i, a.Config.WindowSize)),
		}
		if !a.admit(rule, f, ms, typeFullName) {
			return ilmodel.ScanFinding{}, false
		}
		ms.MarkTriggered(rule.ID)
		return f, true
	}
	return ilmodel.ScanFinding{}, false
}

// admit implements spec.md §4.3 step 3's admission rule.
func (a *Analyzer) admit(rule rules.Rule, f ilmodel.ScanFinding, ms *signals.MethodSignals, typeFullName string) bool {
	if f.Severity == ilmodel.SeverityLow || f.BypassCompanion || !rule.RequiresCompanion {
		return true
	}
	if ms.HasTriggeredOtherThan(rule.ID) {
		return true
	}
	return a.Tracker.ForType(typeFullName).HasTriggeredOtherThan(rule.ID)
}

func (a *Analyzer) analyzeStringLiteral(literal, methodKey string, offset int) []ilmodel.ScanFinding {
	var out []ilmodel.ScanFinding
	for _, rule := range a.Registry.Rules() {
		if rule.AnalyzeStringLiteral == nil {
			continue
		}
		for _, f := range rule.AnalyzeStringLiteral(literal, methodKey, offset) {
			ms := a.Tracker.ForMethod(methodKey)
			if !a.admit(rule, f, ms, "") {
				continue
			}
			out = append(out, f)
			if f.Severity != ilmodel.SeverityLow || !rule.RequiresCompanion {
				ms.MarkTriggered(rule.ID)
			}
		}
	}
	return out
}

func (a *Analyzer) analyzeLocalVariables(method *ilmodel.Method, ms *signals.MethodSignals, typeFullName, methodKey string) (ilmodel.ScanFinding, bool) {
	suspicious := false
	for _, lv := range method.Body.Locals {
		if suspiciousLocalTypes[lv.TypeName] {
			suspicious = true
			break
		}
	}
	if !suspicious {
		return ilmodel.ScanFinding{}, false
	}
	ms.SuspiciousLocalVariables = true
	rule, ok := a.Registry.ByID("SuspiciousLocalVariableRule")
	if !ok {
		return ilmodel.ScanFinding{}, false
	}
	ts := a.Tracker.ForType(typeFullName)
	if rule.ShouldSuppress != nil && rule.ShouldSuppress(nil, rules.ContextWindow{}, ms, ts) {
		return ilmodel.ScanFinding{}, false
	}
	f := ilmodel.ScanFinding{
		Location:    methodKey,
		Description: rule.Description,
		Severity:    rule.Severity,
		RuleID:      rule.ID,
	}
	if !a.admit(rule, f, ms, typeFullName) {
		return ilmodel.ScanFinding{}, false
	}
	ms.MarkTriggered(rule.ID)
	return f, true
}

// FlushPendingReflections re-checks deferred reflection findings against the
// final type-signals after the whole assembly has been walked (spec.md
// §4.3 step 4, §5 ordering: "strictly after all non-deferred findings").
func (a *Analyzer) FlushPendingReflections() []ilmodel.ScanFinding {
	var out []ilmodel.ScanFinding
	for _, p := range a.pending {
		ms := a.Tracker.ForMethod(p.methodKey)
		ts := a.Tracker.ForType(p.typeFullName)
		if ms.HasAnyOf(rules.StrongCompanionIDs) || ts.HasAnyOf(rules.StrongCompanionIDs) {
			ms.MarkTriggered("ReflectionRule")
			out = append(out, p.finding)
		}
	}
	a.pending = nil
	return out
}

// updateSignalsFromCall deduces capability bits from a callee signature
// (spec.md §4.2 update-from-call / mark-sensitive-folder).
func (a *Analyzer) updateSignalsFromCall(ms *signals.MethodSignals, callee *ilmodel.MethodRef, instructions []ilmodel.Instruction, i int) {
	if callee == nil {
		return
	}
	switch {
	case callee.DeclaringType == "System.IO.File" && (callee.Name == "WriteAllBytes" || callee.Name == "WriteAllText" || callee.Name == "Create" || callee.Name == "Copy" || callee.Name == "AppendAllText"):
		ms.FileWrite = true
	case callee.DeclaringType == "System.Environment" && callee.Name == "SetEnvironmentVariable":
		ms.EnvModified = true
	case callee.DeclaringType == "System.Environment" && callee.Name == "GetFolderPath":
		if n, ok := precedingIntLiteral(instructions, i, 2); ok && sensitiveFolderValues[n] {
			ms.SensitiveFolder = true
		}
	}
}

func precedingIntLiteral(instructions []ilmodel.Instruction, i, lookback int) (int64, bool) {
	start := i - lookback
	if start < 0 {
		start = 0
	}
	for j := i - 1; j >= start; j-- {
		in := instructions[j]
		if in.Opcode == ilmodel.OpLdcI4 && in.Operand.HasInt {
			return in.Operand.IntLit, true
		}
	}
	return 0, false
}

func calleeKey(callee *ilmodel.MethodRef) string {
	if callee == nil {
		return ""
	}
	return callee.DeclaringType + "." + callee.Name
}

func locationFor(methodKey string, offset int) string {
	return fmt.Sprintf("%s:%d", methodKey, offset)
}

func windowAround(instructions []ilmodel.Instruction, i, k int) []ilmodel.Instruction {
	lo := i - k
	if lo < 0 {
		lo = 0
	}
	hi := i + k + 1
	if hi > len(instructions) {
		hi = len(instructions)
	}
	return instructions[lo:hi]
}

func renderSnippet(win []ilmodel.Instruction) string {
	parts := make([]string, 0, len(win))
	for _, in := range win {
		parts = append(parts, fmt.Sprintf("IL_%04x: %s", in.Offset, in.Mnemonic))
	}
	return strings.Join(parts, "\n")
}

// computeHandlerOffsets precomputes the set of offsets inside any
// catch/fault/finally/filter handler region (spec.md §4.3: "contributing
// [handler-start-offset, handler-end-offset)").
func computeHandlerOffsets(body *ilmodel.MethodBody) map[int]bool {
	if len(body.ExceptionHandlers) == 0 {
		return nil
	}
	offsets := make(map[int]bool)
	for _, eh := range body.ExceptionHandlers {
		for _, in := range body.Instructions {
			if in.Offset >= eh.HandlerStart && in.Offset < eh.HandlerEnd {
				offsets[in.Offset] = true
			}
		}
	}
	return offsets
}
