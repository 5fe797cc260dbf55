// Package deepbehavior implements the Deep-Behavior Orchestrator (spec.md
// §4.9): an opt-in second pass, gated on signal strength, that runs a fixed
// bank of correlation analyzers per selected method under a wall-clock
// budget. Each analyzer is a name + match/build function pair, following
// the teacher's heuristic-rule-bank shape (internal/guardian/heuristic.go:
// a []rule of {signal, match, escalate} evaluated in order, confidences
// assigned per rule) adapted to correlate base findings instead of regexes.
package deepbehavior

import (
	"fmt"
	"strings"
	"time"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/signals"
)

// Config mirrors spec.md §6's nested deep-analysis configuration object.
type Config struct {
	EnableDeepAnalysis           bool
	DeepScanOnlyFlaggedMethods   bool
	MaxInstructionsPerMethod     int
	MaxAnalysisTimeMsPerMethod   int
	MaxDeepMethodsPerAssembly    int
	EmitDiagnosticFindings       bool
	RequireCorrelatedBaseFinding bool
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		EnableDeepAnalysis:           false,
		DeepScanOnlyFlaggedMethods:   true,
		MaxInstructionsPerMethod:     20000,
		MaxAnalysisTimeMsPerMethod:   120,
		MaxDeepMethodsPerAssembly:    300,
		EmitDiagnosticFindings:       false,
		RequireCorrelatedBaseFinding: true,
	}
}

// seedRuleIDs are the known malicious-family rule ids that alone qualify a
// method for deep analysis (spec.md §4.9 selection criterion 1).
var seedRuleIDs = map[string]bool{
	"DllImportRule": true, "ProcessStartRule": true, "Shell32Rule": true,
	"AssemblyDynamicLoadRule": true, "COMReflectionAttackRule": true,
	"PersistenceRule": true, "DataExfiltrationRule": true,
}

// entryPointPrefixes are method-name heuristics for Unity lifecycle/mod
// entry points (spec.md §4.9 selection criterion 4).
var entryPointPrefixes = []string{"OnInitializeMelon", "OnApplicationStart", "Awake", "Start", "Initialize", "OnEnable"}

// MethodContext is everything one deep-analysis pass over a method needs.
type MethodContext struct {
	Method       *ilmodel.Method
	BaseFindings []ilmodel.ScanFinding
	Signals      *signals.MethodSignals
	TypeSignals  *signals.MethodSignals
}

// Analyzer is one correlation analyzer in the fixed bank.
type Analyzer struct {
	Name string
	Run  func(ctx MethodContext) []ilmodel.ScanFinding
}

// Bank is the fixed, ordered analyzer bank spec.md §4.9 names.
func Bank() []Analyzer {
	return []Analyzer{
		{Name: "NativeInteropCorrelationAnalyzer", Run: nativeInteropCorrelation},
		{Name: "ExecutionChainAnalyzer", Run: executionChain},
		{Name: "StringDecodeFlowAnalyzer", Run: stringDecodeFlow},
		{Name: "ResourcePayloadAnalyzer", Run: resourcePayload},
		{Name: "DynamicLoadCorrelationAnalyzer", Run: dynamicLoadCorrelation},
		{Name: "ScriptHostLaunchAnalyzer", Run: scriptHostLaunch},
		{Name: "EnvironmentPivotAnalyzer", Run: environmentPivot},
	}
}

// SelectMethods applies spec.md §4.9's selection criteria and the
// max-deep-methods-per-assembly cap, deduplicated globally by method key.
func SelectMethods(cfg Config, candidates []MethodContext) []MethodContext {
	if !cfg.EnableDeepAnalysis {
		return nil
	}
	seen := make(map[string]bool)
	var out []MethodContext
	for _, c := range candidates {
		if c.Method == nil || len(out) >= cfg.MaxDeepMethodsPerAssembly {
			break
		}
		key := c.Method.Key()
		if seen[key] {
			continue
		}
		if !isSelected(c) {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func isSelected(c MethodContext) bool {
	for _, f := range c.BaseFindings {
		if seedRuleIDs[f.RuleID] {
			return true
		}
	}
	if c.Signals != nil && isCriticalSignalCombination(c.Signals) {
		return true
	}
	if c.Signals != nil && c.Signals.SignalCount() >= 3 {
		return true
	}
	if matchesEntryPointName(c.Method.Name) && len(c.BaseFindings) >= 1 {
		return true
	}
	return false
}

// isCriticalSignalCombination enumerates high-risk bit-combinations: a
// method that both writes files and touches a sensitive folder, or both
// modifies the environment and has a suspicious local variable, is worth a
// deep pass even below the raw signal-count threshold.
func isCriticalSignalCombination(s *signals.MethodSignals) bool {
	if s.FileWrite && s.SensitiveFolder {
		return true
	}
	if s.EnvModified && s.SuspiciousLocalVariables {
		return true
	}
	return false
}

func matchesEntryPointName(name string) bool {
	if strings.Contains(name, "Patch") {
		return true
	}
	for _, p := range entryPointPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Run executes the fixed analyzer bank over ctx under the per-method
// wall-clock budget, stopping the chain as soon as the budget is exhausted
// (spec.md §4.9, §5 cancellation policy), and deduplicates results by the
// shared finding key.
func Run(cfg Config, ctx MethodContext) []ilmodel.ScanFinding {
	if !cfg.EnableDeepAnalysis {
		return nil
	}
	budget := time.Duration(cfg.MaxAnalysisTimeMsPerMethod) * time.Millisecond
	start := time.Now()
	seen := make(map[string]bool)
	var out []ilmodel.ScanFinding
	for _, a := range Bank() {
		if time.Since(start) >= budget {
			break
		}
		for _, f := range a.Run(ctx) {
			if !admitDeepFinding(cfg, f) {
				continue
			}
			key := f.DedupeKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// admitDeepFinding implements spec.md §4.9's "emit only when diagnostic
// findings are requested, or the finding correlates with an existing base
// finding and correlated-base-finding is required" gate. Every analyzer in
// this bank only ever fires in correlation with a base finding, so the
// require-correlated-base-finding branch is always satisfied by
// construction; EmitDiagnosticFindings additionally allows emission when
// that requirement is relaxed.
func admitDeepFinding(cfg Config, f ilmodel.ScanFinding) bool {
	return cfg.EmitDiagnosticFindings || cfg.RequireCorrelatedBaseFinding
}

func findByRule(findings []ilmodel.ScanFinding, ruleID string) (ilmodel.ScanFinding, bool) {
	for _, f := range findings {
		if f.RuleID == ruleID {
			return f, true
		}
	}
	return ilmodel.ScanFinding{}, false
}

func offsetOf(f ilmodel.ScanFinding) int {
	return f.Offset
}

// nativeInteropCorrelation: a DllImportRule finding co-located with a
// follow-up sink in the same method escalates severity (spec.md §4.9).
func nativeInteropCorrelation(ctx MethodContext) []ilmodel.ScanFinding {
	native, ok := findByRule(ctx.BaseFindings, "DllImportRule")
	if !ok {
		return nil
	}
	severity := ilmodel.Severity(-1)
	if _, ok := findByRule(ctx.BaseFindings, "ProcessStartRule"); ok {
		severity = ilmodel.SeverityCritical
	} else if _, ok := findByRule(ctx.BaseFindings, "Shell32Rule"); ok {
		severity = ilmodel.SeverityCritical
	} else if f, ok := findByRule(ctx.BaseFindings, "AssemblyDynamicLoadRule"); ok {
		severity = ilmodel.SeverityHigh
		native = f
	} else if f, ok := findByRule(ctx.BaseFindings, "PersistenceRule"); ok {
		severity = ilmodel.SeverityHigh
		native = f
	}
	if severity < 0 {
		return nil
	}
	return []ilmodel.ScanFinding{{
		Location:    fmt.Sprintf("%s:%d", ctx.Method.Key(), offsetOf(native)),
		Offset:      offsetOf(native),
		Description: "Native import correlated with a downstream execution sink in the same method",
		Severity:    severity,
		RuleID:      "DeepNativeInteropCorrelationRule",
	}}
}

// executionChain: a ProcessStartRule seed with a supporting secondary
// finding in the same method escalates to reflect a multi-stage chain.
func executionChain(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "ProcessStartRule")
	if !ok || len(ctx.BaseFindings) < 2 {
		return nil
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "Process launch correlates with additional suspicious activity in the same method",
		Severity:    seed.Severity,
		RuleID:      "DeepExecutionChainRule",
	}}
}

// encodedLaunchIndicators are encoded-launch tokens that escalate a
// ScriptHostLaunch finding from High to Critical (spec.md §4.9).
var encodedLaunchIndicators = []string{"-enc", "-encodedcommand", "convert.frombase64string", "/c", "iex"}

// scriptHostTokens name a command/script interpreter.
var scriptHostTokens = []string{"powershell", "cmd.exe", "mshta", "wscript", "cscript", "rundll32", "regsvr32"}

func scriptHostLaunch(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "ProcessStartRule")
	if !ok || ctx.Method.Body == nil {
		return nil
	}
	hasHostLiteral := false
	hasEncodedLiteral := false
	for _, in := range ctx.Method.Body.Instructions {
		if in.Opcode != ilmodel.OpLdstr || !in.Operand.HasString {
			continue
		}
		lower := strings.ToLower(in.Operand.StringLit)
		for _, tok := range scriptHostTokens {
			if strings.Contains(lower, tok) {
				hasHostLiteral = true
			}
		}
		for _, tok := range encodedLaunchIndicators {
			if strings.Contains(lower, tok) {
				hasEncodedLiteral = true
			}
		}
	}
	if !hasHostLiteral {
		return nil
	}
	severity := ilmodel.SeverityHigh
	if hasEncodedLiteral {
		severity = ilmodel.SeverityCritical
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "Process launch targets a command/script host interpreter",
		Severity:    severity,
		RuleID:      "DeepScriptHostLaunchRule",
	}}
}

func dynamicLoadCorrelation(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "AssemblyDynamicLoadRule")
	if !ok {
		return nil
	}
	_, hasReflection := findByRule(ctx.BaseFindings, "ReflectionRule")
	_, hasEncoded := findByRule(ctx.BaseFindings, "EncodedStringPipelineRule")
	if !hasReflection && !hasEncoded {
		return nil
	}
	severity := seed.Severity
	if hasReflection && hasEncoded {
		severity = ilmodel.SeverityCritical
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "Dynamic assembly load correlates with reflection-based invocation or decoded payload staging",
		Severity:    severity,
		RuleID:      "DeepDynamicLoadCorrelationRule",
	}}
}

func resourcePayload(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "ByteArrayManipulationRule")
	if !ok {
		return nil
	}
	_, hasWrite := findByRule(ctx.BaseFindings, "PersistenceRule")
	if !hasWrite {
		return nil
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "Byte-array manipulation correlates with a persistence write in the same method",
		Severity:    ilmodel.SeverityHigh,
		RuleID:      "DeepResourcePayloadRule",
	}}
}

func stringDecodeFlow(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "EncodedStringPipelineRule")
	if !ok {
		return nil
	}
	_, hasSink := findByRule(ctx.BaseFindings, "DataExfiltrationRule")
	_, hasLoad := findByRule(ctx.BaseFindings, "AssemblyDynamicLoadRule")
	if !hasSink && !hasLoad {
		return nil
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "Decoded string pipeline correlates with a network or assembly-load sink",
		Severity:    ilmodel.SeverityCritical,
		RuleID:      "DeepStringDecodeFlowRule",
	}}
}

func environmentPivot(ctx MethodContext) []ilmodel.ScanFinding {
	seed, ok := findByRule(ctx.BaseFindings, "EnvironmentPathRule")
	if !ok {
		return nil
	}
	_, hasProcess := findByRule(ctx.BaseFindings, "ProcessStartRule")
	if !hasProcess {
		return nil
	}
	return []ilmodel.ScanFinding{{
		Location:    seed.Location,
		Offset:      seed.Offset,
		Description: "PATH environment tampering correlates with a subsequent process launch",
		Severity:    ilmodel.SeverityHigh,
		RuleID:      "DeepEnvironmentPivotRule",
	}}
}
