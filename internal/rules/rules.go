// Package rules implements the Rule Registry and the default rule set
// (spec.md §4.1). A Rule is data plus up to three evaluation hooks; there is
// no inheritance hierarchy — every rule is the same narrow shape, following
// the teacher's RegexRule/analyzer.Analyzer pattern (rule-as-data, logic in
// free functions, not a class tree).
package rules

import (
	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/signals"
)

// DeveloperGuidance is optional remediation metadata attached to a rule.
type DeveloperGuidance struct {
	Remediation     string
	DocURL          string
	AlternativeAPIs []string
	IsRemediable    bool
}

// ContextWindow is the small instruction window around a call site that
// contextual and suppression hooks are allowed to inspect.
type ContextWindow struct {
	Instructions []ilmodel.Instruction
	Index        int // index of the call instruction within Instructions
}

// IsSuspiciousFunc is the single-call predicate hook.
type IsSuspiciousFunc func(callee *ilmodel.MethodRef) bool

// ContextualFunc inspects the call's prologue window and method signals.
type ContextualFunc func(callee *ilmodel.MethodRef, win ContextWindow, ms *signals.MethodSignals) []ilmodel.ScanFinding

// StringLiteralFunc is invoked for ldstr operands.
type StringLiteralFunc func(literal string, methodKey string, offset int) []ilmodel.ScanFinding

// SuppressFunc is the contextual-suppression veto hook (§4.7).
type SuppressFunc func(callee *ilmodel.MethodRef, win ContextWindow, ms, ts *signals.MethodSignals) bool

// Rule is a single rule descriptor: id, severity, companion-gating, and up
// to three optional evaluation hooks. All hooks default to "no findings" /
// "not suspicious" / "do not suppress" when nil.
type Rule struct {
	ID                string
	Severity          ilmodel.Severity
	RequiresCompanion bool
	Description       string
	Guidance          *DeveloperGuidance

	IsSuspicious       IsSuspiciousFunc
	AnalyzeContextual  ContextualFunc
	AnalyzeStringLiteral StringLiteralFunc
	ShouldSuppress     SuppressFunc
}

// Registry is the immutable, ordered set of rule descriptors built once at
// process start (spec.md §4.1, §5 "Global mutable state").
type Registry struct {
	rules []Rule
	byID  map[string]int
}

// NewRegistry builds an immutable registry from an ordered rule list.
// Order matters: §4.3 step 5 picks "the first rule whose is-suspicious is
// true (stable order = registry order)".
func NewRegistry(rs []Rule) *Registry {
	byID := make(map[string]int, len(rs))
	for i, r := range rs {
		byID[r.ID] = i
	}
	return &Registry{rules: rs, byID: byID}
}

// Rules returns the ordered rule list (read-only use expected; callers must
// not mutate elements).
func (r *Registry) Rules() []Rule {
	return r.rules
}

// ByID looks up a rule by id.
func (r *Registry) ByID(id string) (Rule, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Rule{}, false
	}
	return r.rules[i], true
}

// WithOverrides returns a new Registry with the given rule-pack overrides
// applied (severity/requires-companion/description only — guidance and hooks are
// never user-overridable, matching spec.md's "keep the allow-list as an
// explicit configuration constant, not derive it from the registry").
func (r *Registry) WithOverrides(overrides map[string]Override) *Registry {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	for i, rule := range out {
		if ov, ok := overrides[rule.ID]; ok {
			ov.apply(&out[i])
		}
	}
	return NewRegistry(out)
}

// Override carries the user-overridable fields of a rule, loaded from a
// rule-pack YAML file (internal/rulepack).
type Override struct {
	Severity          *ilmodel.Severity
	RequiresCompanion *bool
	Description       *string
}

func (o Override) apply(r *Rule) {
	if o.Severity != nil {
		r.Severity = *o.Severity
	}
	if o.RequiresCompanion != nil {
		r.RequiresCompanion = *o.RequiresCompanion
	}
	if o.Description != nil {
		r.Description = *o.Description
	}
}

// StrongCompanionIDs is the fixed allow-list of rule ids that admit a
// reflection-invocation finding (spec.md §3 invariants). Kept as an explicit
// constant per spec.md's Open Questions resolution, not derived from the
// registry, so a future rule addition never silently widens the allow-list.
var StrongCompanionIDs = []string{
	"ProcessStartRule",
	"Shell32Rule",
	"COMReflectionAttackRule",
	"AssemblyDynamicLoadRule",
	"PersistenceRule",
	"RegistryRule",
	"DataExfiltrationRule",
	"DataInfiltrationRule",
	"Base64Rule",
	"HexStringRule",
	"EncodedStringLiteralRule",
	"EncodedStringPipelineRule",
	"EncodedBlobSplittingRule",
	"ByteArrayManipulationRule",
}
