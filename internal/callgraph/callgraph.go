// Package callgraph consolidates suspicious method declarations (P/Invoke
// imports, or any call target registered as suspicious at declaration time)
// with their call-sites into single CallChain findings, so a native import
// used from ten places produces one finding instead of ten (spec.md §4.5).
package callgraph

import (
	"sort"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// Declaration describes a suspicious method declaration registered by the
// P/Invoke scanner or the instruction analyzer.
type Declaration struct {
	RuleID      string
	Description string
	Severity    ilmodel.Severity
	Snippet     string
}

// CallSite is one observed call into a registered declaration.
type CallSite struct {
	CallerMethodKey  string
	Offset           int
	Snippet          string
	InvocationContext string
}

// Builder holds the two maps spec.md §4.5 describes: suspicious declarations
// and their observed call-sites, keyed by the declaration's method key.
type Builder struct {
	decls     map[string]Declaration
	callSites map[string][]CallSite
	// declOrder preserves registration order so BuildCallChains is deterministic.
	declOrder []string
}

// NewBuilder returns an empty call-graph builder for one assembly scan.
func NewBuilder() *Builder {
	return &Builder{
		decls:     make(map[string]Declaration),
		callSites: make(map[string][]CallSite),
	}
}

// RegisterSuspiciousDeclaration records methodKey as suspicious at
// declaration time. Re-registering the same key overwrites its Declaration
// but preserves already-recorded call-sites.
func (b *Builder) RegisterSuspiciousDeclaration(methodKey string, decl Declaration) {
	if _, exists := b.decls[methodKey]; !exists {
		b.declOrder = append(b.declOrder, methodKey)
	}
	b.decls[methodKey] = decl
}

// IsSuspiciousMethod reports whether methodKey has been registered as a
// suspicious declaration (spec.md §4.5 `is-suspicious-method`).
func (b *Builder) IsSuspiciousMethod(methodKey string) bool {
	_, ok := b.decls[methodKey]
	return ok
}

// DeclarationRuleID returns the rule id a registered declaration was filed
// under, so a call-site registration can mark the correct rule as triggered
// instead of a fixed id (e.g. Shell32Rule vs. DllImportRule).
func (b *Builder) DeclarationRuleID(methodKey string) (string, bool) {
	decl, ok := b.decls[methodKey]
	if !ok {
		return "", false
	}
	return decl.RuleID, true
}

// RegisterCallSite records one call into declMethodKey. The instruction
// analyzer calls this instead of emitting a direct finding when
// IsSuspiciousMethod is true for the callee.
func (b *Builder) RegisterCallSite(declMethodKey string, site CallSite) {
	b.callSites[declMethodKey] = append(b.callSites[declMethodKey], site)
}

// BuildCallChains produces one consolidated CallChain finding per
// declaration that has at least one call-site, plus one standalone
// declaration finding for every declaration with zero call-sites
// (spec.md §4.5 "Declarations without call-sites fall back to standalone
// declaration findings").
func (b *Builder) BuildCallChains() []ilmodel.ScanFinding {
	var out []ilmodel.ScanFinding
	for _, methodKey := range b.declOrder {
		decl := b.decls[methodKey]
		sites := b.callSites[methodKey]
		if len(sites) == 0 {
			out = append(out, ilmodel.ScanFinding{
				Location:    methodKey,
				Description: decl.Description,
				Severity:    decl.Severity,
				RuleID:      decl.RuleID,
				Snippet:     decl.Snippet,
			})
			continue
		}
		sorted := make([]CallSite, len(sites))
		copy(sorted, sites)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].CallerMethodKey != sorted[j].CallerMethodKey {
				return sorted[i].CallerMethodKey < sorted[j].CallerMethodKey
			}
			return sorted[i].Offset < sorted[j].Offset
		})
		first := sorted[0]
		chain := &ilmodel.CallChain{
			ChainID:  methodKey + "#chain",
			RuleID:   decl.RuleID,
			Summary:  decl.Description,
			Severity: decl.Severity,
			Nodes: []ilmodel.CallChainNode{
				{Kind: ilmodel.NodeEntryPoint, MethodKey: first.CallerMethodKey, Offset: first.Offset},
				{Kind: ilmodel.NodeSuspiciousDeclaration, MethodKey: methodKey},
			},
		}
		out = append(out, ilmodel.ScanFinding{
			Location:    first.CallerMethodKey,
			Offset:      first.Offset,
			Description: decl.Description,
			Severity:    decl.Severity,
			RuleID:      decl.RuleID,
			Snippet:     decl.Snippet + "\n" + first.Snippet,
			CallChain:   chain,
		})
	}
	return out
}
