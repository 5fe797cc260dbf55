// Package scanner implements the Assembly Scanner facade (spec.md §4.12):
// it orchestrates the P/Invoke scanner, instruction analyzer, exception-
// handler analyzer, data-flow analyzer, call-graph consolidation and
// deep-behavior orchestrator over one assembly, and the cross-assembly
// graph builder plus risk propagator over a batch, returning deduplicated
// finding sets. This is the `scan`/`scan-batch` entry point of spec.md §6.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diffsec/clrsentry/internal/callgraph"
	"github.com/diffsec/clrsentry/internal/crossasm"
	"github.com/diffsec/clrsentry/internal/dataflow"
	"github.com/diffsec/clrsentry/internal/deepbehavior"
	"github.com/diffsec/clrsentry/internal/ehscan"
	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/ilreader"
	"github.com/diffsec/clrsentry/internal/instrscan"
	"github.com/diffsec/clrsentry/internal/logger"
	"github.com/diffsec/clrsentry/internal/pinvoke"
	"github.com/diffsec/clrsentry/internal/rules"
	"github.com/diffsec/clrsentry/internal/scanerr"
	"github.com/diffsec/clrsentry/internal/signals"
)

// minAssemblyBytes is spec.md §6's floor for a plausible PE+COFF header.
const minAssemblyBytes = 64

// Options is the subset of spec.md §6's Configuration object the facade
// itself consults; internal/config.Options carries the full document and
// is projected into this shape by cmd callers.
type Options struct {
	AnalyzeExceptionHandlers   bool
	AnalyzeLocalVariables      bool
	MinimumEncodedStringLength int
	DeepAnalysis               deepbehavior.Config
}

// DefaultOptions matches spec.md §6's stated defaults.
func DefaultOptions() Options {
	return Options{
		AnalyzeExceptionHandlers:   true,
		AnalyzeLocalVariables:      true,
		MinimumEncodedStringLength: 10,
		DeepAnalysis:               deepbehavior.DefaultConfig(),
	}
}

// Result bundles one assembly's decoded identity with its deduplicated
// finding set.
type Result struct {
	Assembly *ilmodel.Assembly
	Findings []ilmodel.ScanFinding
}

// ScanFile reads path and scans it (spec.md §6 `scan(assembly-path)`).
func ScanFile(path string, opts Options, log logger.Sink) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scanerr.NewInputError(fmt.Sprintf("read %s", path), err)
	}
	canon, err := filepath.Abs(path)
	if err != nil {
		canon = path
	}
	return ScanBytes(data, canon, opts, log)
}

// ScanBytes scans an in-memory assembly image (spec.md §6
// `scan(assembly-bytes, virtual-path?)`). virtualPath is recorded as the
// finding/location namespace root and need not exist on disk.
func ScanBytes(data []byte, virtualPath string, opts Options, log logger.Sink) (result *Result, err error) {
	if log == nil {
		log = logger.NoopSink{}
	}
	if len(data) < minAssemblyBytes {
		return nil, scanerr.NewInputError("input is empty or truncated (< 64 bytes)", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("internal invariant breach scanning %s: %v", virtualPath, r))
			err = scanerr.NewInvariantBreach(fmt.Sprintf("panic during scan: %v", r))
		}
	}()

	asm, perr := ilreader.Parse(virtualPath, data)
	if perr != nil {
		return nil, scanerr.NewInputError("malformed assembly", perr)
	}
	sum := sha256.Sum256(data)
	asm.SHA256 = hex.EncodeToString(sum[:])
	asm.Path = canonicalizePath(virtualPath)

	reg := rules.DefaultRegistry(opts.MinimumEncodedStringLength)
	tracker := signals.NewTracker()
	cg := callgraph.NewBuilder()

	findings := scanModule(asm.Modules[0], reg, tracker, cg, opts, log)
	return &Result{Assembly: asm, Findings: findings}, nil
}

// scanModule runs passes (1)-(7) of spec.md §4.12 over one decoded module.
func scanModule(mod *ilmodel.Module, reg *rules.Registry, tracker *signals.Tracker, cg *callgraph.Builder, opts Options, log logger.Sink) []ilmodel.ScanFinding {
	var findings []ilmodel.ScanFinding

	// (1) P/Invoke scanner — metadata-only pass, registers suspicious
	// native declarations with the call-graph builder.
	findings = append(findings, pinvoke.Scan(mod, cg)...)

	icfg := instrscan.DefaultConfig()
	icfg.AnalyzeExceptionHandlers = opts.AnalyzeExceptionHandlers
	icfg.AnalyzeLocalVariables = opts.AnalyzeLocalVariables
	analyzer := instrscan.NewAnalyzer(reg, tracker, cg, icfg)

	type methodFindings struct {
		method   *ilmodel.Method
		typeName string
		own      []ilmodel.ScanFinding
	}
	var perMethod []methodFindings

	// (2)+(3)+(4) Instruction analyzer and exception-handler analyzer, one
	// method at a time, in declaration order; a panicking method is
	// recovered and discarded per spec.md §7's per-method propagation
	// policy without aborting the assembly scan.
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			if m.Body == nil {
				continue
			}
			mf := methodFindings{method: m, typeName: t.FullName()}
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.ErrorWithException(fmt.Sprintf("method %s discarded after internal error", m.Key()), fmt.Errorf("%v", r))
					}
				}()
				mf.own = append(mf.own, analyzer.AnalyzeMethod(m)...)
				if opts.AnalyzeExceptionHandlers {
					mf.own = append(mf.own, ehscan.Scan(m)...)
				}
				mf.own = append(mf.own, dataflow.AnalyzeMethod(m)...)
			}()
			perMethod = append(perMethod, mf)
			findings = append(findings, mf.own...)
		}
	}

	// (5) Call-graph consolidation.
	findings = append(findings, cg.BuildCallChains()...)

	// (6) Deep-behavior orchestrator: select candidate methods, cap, run.
	if opts.DeepAnalysis.EnableDeepAnalysis {
		var candidates []deepbehavior.MethodContext
		for _, mf := range perMethod {
			ms := tracker.ForMethod(mf.method.Key())
			ts := tracker.ForType(mf.typeName)
			candidates = append(candidates, deepbehavior.MethodContext{
				Method:       mf.method,
				BaseFindings: mf.own,
				Signals:      ms,
				TypeSignals:  ts,
			})
		}
		selected := deepbehavior.SelectMethods(opts.DeepAnalysis, candidates)
		for _, ctx := range selected {
			findings = append(findings, deepbehavior.Run(opts.DeepAnalysis, ctx)...)
		}
	}

	// (7) Pending-reflection flush — strictly after all non-deferred
	// findings for the assembly (spec.md §5 ordering guarantee).
	findings = append(findings, analyzer.FlushPendingReflections()...)

	return dedupeAndOrder(findings)
}

// dedupeAndOrder applies the spec.md §3 dedupe key and stable (location,
// rule-id) ordering, keeping the first occurrence of each key so the
// pending-reflection-last guarantee survives dedup.
func dedupeAndOrder(findings []ilmodel.ScanFinding) []ilmodel.ScanFinding {
	seen := make(map[string]bool, len(findings))
	out := make([]ilmodel.ScanFinding, 0, len(findings))
	for _, f := range findings {
		key := f.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, oi := out[i].SortKey()
		pj, oj := out[j].SortKey()
		if pi != pj {
			return pi < pj
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// BatchTarget is one assembly to scan as part of a batch, already
// identified with the role the cross-assembly graph needs.
type BatchTarget struct {
	Path string
	Role ilmodel.AssemblyRole
}

// BatchResult bundles per-assembly results with the cross-assembly
// findings the propagator derived from them.
type BatchResult struct {
	PerAssembly         map[string]*Result
	CrossAssemblyFindings []ilmodel.ScanFinding
}

// ScanBatch implements spec.md §6 `scan-batch(paths[], policy)`: runs a
// per-assembly scan over every target, builds the dependency graph, and
// runs the propagator. Per-assembly scan failures are logged as warnings
// (spec.md §7 ResolverError-style handling) and that target is excluded
// from the graph rather than aborting the batch.
func ScanBatch(targets []BatchTarget, opts Options, policy crossasm.Policy, log logger.Sink) (*BatchResult, error) {
	if log == nil {
		log = logger.NoopSink{}
	}
	results := make(map[string]*Result, len(targets))
	var graphTargets []crossasm.Target
	findingsByPath := make(map[string][]ilmodel.ScanFinding, len(targets))

	for _, t := range targets {
		res, err := ScanFile(t.Path, opts, log)
		if err != nil {
			log.Warning(fmt.Sprintf("skipping %s from cross-assembly graph: %v", t.Path, err))
			continue
		}
		canon := canonicalizePath(t.Path)
		results[canon] = res
		findingsByPath[canon] = res.Findings
		graphTargets = append(graphTargets, crossasm.Target{Path: canon, Assembly: res.Assembly, Role: t.Role})
	}

	graph := crossasm.BuildGraph(graphTargets)
	cross := crossasm.Propagate(graph, findingsByPath, policy)

	return &BatchResult{PerAssembly: results, CrossAssemblyFindings: cross}, nil
}

// canonicalizePath mirrors spec.md §9: absolute-path resolution, compared
// case-insensitively for compatibility with Windows-sourced mod folders
// (the Open Questions' chosen policy — see DESIGN.md).
func canonicalizePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return strings.ToLower(filepath.Clean(abs))
}
