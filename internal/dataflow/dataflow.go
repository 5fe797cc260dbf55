// Package dataflow implements the intra-procedural Data-Flow Analyzer
// (spec.md §4.6): it classifies each call instruction in a method as a
// source, transform, sink, or intermediate event and matches the resulting
// ordered sequence against a fixed table of attack-pattern shapes,
// following the teacher's classify-then-pattern-match dataflow analyzer
// shape (internal/analyzer/dataflow.go: classifySource/classifySink plus a
// table of named flow checks).
package dataflow

import (
	"fmt"
	"strings"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/normalize"
)

const ruleID = "DataFlowAnalysis"

// event is one classified instruction within a method's instruction stream.
type event struct {
	kind   ilmodel.DataFlowNodeKind
	label  string
	offset int
	domain string // non-empty when label == "StringSource" and the literal looks like a URL
}

// sourceCalls classifies a callee as a data source (network read, file
// read, resource load, sensitive read).
var sourceCalls = map[string]map[string]string{
	"System.Net.WebClient":          {"DownloadData": "NetworkSource", "DownloadFile": "NetworkSource", "DownloadString": "NetworkSource"},
	"System.Net.Http.HttpClient":    {"GetAsync": "NetworkSource", "GetByteArrayAsync": "NetworkSource", "GetStringAsync": "NetworkSource"},
	"System.IO.File":                {"ReadAllBytes": "FileSource", "ReadAllText": "FileSource", "OpenRead": "FileSource"},
	"Microsoft.Win32.Registry":      {"GetValue": "RegistryRead"},
	"System.Windows.Forms.Clipboard": {"GetText": "SensitiveRead"},
}

// transformCalls classifies a callee as an encoding/decoding/(de)compression
// transform stage.
var transformCalls = map[string]map[string]string{
	"System.Convert":                      {"FromBase64String": "Decode", "ToBase64String": "Encode"},
	"System.Text.Encoding":                {"GetString": "Decode", "GetBytes": "Encode"},
	"System.IO.Compression.GZipStream":    {".ctor": "Decompress"},
	"System.IO.Compression.DeflateStream": {".ctor": "Decompress"},
	"System.Security.Cryptography.Aes":    {"CreateDecryptor": "Decrypt"},
}

// sinkCalls classifies a callee as a sink (file write, process start,
// network send, assembly load).
var sinkCalls = map[string]map[string]string{
	"System.IO.File":             {"WriteAllBytes": "FileWrite", "WriteAllText": "FileWrite"},
	"System.Diagnostics.Process": {"Start": "ProcessStart"},
	"System.Net.WebClient":       {"UploadData": "NetworkSend", "UploadFile": "NetworkSend", "UploadString": "NetworkSend"},
	"System.Net.Http.HttpClient": {"PostAsync": "NetworkSend", "SendAsync": "NetworkSend"},
	"System.Reflection.Assembly": {"Load": "AssemblyLoad", "LoadFrom": "AssemblyLoad", "LoadFile": "AssemblyLoad"},
	"Microsoft.Win32.Registry":   {"SetValue": "RegistryWrite"},
}

// configParseCalls mark a ConfigParse event for the RemoteConfigLoad pattern.
var configParseCalls = map[string]map[string]bool{
	"Newtonsoft.Json.JsonConvert": {"DeserializeObject": true},
	"System.Xml.XmlDocument":      {"LoadXml": true},
}

// AnalyzeMethod classifies method's instruction stream and emits
// DataFlowChain findings for every matched pattern (spec.md §4.6 table).
// Chains span a single method only; values flowing into or out of other
// methods through calls or return values are not tracked.
func AnalyzeMethod(method *ilmodel.Method) []ilmodel.ScanFinding {
	if method == nil || method.Body == nil {
		return nil
	}
	events := classify(method.Body.Instructions)
	if len(events) == 0 {
		return nil
	}
	var out []ilmodel.ScanFinding
	for _, m := range matchPatterns(events) {
		chain := &ilmodel.DataFlowChain{
			ChainID:    fmt.Sprintf("%s#%s#%d", method.Key(), m.pattern, m.nodes[0].offset),
			Pattern:    m.pattern,
			Severity:   m.severity,
			Confidence: m.confidence,
			Methods:    []string{method.Key()},
		}
		var domains []string
		for _, e := range m.nodes {
			chain.Nodes = append(chain.Nodes, ilmodel.DataFlowNode{
				Kind:      e.kind,
				Label:     e.label,
				MethodKey: method.Key(),
				Offset:    e.offset,
			})
			if e.domain != "" {
				domains = append(domains, e.domain)
			}
		}
		description := string(m.pattern) + " data-flow pattern detected"
		if len(domains) > 0 {
			description += " (remote host: " + strings.Join(domains, ", ") + ")"
		}
		out = append(out, ilmodel.ScanFinding{
			Location:      fmt.Sprintf("%s:%d", method.Key(), m.nodes[0].offset),
			Offset:        m.nodes[0].offset,
			Description:   description,
			Severity:      m.severity,
			RuleID:        ruleID,
			DataFlowChain: chain,
		})
	}
	return out
}

func classify(instructions []ilmodel.Instruction) []event {
	var events []event
	for _, in := range instructions {
		if in.Opcode == ilmodel.OpLdstr && in.Operand.HasString {
			ev := event{kind: ilmodel.FlowSource, label: "StringSource", offset: in.Offset}
			if domains := normalize.ExtractDomains(in.Operand.StringLit); len(domains) > 0 {
				ev.domain = domains[0]
			}
			events = append(events, ev)
			continue
		}
		if (in.Opcode != ilmodel.OpCall && in.Opcode != ilmodel.OpCallvirt && in.Opcode != ilmodel.OpNewobj) || !in.Operand.HasMethodRef {
			continue
		}
		ref := in.Operand.MethodRef
		if labels, ok := sourceCalls[ref.DeclaringType]; ok {
			if label, ok := labels[ref.Name]; ok {
				events = append(events, event{kind: ilmodel.FlowSource, label: label, offset: in.Offset})
				continue
			}
		}
		if labels, ok := transformCalls[ref.DeclaringType]; ok {
			if label, ok := labels[ref.Name]; ok {
				events = append(events, event{kind: ilmodel.FlowTransform, label: label, offset: in.Offset})
				continue
			}
		}
		if labels, ok := sinkCalls[ref.DeclaringType]; ok {
			if label, ok := labels[ref.Name]; ok {
				events = append(events, event{kind: ilmodel.FlowSink, label: label, offset: in.Offset})
				continue
			}
		}
		if members, ok := configParseCalls[ref.DeclaringType]; ok && members[ref.Name] {
			events = append(events, event{kind: ilmodel.FlowSink, label: "ConfigParse", offset: in.Offset})
		}
	}
	return events
}

type match struct {
	pattern    ilmodel.DataFlowPattern
	severity   ilmodel.Severity
	confidence float64
	nodes      []event
}

// matchPatterns scans the classified event sequence for each pattern's
// required ordered-event shape (spec.md §4.6 table); a chain with only a
// sink and no source never matches since every pattern requires ≥1 source
// or transform-producing-read event first.
func matchPatterns(events []event) []match {
	var out []match
	if e, ok := findDownloadAndExecute(events); ok {
		out = append(out, match{pattern: ilmodel.PatternDownloadAndExecute, severity: ilmodel.SeverityCritical, confidence: 0.85, nodes: e})
	}
	if e, ok := findSeq(events, anyOf("SensitiveRead", "RegistryRead"), "NetworkSend"); ok {
		out = append(out, match{pattern: ilmodel.PatternDataExfiltration, severity: ilmodel.SeverityHigh, confidence: 0.75, nodes: e})
	}
	if e, ok := findSeq(events, anyOf("StringSource", "Decode"), "AssemblyLoad"); ok {
		out = append(out, match{pattern: ilmodel.PatternDynamicCodeLoading, severity: ilmodel.SeverityHigh, confidence: 0.75, nodes: e})
	}
	if e, ok := findSeq(events, anyOf("RegistryRead", "SensitiveRead"), anyOf("Encode", "Decode"), "NetworkSend"); ok {
		out = append(out, match{pattern: ilmodel.PatternCredentialTheft, severity: ilmodel.SeverityCritical, confidence: 0.85, nodes: e})
	}
	if e, ok := findSeq(events, "NetworkSource", "ConfigParse"); ok {
		out = append(out, match{pattern: ilmodel.PatternRemoteConfigLoad, severity: ilmodel.SeverityMedium, confidence: 0.55, nodes: e})
	}
	if e, ok := findSeq(events, anyOf("Encode", "Decode"), "RegistryWrite"); ok {
		out = append(out, match{pattern: ilmodel.PatternObfuscatedPersistence, severity: ilmodel.SeverityHigh, confidence: 0.65, nodes: e})
	}
	return out
}

// findDownloadAndExecute matches the DownloadAndExecute shape with its
// optional transform stage: NetworkSource -> (Transform)? -> FileWrite ->
// ProcessStart/AssemblyLoad. The optional transform is included in the
// returned nodes whenever present so the resulting chain reflects the full
// observed staging, not just the required anchors.
func findDownloadAndExecute(events []event) ([]event, bool) {
	srcIdx := -1
	for i, e := range events {
		if e.label == "NetworkSource" {
			srcIdx = i
			break
		}
	}
	if srcIdx < 0 {
		return nil, false
	}
	matched := []event{events[srcIdx]}
	idx := srcIdx + 1
	for ; idx < len(events); idx++ {
		if events[idx].label == "FileWrite" {
			break
		}
		if events[idx].kind == ilmodel.FlowTransform {
			matched = append(matched, events[idx])
			idx++
			break
		}
	}
	fwIdx := -1
	for i := idx; i < len(events); i++ {
		if events[i].label == "FileWrite" {
			fwIdx = i
			break
		}
	}
	if fwIdx < 0 {
		return nil, false
	}
	matched = append(matched, events[fwIdx])
	for i := fwIdx + 1; i < len(events); i++ {
		if events[i].label == "ProcessStart" || events[i].label == "AssemblyLoad" {
			matched = append(matched, events[i])
			return matched, true
		}
	}
	return nil, false
}

// anyOf is a small set-literal used by findSeq to match one of several
// acceptable labels at a given position in the sequence.
func anyOf(labels ...string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return m
}

// findSeq reports whether events contains, in order (not necessarily
// contiguous), a subsequence matching each wanted label/label-set, and
// returns the matched events.
func findSeq(events []event, wanted ...interface{}) ([]event, bool) {
	matched := make([]event, 0, len(wanted))
	idx := 0
	for _, w := range wanted {
		found := false
		for ; idx < len(events); idx++ {
			if labelMatches(events[idx].label, w) {
				matched = append(matched, events[idx])
				idx++
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return matched, true
}

func labelMatches(label string, want interface{}) bool {
	switch w := want.(type) {
	case string:
		return label == w
	case map[string]bool:
		return w[label]
	default:
		return false
	}
}
