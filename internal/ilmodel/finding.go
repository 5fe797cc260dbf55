package ilmodel

import (
	"fmt"
	"strings"
)

// ScanFinding is a single result emitted by a rule or analyzer. It is the
// shared currency between every analysis layer (§3 Data Model).
type ScanFinding struct {
	Location        string // "{Type}.{Method}:{offset}" or a bare path
	Offset          int    // the numeric offset Location's suffix encodes, 0 if Location carries none
	Description     string
	Severity        Severity
	RuleID          string
	Snippet         string // optional instruction-window snippet
	CallChain       *CallChain
	DataFlowChain   *DataFlowChain
	BypassCompanion bool
	RiskScore       float64 // optional, 0 when unset
}

// DedupeKey is the stable string used to deduplicate findings per spec.md §3:
// "(rule-id, location, description, severity)".
func (f ScanFinding) DedupeKey() string {
	return f.RuleID + "\x1f" + f.Location + "\x1f" + f.Description + "\x1f" + f.Severity.String()
}

// SortKey returns the (type.method, offset) pair spec.md §5 orders findings
// by: a numeric offset compared as a number, not as a string suffix of
// Location (where, e.g., ":25" sorts before ":3" lexicographically).
func (f ScanFinding) SortKey() (string, int) {
	prefix := strings.TrimSuffix(f.Location, fmt.Sprintf(":%d", f.Offset))
	return prefix, f.Offset
}

// CallChainNodeKind enumerates the node roles in a consolidated CallChain.
type CallChainNodeKind int

const (
	NodeEntryPoint CallChainNodeKind = iota
	NodeIntermediateCall
	NodeSuspiciousDeclaration
)

// CallChainNode is one hop of a consolidated call chain.
type CallChainNode struct {
	Kind       CallChainNodeKind
	MethodKey  string
	Offset     int
}

// CallChain is the consolidated path from an entry point to a suspicious
// declaration (native import or otherwise gated call), produced by the
// Call-Graph Builder (§4.5).
type CallChain struct {
	ChainID string
	RuleID  string
	Summary string
	Severity Severity
	Nodes   []CallChainNode
}

// DataFlowPattern enumerates the known attack-pattern shapes (§4.6).
type DataFlowPattern string

const (
	PatternDownloadAndExecute  DataFlowPattern = "DownloadAndExecute"
	PatternDataExfiltration    DataFlowPattern = "DataExfiltration"
	PatternDynamicCodeLoading  DataFlowPattern = "DynamicCodeLoading"
	PatternCredentialTheft     DataFlowPattern = "CredentialTheft"
	PatternRemoteConfigLoad    DataFlowPattern = "RemoteConfigLoad"
	PatternObfuscatedPersistence DataFlowPattern = "ObfuscatedPersistence"
)

// DataFlowNodeKind enumerates the classified event kinds in a DataFlowChain.
type DataFlowNodeKind int

const (
	FlowSource DataFlowNodeKind = iota
	FlowTransform
	FlowSink
	FlowIntermediate
)

// DataFlowNode is one classified event in a data-flow chain.
type DataFlowNode struct {
	Kind      DataFlowNodeKind
	Label     string // e.g. "NetworkSource", "Decode", "FileWrite"
	MethodKey string
	Offset    int
}

// DataFlowChain is an ordered sequence of classified events matching one of
// the known attack patterns (§4.6).
type DataFlowChain struct {
	ChainID      string
	Pattern      DataFlowPattern
	Severity     Severity
	Confidence   float64
	Nodes        []DataFlowNode
	CrossMethod  bool
	Methods      []string
}

// DependencyEdgeType enumerates cross-assembly edge kinds (§4.11).
type DependencyEdgeType int

const (
	EdgeReference DependencyEdgeType = iota
	EdgeCallEvidence
	EdgeResourceLoad
)

// AssemblyRole enumerates the role a target plays in a batch scan.
type AssemblyRole string

const (
	RoleMod     AssemblyRole = "Mod"
	RolePlugin  AssemblyRole = "Plugin"
	RoleUserLib AssemblyRole = "UserLib"
	RolePatcher AssemblyRole = "Patcher"
)

// DependencyNode is one assembly in the cross-assembly dependency graph.
type DependencyNode struct {
	Path string // canonicalized absolute path
	Name string // simple assembly name
	Role AssemblyRole
}

// DependencyEdge is one directed edge in the cross-assembly dependency graph.
type DependencyEdge struct {
	Source   string // canonicalized path
	Target   string // canonicalized path
	Type     DependencyEdgeType
	Evidence string
}

// AssemblyDependencyGraph is the batch-scan dependency graph (§4.11),
// consumed by the Cross-Assembly Risk Propagator (§4.10).
type AssemblyDependencyGraph struct {
	Nodes []DependencyNode
	Edges []DependencyEdge
}
