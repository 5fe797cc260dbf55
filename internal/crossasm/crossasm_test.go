package crossasm

import (
	"strings"
	"testing"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

func graphOf(callerPath, targetPath string) ilmodel.AssemblyDependencyGraph {
	caller := canonicalize(callerPath)
	target := canonicalize(targetPath)
	return ilmodel.AssemblyDependencyGraph{
		Nodes: []ilmodel.DependencyNode{{Path: caller}, {Path: target}},
		Edges: []ilmodel.DependencyEdge{{Source: caller, Target: target, Type: ilmodel.EdgeReference}},
	}
}

// CallerOnly flags only the caller, with a description that literally
// mentions "calls into" (spec.md S6).
func TestPropagate_CallerOnly_MentionsCallsInto(t *testing.T) {
	graph := graphOf("caller.dll", "sidecar.dll")
	target := canonicalize("sidecar.dll")
	findings := Propagate(graph, map[string][]ilmodel.ScanFinding{
		target: {{Severity: ilmodel.SeverityHigh}},
	}, PolicyCallerOnly)

	if len(findings) != 1 {
		t.Fatalf("expected exactly 1 finding under CallerOnly, got %d", len(findings))
	}
	if !strings.Contains(findings[0].Description, "calls into") {
		t.Fatalf("expected description to mention 'calls into', got %q", findings[0].Description)
	}
	if findings[0].Location != canonicalize("caller.dll") {
		t.Fatalf("expected the finding to be located at the caller, got %s", findings[0].Location)
	}
}

// CallerAndCallee additionally flags the target itself.
func TestPropagate_CallerAndCallee_FlagsBoth(t *testing.T) {
	graph := graphOf("caller.dll", "sidecar.dll")
	target := canonicalize("sidecar.dll")
	caller := canonicalize("caller.dll")
	findings := Propagate(graph, map[string][]ilmodel.ScanFinding{
		target: {{Severity: ilmodel.SeverityCritical}},
	}, PolicyCallerAndCallee)

	locations := map[string]bool{}
	for _, f := range findings {
		locations[f.Location] = true
	}
	if !locations[caller] || !locations[target] {
		t.Fatalf("expected both caller and callee flagged, got %+v", findings)
	}
}

// A target with no inbound edges produces nothing, regardless of policy.
func TestPropagate_NoInboundEdgesProducesNothing(t *testing.T) {
	target := canonicalize("lonely.dll")
	graph := ilmodel.AssemblyDependencyGraph{Nodes: []ilmodel.DependencyNode{{Path: target}}}
	findings := Propagate(graph, map[string][]ilmodel.ScanFinding{
		target: {{Severity: ilmodel.SeverityCritical}},
	}, PolicyDependencyCluster)
	if len(findings) != 0 {
		t.Fatalf("expected no findings for a target with no inbound edges, got %d", len(findings))
	}
}

// DependencyCluster reaches further callers via BFS over the undirected
// graph view.
func TestPropagate_DependencyCluster_ReachesTransitiveNode(t *testing.T) {
	a, b, c := canonicalize("a.dll"), canonicalize("b.dll"), canonicalize("c.dll")
	graph := ilmodel.AssemblyDependencyGraph{
		Edges: []ilmodel.DependencyEdge{
			{Source: a, Target: b, Type: ilmodel.EdgeReference},
			{Source: b, Target: c, Type: ilmodel.EdgeReference},
		},
	}
	findings := Propagate(graph, map[string][]ilmodel.ScanFinding{
		b: {{Severity: ilmodel.SeverityHigh}},
	}, PolicyDependencyCluster)

	locations := map[string]bool{}
	for _, f := range findings {
		locations[f.Location] = true
	}
	if !locations[c] {
		t.Fatalf("expected the transitively-reachable node c to be flagged, got %+v", findings)
	}
}

func TestPropagate_NoSuspiciousFindingsProducesNothing(t *testing.T) {
	graph := graphOf("caller.dll", "sidecar.dll")
	target := canonicalize("sidecar.dll")
	findings := Propagate(graph, map[string][]ilmodel.ScanFinding{
		target: {{Severity: ilmodel.SeverityLow}},
	}, PolicyCallerAndCallee)
	if len(findings) != 0 {
		t.Fatalf("expected no propagation below High severity, got %d", len(findings))
	}
}
