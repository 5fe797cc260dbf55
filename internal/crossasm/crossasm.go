// Package crossasm implements the Cross-Assembly Graph Builder (spec.md
// §4.11) and Risk Propagator (spec.md §4.10): given a batch of scanned
// assemblies it builds a dependency graph and propagates high-severity
// findings to callers, callees, or reachable clusters according to a
// quarantine policy.
package crossasm

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// Target is one assembly in a batch scan, keyed for graph construction.
type Target struct {
	Path     string
	Assembly *ilmodel.Assembly
	Role     ilmodel.AssemblyRole
}

// BuildGraph implements spec.md §4.11: a node per target, one Reference
// edge per assembly-reference whose simple name resolves to another target
// in the batch, self-references dropped, edges deduplicated.
func BuildGraph(targets []Target) ilmodel.AssemblyDependencyGraph {
	var graph ilmodel.AssemblyDependencyGraph
	byName := make(map[string]string) // simple name (lower) -> canonical path
	for _, t := range targets {
		canon := canonicalize(t.Path)
		graph.Nodes = append(graph.Nodes, ilmodel.DependencyNode{
			Path: canon,
			Name: simpleName(t.Assembly.Path),
			Role: t.Role,
		})
		byName[strings.ToLower(simpleName(t.Assembly.Path))] = canon
	}
	seenEdges := make(map[string]bool)
	for _, t := range targets {
		canon := canonicalize(t.Path)
		if t.Assembly == nil || len(t.Assembly.Modules) == 0 {
			continue
		}
		for _, mod := range t.Assembly.Modules {
			for _, ref := range mod.AssemblyRefs {
				targetPath, ok := byName[strings.ToLower(ref.Name)]
				if !ok || targetPath == canon {
					continue
				}
				key := canon + "\x1f" + targetPath + "\x1f" + "Reference"
				if seenEdges[key] {
					continue
				}
				seenEdges[key] = true
				graph.Edges = append(graph.Edges, ilmodel.DependencyEdge{
					Source:   canon,
					Target:   targetPath,
					Type:     ilmodel.EdgeReference,
					Evidence: "AssemblyRef:" + ref.Name,
				})
			}
		}
	}
	return graph
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ToLower(filepath.Clean(abs))
}

func simpleName(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// Policy enumerates the quarantine propagation strategies (spec.md §4.10).
type Policy string

const (
	PolicyCallerOnly        Policy = "CallerOnly"
	PolicyCallerAndCallee   Policy = "CallerAndCallee"
	PolicyDependencyCluster Policy = "DependencyCluster"
)

// Propagate implements spec.md §4.10. findingsByPath maps a canonicalized
// assembly path to the findings already produced for that assembly.
func Propagate(graph ilmodel.AssemblyDependencyGraph, findingsByPath map[string][]ilmodel.ScanFinding, policy Policy) []ilmodel.ScanFinding {
	suspicious := suspiciousTargets(findingsByPath)
	if len(suspicious) == 0 {
		return nil
	}
	inbound := make(map[string][]ilmodel.DependencyEdge) // target -> edges pointing at it
	adjacency := make(map[string]map[string]bool)         // undirected view for BFS
	for _, e := range graph.Edges {
		inbound[e.Target] = append(inbound[e.Target], e)
		if adjacency[e.Source] == nil {
			adjacency[e.Source] = make(map[string]bool)
		}
		if adjacency[e.Target] == nil {
			adjacency[e.Target] = make(map[string]bool)
		}
		adjacency[e.Source][e.Target] = true
		adjacency[e.Target][e.Source] = true
	}

	seen := make(map[string]bool)
	var out []ilmodel.ScanFinding
	emit := func(location, description string, severity ilmodel.Severity) {
		key := location + "\x1f" + description
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, ilmodel.ScanFinding{
			Location:    location,
			Description: description,
			Severity:    severity,
			RuleID:      "CrossAssemblyDependency",
		})
	}

	// Deterministic iteration over the suspicious-target set.
	targetsSorted := make([]string, 0, len(suspicious))
	for t := range suspicious {
		targetsSorted = append(targetsSorted, t)
	}
	sort.Strings(targetsSorted)

	for _, target := range targetsSorted {
		edges := inbound[target]
		if len(edges) == 0 {
			continue // "Targets with no inbound edges produce nothing"
		}
		callers := make(map[string]bool)
		for _, e := range edges {
			callers[e.Source] = true // self-loops count as both caller and callee (same edge)
		}
		for caller := range callers {
			emit(caller, "Assembly calls into a high-risk sidecar dependency at "+target, ilmodel.SeverityHigh)
		}
		if policy == PolicyCallerOnly {
			continue
		}
		emit(target, "Actively referenced by a caller in this batch", ilmodel.SeverityHigh)
		if policy != PolicyDependencyCluster {
			continue
		}
		covered := map[string]bool{target: true}
		for c := range callers {
			covered[c] = true
		}
		for _, node := range bfs(adjacency, target) {
			if covered[node] {
				continue
			}
			emit(node, "Reachable from a high-risk sidecar dependency cluster at "+target, ilmodel.SeverityMedium)
		}
	}
	return out
}

func suspiciousTargets(findingsByPath map[string][]ilmodel.ScanFinding) map[string]bool {
	out := make(map[string]bool)
	for path, findings := range findingsByPath {
		for _, f := range findings {
			if f.Severity >= ilmodel.SeverityHigh {
				out[path] = true
				break
			}
		}
	}
	return out
}

func bfs(adjacency map[string]map[string]bool, start string) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		neighbors := make([]string, 0, len(adjacency[node]))
		for n := range adjacency[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return order
}
