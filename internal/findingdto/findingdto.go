// Package findingdto defines the ScanResult v1.0.0 JSON document (spec.md
// §6 "Result JSON schema") and the conversion from the engine's internal
// ilmodel.ScanFinding slice into it.
package findingdto

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

const SchemaVersion = "1.0.0"

// Metadata describes the scan run itself.
type Metadata struct {
	CoreVersion     string    `json:"coreVersion"`
	PlatformVersion string    `json:"platformVersion"`
	Timestamp       time.Time `json:"timestamp"`
	ScanMode        string    `json:"scanMode"`
	Platform        string    `json:"platform"`
}

// Input describes the scanned artifact.
type Input struct {
	FileName   string `json:"fileName"`
	SizeBytes  int64  `json:"sizeBytes"`
	SHA256Hash string `json:"sha256Hash"`
}

// Summary aggregates the finding set.
type Summary struct {
	TotalFindings  int            `json:"totalFindings"`
	CountBySeverity map[string]int `json:"countBySeverity"`
	TriggeredRules []string       `json:"triggeredRules"`
}

// CallChainDto is the JSON projection of ilmodel.CallChain.
type CallChainDto struct {
	ChainID  string   `json:"chainId"`
	RuleID   string   `json:"ruleId"`
	Summary  string   `json:"summary"`
	Severity string   `json:"severity"`
	Nodes    []string `json:"nodes"`
}

// DataFlowChainDto is the JSON projection of ilmodel.DataFlowChain.
type DataFlowChainDto struct {
	ChainID    string   `json:"chainId"`
	Pattern    string   `json:"pattern"`
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
	Nodes      []string `json:"nodes"`
	CrossMethod bool    `json:"crossMethod"`
	Methods    []string `json:"methods"`
}

// FindingDto is one finding as rendered to JSON, with a random id (spec.md
// §6: "id (random identifier)").
type FindingDto struct {
	ID            string            `json:"id"`
	RuleID        string            `json:"ruleId"`
	Description   string            `json:"description"`
	Severity      string            `json:"severity"`
	Location      string            `json:"location"`
	CodeSnippet   string            `json:"codeSnippet,omitempty"`
	CallChain     *CallChainDto     `json:"callChain,omitempty"`
	DataFlowChain *DataFlowChainDto `json:"dataFlowChain,omitempty"`
}

// DeveloperGuidanceDto is one deduplicated remediation entry.
type DeveloperGuidanceDto struct {
	RuleID          string   `json:"ruleId"`
	Remediation     string   `json:"remediation"`
	DocURL          string   `json:"docUrl,omitempty"`
	AlternativeAPIs []string `json:"alternativeApis,omitempty"`
	IsRemediable    bool     `json:"isRemediable"`
	MitreAttack     []string `json:"mitreAttack,omitempty"`
	CWE             []string `json:"cwe,omitempty"`
}

// ScanResult is the top-level v1.0.0 document.
type ScanResult struct {
	SchemaVersion     string                 `json:"schemaVersion"`
	Metadata          Metadata               `json:"metadata"`
	Input             Input                  `json:"input"`
	Summary           Summary                `json:"summary"`
	Findings          []FindingDto           `json:"findings"`
	CallChains        []CallChainDto         `json:"callChains,omitempty"`
	DataFlows         []DataFlowChainDto      `json:"dataFlows,omitempty"`
	DeveloperGuidance []DeveloperGuidanceDto  `json:"developerGuidance,omitempty"`
}

// Guidance is the per-rule remediation data a caller supplies for the
// DeveloperGuidance section (sourced from internal/rules' catalog, optionally
// enriched with internal/taxonomy's MITRE ATT&CK/CWE mapping).
type Guidance struct {
	RuleID          string
	Remediation     string
	DocURL          string
	AlternativeAPIs []string
	IsRemediable    bool
	MitreAttack     []string
	CWE             []string
}

// Build converts an internal finding set into a ScanResult v1.0.0 document.
func Build(meta Metadata, input Input, findings []ilmodel.ScanFinding, guidance map[string]Guidance) ScanResult {
	sorted := make([]ilmodel.ScanFinding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		pi, oi := sorted[i].SortKey()
		pj, oj := sorted[j].SortKey()
		if pi != pj {
			return pi < pj
		}
		if oi != oj {
			return oi < oj
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	result := ScanResult{SchemaVersion: SchemaVersion, Metadata: meta, Input: input}
	countBySeverity := make(map[string]int)
	triggeredSet := make(map[string]bool)
	seenGuidance := make(map[string]bool)

	for _, f := range sorted {
		dto := FindingDto{
			ID:          uuid.NewString(),
			RuleID:      f.RuleID,
			Description: f.Description,
			Severity:    f.Severity.String(),
			Location:    f.Location,
			CodeSnippet: f.Snippet,
		}
		if f.CallChain != nil {
			cc := toCallChainDto(f.CallChain)
			dto.CallChain = &cc
			result.CallChains = append(result.CallChains, cc)
		}
		if f.DataFlowChain != nil {
			df := toDataFlowChainDto(f.DataFlowChain)
			dto.DataFlowChain = &df
			result.DataFlows = append(result.DataFlows, df)
		}
		result.Findings = append(result.Findings, dto)
		countBySeverity[f.Severity.String()]++
		triggeredSet[f.RuleID] = true

		if g, ok := guidance[f.RuleID]; ok && !seenGuidance[g.Remediation] {
			seenGuidance[g.Remediation] = true
			result.DeveloperGuidance = append(result.DeveloperGuidance, DeveloperGuidanceDto{
				RuleID: g.RuleID, Remediation: g.Remediation, DocURL: g.DocURL,
				AlternativeAPIs: g.AlternativeAPIs, IsRemediable: g.IsRemediable,
				MitreAttack: g.MitreAttack, CWE: g.CWE,
			})
		}
	}

	triggered := make([]string, 0, len(triggeredSet))
	for id := range triggeredSet {
		triggered = append(triggered, id)
	}
	sort.Strings(triggered)

	result.Summary = Summary{
		TotalFindings:   len(result.Findings),
		CountBySeverity: countBySeverity,
		TriggeredRules:  triggered,
	}
	return result
}

func toCallChainDto(c *ilmodel.CallChain) CallChainDto {
	nodes := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, n.MethodKey)
	}
	return CallChainDto{ChainID: c.ChainID, RuleID: c.RuleID, Summary: c.Summary, Severity: c.Severity.String(), Nodes: nodes}
}

func toDataFlowChainDto(c *ilmodel.DataFlowChain) DataFlowChainDto {
	nodes := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, n.Label)
	}
	return DataFlowChainDto{
		ChainID: c.ChainID, Pattern: string(c.Pattern), Severity: c.Severity.String(),
		Confidence: c.Confidence, Nodes: nodes, CrossMethod: c.CrossMethod, Methods: c.Methods,
	}
}
