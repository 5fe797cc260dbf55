// Package taxonomy maps a rule id to its MITRE ATT&CK technique(s) and CWE
// id(s), trimmed from the teacher's weakness taxonomy (internal/taxonomy:
// Kingdom/Category entries loaded from a directory of YAML files, each
// carrying compliance mappings) down to the single compliance dimension
// spec.md's developer-guidance findings actually need: a static, in-binary
// table, since clrsentry ships no on-disk taxonomy directory of its own.
package taxonomy

// Entry is the compliance mapping attached to one rule id.
type Entry struct {
	MitreAttack []string
	CWE         []string
}

// catalog is keyed by rules.Rule.ID. Technique ids follow the MITRE ATT&CK
// Enterprise matrix; CWE ids follow the MITRE CWE list.
var catalog = map[string]Entry{
	"Base64Rule":                {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-506"}},
	"ProcessStartRule":          {MitreAttack: []string{"T1059"}, CWE: []string{"CWE-78"}},
	"Shell32Rule":               {MitreAttack: []string{"T1059", "T1218"}, CWE: []string{"CWE-78"}},
	"AssemblyDynamicLoadRule":   {MitreAttack: []string{"T1620"}, CWE: []string{"CWE-494"}},
	"ByteArrayManipulationRule": {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-506"}},
	"DllImportRule":             {MitreAttack: []string{"T1106", "T1055"}, CWE: []string{"CWE-829"}},
	"RegistryRule":              {MitreAttack: []string{"T1112", "T1547.001"}, CWE: []string{"CWE-506"}},
	"EncodedStringLiteralRule":  {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-506"}},
	"ReflectionRule":            {MitreAttack: []string{"T1055", "T1620"}, CWE: []string{"CWE-470"}},
	"EnvironmentPathRule":       {MitreAttack: []string{"T1574.007"}, CWE: []string{"CWE-426"}},
	"EncodedStringPipelineRule": {MitreAttack: []string{"T1027", "T1140"}, CWE: []string{"CWE-506"}},
	"EncodedBlobSplittingRule":  {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-506"}},
	"COMReflectionAttackRule":   {MitreAttack: []string{"T1559.001", "T1055"}, CWE: []string{"CWE-470"}},
	"DataExfiltrationRule":      {MitreAttack: []string{"T1041"}, CWE: []string{"CWE-200"}},
	"DataInfiltrationRule":      {MitreAttack: []string{"T1105"}, CWE: []string{"CWE-494"}},
	"PersistenceRule":           {MitreAttack: []string{"T1547.001"}, CWE: []string{"CWE-506"}},
	"HexStringRule":             {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-506"}},
	"SuspiciousLocalVariableRule": {MitreAttack: []string{"T1059"}, CWE: []string{"CWE-78"}},
	"UnicodeSmugglingRule":      {MitreAttack: []string{"T1027"}, CWE: []string{"CWE-838"}},
	"DataFlowAnalysis":          {MitreAttack: []string{"T1105", "T1041"}, CWE: []string{"CWE-200"}},
}

// Lookup returns the compliance mapping for ruleID, if any.
func Lookup(ruleID string) (Entry, bool) {
	e, ok := catalog[ruleID]
	return e, ok
}
