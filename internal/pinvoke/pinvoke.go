// Package pinvoke implements the P/Invoke Scanner (spec.md §4.4): a
// metadata-only pass that walks every native-import method declaration in a
// module and either registers it with the Call-Graph Builder for
// consolidation, or emits a standalone declaration finding.
package pinvoke

import (
	"fmt"
	"strings"

	"github.com/diffsec/clrsentry/internal/callgraph"
	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// suspiciousImports maps a lower-cased DLL name to the set of entry points
// within it considered suspicious by name pattern (spec.md §4.4:
// "kernel32.VirtualAlloc, shell32.ShellExecute, user32.SetWindowsHookEx,
// etc."), mirroring internal/rules' DllImportRule table but scoped to the
// declaration-time pass rather than call-site dispatch.
var suspiciousImports = map[string]map[string]bool{
	"kernel32.dll": {
		"virtualalloc": true, "virtualallocex": true, "virtualprotect": true,
		"writeprocessmemory": true, "createremotethread": true,
		"loadlibrarya": true, "loadlibraryw": true, "getprocaddress": true,
		"createthread": true,
	},
	"shell32.dll": {"shellexecutea": true, "shellexecutew": true, "shellexecuteexa": true, "shellexecuteexw": true},
	"user32.dll":  {"setwindowshookexa": true, "setwindowshookexw": true, "getasynckeystate": true},
	"ntdll.dll":   {"ntcreatethreadex": true, "zwcreatethreadex": true, "ntunmapviewofsection": true},
	"advapi32.dll": {"cryptencrypt": true, "cryptdecrypt": true, "openprocesstoken": true, "adjusttokenprivileges": true},
}

// Scan walks every method of module looking for ImplMap (native) imports. It
// registers suspicious declarations with builder (for later call-site
// consolidation) and returns standalone findings for declarations the
// caller never needs to consolidate (when builder is nil).
func Scan(module *ilmodel.Module, builder *callgraph.Builder) []ilmodel.ScanFinding {
	var standalone []ilmodel.ScanFinding
	for _, t := range module.Types {
		for _, m := range t.Methods {
			if m.PInvoke == nil {
				continue
			}
			dll := strings.ToLower(m.PInvoke.DLLName)
			entry := strings.ToLower(m.PInvoke.EntryPoint)
			if entry == "" {
				entry = strings.ToLower(m.Name)
			}
			names, ok := suspiciousImports[dll]
			if !ok || !names[entry] {
				continue
			}
			ruleID, severity := "DllImportRule", ilmodel.SeverityHigh
			if dll == "shell32.dll" {
				ruleID, severity = "Shell32Rule", ilmodel.SeverityCritical
			}
			desc := fmt.Sprintf("Native import %s!%s declared", m.PInvoke.DLLName, m.PInvoke.EntryPoint)
			decl := callgraph.Declaration{
				RuleID:      ruleID,
				Description: desc,
				Severity:    severity,
				Snippet:     desc,
			}
			if builder != nil {
				builder.RegisterSuspiciousDeclaration(m.Key(), decl)
				continue
			}
			standalone = append(standalone, ilmodel.ScanFinding{
				Location:    m.Key(),
				Description: desc,
				Severity:    severity,
				RuleID:      ruleID,
				Snippet:     desc,
			})
		}
	}
	return standalone
}
