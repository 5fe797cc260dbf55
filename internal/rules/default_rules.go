package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/redact"
	"github.com/diffsec/clrsentry/internal/signals"
	"github.com/diffsec/clrsentry/internal/unicode"
)

// DefaultMinEncodedStringLength is the default "minimum-encoded-string-length"
// configuration value (spec.md §6, §9).
const DefaultMinEncodedStringLength = 10

// DefaultRegistry builds the built-in rule set in spec.md's GLOSSARY order:
// Base64, ProcessStart, Shell32, AssemblyDynamicLoad, ByteArrayManipulation,
// DllImport, Registry, EncodedStringLiteral, Reflection, EnvironmentPath,
// EncodedStringPipeline, EncodedBlobSplitting, COMReflectionAttack,
// DataExfiltration, DataInfiltration, Persistence, HexString,
// SuspiciousLocalVariable, UnicodeSmuggling.
func DefaultRegistry(minEncodedLen int) *Registry {
	if minEncodedLen <= 0 {
		minEncodedLen = DefaultMinEncodedStringLength
	}
	return NewRegistry([]Rule{
		base64Rule(),
		processStartRule(),
		shell32Rule(),
		assemblyDynamicLoadRule(),
		byteArrayManipulationRule(),
		dllImportRule(),
		registryRule(),
		encodedStringLiteralRule(minEncodedLen),
		reflectionRule(),
		environmentPathRule(),
		encodedStringPipelineRule(),
		encodedBlobSplittingRule(minEncodedLen),
		comReflectionAttackRule(),
		dataExfiltrationRule(),
		dataInfiltrationRule(),
		persistenceRule(),
		hexStringRule(),
		suspiciousLocalVariableRule(),
		unicodeSmugglingRule(),
	})
}

// ---------------------------------------------------------------------------
// Call-site rules
// ---------------------------------------------------------------------------

func base64Rule() Rule {
	return Rule{
		ID:                "Base64Rule",
		Severity:          ilmodel.SeverityMedium,
		RequiresCompanion: true,
		Description:       "Base64-encoded string literal detected; may hide a payload, URL, or command.",
		Guidance: &DeveloperGuidance{
			Remediation:  "Avoid embedding encoded payloads; load configuration or assets from signed, versioned resources instead.",
			IsRemediable: true,
		},
		AnalyzeStringLiteral: func(literal, methodKey string, offset int) []ilmodel.ScanFinding {
			if !looksLikeBase64(literal) {
				return nil
			}
			return []ilmodel.ScanFinding{{
				Location:    locationFor(methodKey, offset),
				Offset:      offset,
				Description: "Base64-encoded string literal detected",
				Severity:    ilmodel.SeverityMedium,
				RuleID:      "Base64Rule",
			}}
		},
	}
}

func processStartRule() Rule {
	return Rule{
		ID:                "ProcessStartRule",
		Severity:          ilmodel.SeverityCritical,
		RequiresCompanion: false,
		Description:       "Process.Start invoked; may launch a command/script host or persistence payload.",
		Guidance: &DeveloperGuidance{
			Remediation: "Avoid shelling out from a mod; if launching a helper process is required, use an explicit allow-listed path with no shell interpretation.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			return callee != nil && callee.DeclaringType == "System.Diagnostics.Process" && callee.Name == "Start"
		},
		ShouldSuppress: suppressProcessStart,
	}
}

func shell32Rule() Rule {
	return Rule{
		ID:                "Shell32Rule",
		Severity:          ilmodel.SeverityCritical,
		RequiresCompanion: false,
		Description:       "Native import from shell32.dll detected; commonly used to launch processes or documents via ShellExecute.",
		Guidance: &DeveloperGuidance{
			Remediation: "Use managed process-launch APIs with explicit arguments instead of ShellExecute-family natives.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			return callee != nil && strings.EqualFold(callee.DeclaringType, "shell32.dll")
		},
	}
}

func assemblyDynamicLoadRule() Rule {
	loadMethods := map[string]bool{"Load": true, "LoadFile": true, "LoadFrom": true, "UnsafeLoadFrom": true, "LoadModule": true, "ReflectionOnlyLoad": true}
	return Rule{
		ID:                "AssemblyDynamicLoadRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "Dynamic assembly load detected; may load an unmanaged or unsigned payload at runtime.",
		Guidance: &DeveloperGuidance{
			Remediation: "Reference dependencies statically; if dynamic loading is unavoidable, verify a strong-name or hash before loading.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			return callee != nil && callee.DeclaringType == "System.Reflection.Assembly" && loadMethods[callee.Name]
		},
	}
}

func byteArrayManipulationRule() Rule {
	methods := map[string]map[string]bool{
		"System.Array":  {"Copy": true, "Reverse": true},
		"System.Buffer": {"BlockCopy": true, "MemoryCopy": true},
		"System.Convert": {"ToByte": true},
	}
	return Rule{
		ID:                "ByteArrayManipulationRule",
		Severity:          ilmodel.SeverityLow,
		RequiresCompanion: true,
		Description:       "Byte-array manipulation detected; ubiquitous on its own, a signal when combined with other findings.",
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			if callee == nil {
				return false
			}
			m, ok := methods[callee.DeclaringType]
			return ok && m[callee.Name]
		},
	}
}

func dllImportRule() Rule {
	suspicious := map[string]map[string]bool{
		"kernel32.dll": {
			"VirtualAlloc": true, "VirtualProtect": true, "WriteProcessMemory": true,
			"CreateRemoteThread": true, "LoadLibraryA": true, "LoadLibraryW": true,
			"GetProcAddress": true, "CreateThread": true, "VirtualAllocEx": true,
		},
		"user32.dll": {"SetWindowsHookExA": true, "SetWindowsHookExW": true, "GetAsyncKeyState": true, "GetForegroundWindow": true},
		"ntdll.dll":  {"NtCreateThreadEx": true, "ZwCreateThreadEx": true, "NtUnmapViewOfSection": true},
		"advapi32.dll": {"CryptEncrypt": true, "CryptDecrypt": true, "OpenProcessToken": true, "AdjustTokenPrivileges": true},
	}
	return Rule{
		ID:                "DllImportRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "Native import of a process-injection or credential-access primitive.",
		Guidance: &DeveloperGuidance{
			Remediation: "Remove the native import; Unity mods have no legitimate need for process memory or thread injection primitives.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			if callee == nil {
				return false
			}
			dll := strings.ToLower(callee.DeclaringType)
			m, ok := suspicious[dll]
			return ok && m[callee.Name]
		},
	}
}

func registryRule() Rule {
	return Rule{
		ID:                "RegistryRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "Registry write detected; commonly used for persistence (Run keys) or configuration tampering.",
		Guidance: &DeveloperGuidance{
			Remediation: "Persist mod settings to the Unity PlayerPrefs or a local file instead of the Windows registry.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			return callee != nil &&
				strings.HasPrefix(callee.DeclaringType, "Microsoft.Win32.Registry") &&
				(callee.Name == "SetValue" || callee.Name == "CreateSubKey" || callee.Name == "DeleteValue")
		},
	}
}

func encodedStringLiteralRule(minLen int) Rule {
	return Rule{
		ID:                "EncodedStringLiteralRule",
		Severity:          ilmodel.SeverityLow,
		RequiresCompanion: true,
		Description:       "Long literal resembling an encoded payload detected.",
		AnalyzeStringLiteral: func(literal, methodKey string, offset int) []ilmodel.ScanFinding {
			if len(literal) < minLen {
				return nil
			}
			if !looksLikeBase64(literal) && !looksLikeHex(literal) && !looksLikeNumericSegments(literal, minLen) {
				return nil
			}
			return []ilmodel.ScanFinding{{
				Location:    locationFor(methodKey, offset),
				Offset:      offset,
				Description: "Literal resembling an encoded payload detected",
				Severity:    ilmodel.SeverityLow,
				RuleID:      "EncodedStringLiteralRule",
			}}
		},
	}
}

func reflectionRule() Rule {
	return Rule{
		ID:                "ReflectionRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: true,
		Description:       "Reflection-based invocation detected; may dynamically dispatch to a hidden payload method.",
		Guidance: &DeveloperGuidance{
			Remediation: "Call the target method directly; if a plugin architecture is required, dispatch through an explicit, typed interface.",
		},
		IsSuspicious: IsReflectionInvoke,
	}
}

// IsReflectionInvoke reports whether callee is a reflection-based dynamic
// dispatch call. Exported so internal/instrscan can special-case it per
// spec.md §4.3 step 4 (deferred emission pending a strong companion).
func IsReflectionInvoke(callee *ilmodel.MethodRef) bool {
	if callee == nil {
		return false
	}
	switch {
	case callee.DeclaringType == "System.Reflection.MethodBase" && callee.Name == "Invoke":
		return true
	case callee.DeclaringType == "System.Reflection.MethodInfo" && callee.Name == "Invoke":
		return true
	case callee.DeclaringType == "System.Type" && callee.Name == "InvokeMember":
		return true
	case callee.DeclaringType == "System.Reflection.Emit.DynamicMethod" && callee.Name == "Invoke":
		return true
	}
	return false
}

func environmentPathRule() Rule {
	return Rule{
		ID:                "EnvironmentPathRule",
		Severity:          ilmodel.SeverityMedium,
		RequiresCompanion: true,
		Description:       "Environment variable modification detected; PATH tampering can redirect subsequent process launches.",
		AnalyzeContextual: func(callee *ilmodel.MethodRef, win ContextWindow, ms *signals.MethodSignals) []ilmodel.ScanFinding {
			if callee == nil || callee.DeclaringType != "System.Environment" || callee.Name != "SetEnvironmentVariable" {
				return nil
			}
			name := precedingStringLiteral(win, 2)
			if !strings.EqualFold(name, "PATH") {
				return nil
			}
			inst := win.Instructions[win.Index]
			return []ilmodel.ScanFinding{{
				Location:    locationFor("", inst.Offset),
				Offset:      inst.Offset,
				Description: "PATH environment variable modified at runtime",
				Severity:    ilmodel.SeverityMedium,
				RuleID:      "EnvironmentPathRule",
			}}
		},
	}
}

func encodedStringPipelineRule() Rule {
	decodeMethods := map[string]map[string]bool{
		"System.Convert":          {"FromBase64String": true},
		"System.Text.Encoding":    {"GetString": true},
		"System.IO.Compression.GZipStream":   {".ctor": true},
		"System.IO.Compression.DeflateStream": {".ctor": true},
	}
	return Rule{
		ID:                "EncodedStringPipelineRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: true,
		Description:       "Chained decode/decompress pipeline detected on a string literal; consistent with obfuscated payload staging.",
		AnalyzeContextual: func(callee *ilmodel.MethodRef, win ContextWindow, ms *signals.MethodSignals) []ilmodel.ScanFinding {
			if callee == nil {
				return nil
			}
			m, ok := decodeMethods[callee.DeclaringType]
			if !ok || !m[callee.Name] {
				return nil
			}
			if !windowHasPrecedingLdstr(win, 6) {
				return nil
			}
			if !windowHasFollowingDecodeCall(win, decodeMethods) {
				return nil
			}
			inst := win.Instructions[win.Index]
			return []ilmodel.ScanFinding{{
				Location:    locationFor("", inst.Offset),
				Offset:      inst.Offset,
				Description: "Chained decode pipeline on a string literal (possible obfuscated payload staging)",
				Severity:    ilmodel.SeverityHigh,
				RuleID:      "EncodedStringPipelineRule",
			}}
		},
	}
}

func encodedBlobSplittingRule(minSegments int) Rule {
	return Rule{
		ID:                "EncodedBlobSplittingRule",
		Severity:          ilmodel.SeverityMedium,
		RequiresCompanion: true,
		Description:       "Delimiter-split numeric blob literal detected; a common way to hide a byte array as text.",
		AnalyzeStringLiteral: func(literal, methodKey string, offset int) []ilmodel.ScanFinding {
			if !looksLikeNumericSegments(literal, minSegments) {
				return nil
			}
			return []ilmodel.ScanFinding{{
				Location:    locationFor(methodKey, offset),
				Offset:      offset,
				Description: "Delimiter-split numeric blob literal detected",
				Severity:    ilmodel.SeverityMedium,
				RuleID:      "EncodedBlobSplittingRule",
			}}
		},
	}
}

func comReflectionAttackRule() Rule {
	return Rule{
		ID:                "COMReflectionAttackRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "COM object instantiated via reflection/ProgID; a common vector to reach scripting or WMI hosts.",
		Guidance: &DeveloperGuidance{
			Remediation: "Remove COM interop; Unity mods have no legitimate need to instantiate arbitrary COM objects by ProgID.",
		},
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			if callee == nil {
				return false
			}
			return (callee.DeclaringType == "System.Type" && (callee.Name == "GetTypeFromProgID" || callee.Name == "GetTypeFromCLSID")) ||
				(callee.DeclaringType == "System.Activator" && callee.Name == "CreateInstance")
		},
	}
}

func dataExfiltrationRule() Rule {
	methods := map[string]map[string]bool{
		"System.Net.WebClient":    {"UploadData": true, "UploadFile": true, "UploadString": true, "UploadValues": true},
		"System.Net.Http.HttpClient": {"PostAsync": true, "PutAsync": true, "SendAsync": true},
	}
	return Rule{
		ID:                "DataExfiltrationRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "Outbound network upload detected; may exfiltrate credentials or local data.",
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			if callee == nil {
				return false
			}
			m, ok := methods[callee.DeclaringType]
			return ok && m[callee.Name]
		},
	}
}

func dataInfiltrationRule() Rule {
	methods := map[string]map[string]bool{
		"System.Net.WebClient": {"DownloadData": true, "DownloadFile": true, "DownloadString": true},
		"System.Net.Http.HttpClient": {"GetAsync": true, "GetByteArrayAsync": true, "GetStringAsync": true, "GetStreamAsync": true},
	}
	return Rule{
		ID:                "DataInfiltrationRule",
		Severity:          ilmodel.SeverityMedium,
		RequiresCompanion: true,
		Description:       "Inbound network download detected; a common first stage of a download-and-execute chain.",
		IsSuspicious: func(callee *ilmodel.MethodRef) bool {
			if callee == nil {
				return false
			}
			m, ok := methods[callee.DeclaringType]
			return ok && m[callee.Name]
		},
	}
}

func persistenceRule() Rule {
	startupFolderFiles := map[string]bool{
		"WriteAllBytes": true, "WriteAllText": true, "Copy": true, "Create": true,
	}
	return Rule{
		ID:                "PersistenceRule",
		Severity:          ilmodel.SeverityHigh,
		RequiresCompanion: false,
		Description:       "File write into a sensitive startup/profile folder detected; consistent with a persistence mechanism.",
		Guidance: &DeveloperGuidance{
			Remediation: "Write mod data only inside Unity's managed persistent-data path, never the OS startup or application-data folders.",
		},
		AnalyzeContextual: func(callee *ilmodel.MethodRef, win ContextWindow, ms *signals.MethodSignals) []ilmodel.ScanFinding {
			if callee == nil || callee.DeclaringType != "System.IO.File" || !startupFolderFiles[callee.Name] {
				return nil
			}
			if ms == nil || !ms.SensitiveFolder {
				return nil
			}
			inst := win.Instructions[win.Index]
			return []ilmodel.ScanFinding{{
				Location:    locationFor("", inst.Offset),
				Offset:      inst.Offset,
				Description: "File written into a sensitive startup/profile folder",
				Severity:    ilmodel.SeverityHigh,
				RuleID:      "PersistenceRule",
			}}
		},
	}
}

func hexStringRule() Rule {
	return Rule{
		ID:                "HexStringRule",
		Severity:          ilmodel.SeverityMedium,
		RequiresCompanion: true,
		Description:       "Even-length hex-only literal decodes to a suspicious token; a common way to smuggle a command string.",
		AnalyzeStringLiteral: func(literal, methodKey string, offset int) []ilmodel.ScanFinding {
			if !looksLikeHex(literal) {
				return nil
			}
			decoded, ok := decodeHexSuspicious(literal)
			if !ok {
				return nil
			}
			return []ilmodel.ScanFinding{{
				Location:    locationFor(methodKey, offset),
				Offset:      offset,
				Description: "Hex-encoded literal decodes to a suspicious token: " + redact.Redact(decoded),
				Severity:    ilmodel.SeverityMedium,
				RuleID:      "HexStringRule",
			}}
		},
	}
}

func suspiciousLocalVariableRule() Rule {
	return Rule{
		ID:                "SuspiciousLocalVariableRule",
		Severity:          ilmodel.SeverityLow,
		RequiresCompanion: true,
		Description:       "Local variable of a process/socket/script-host type declared; a signal, not suspicious on its own.",
		ShouldSuppress:    suppressControlledChildProcess,
	}
}

// unicodeSmugglingRule flags string literals carrying zero-width, bidi
// override, Unicode tag, or homoglyph characters — techniques used to hide a
// second meaning inside a literal that looks innocuous in a decompiler or
// code review (e.g. a right-to-left override flipping the apparent file
// extension of a dropped payload name).
func unicodeSmugglingRule() Rule {
	return Rule{
		ID:          "UnicodeSmugglingRule",
		Severity:    ilmodel.SeverityMedium,
		Description: "String literal contains zero-width, bidirectional-override, tag, or homoglyph characters that can hide its true content.",
		AnalyzeStringLiteral: func(literal, methodKey string, offset int) []ilmodel.ScanFinding {
			result := unicode.Scan(literal)
			if result.Clean {
				return nil
			}
			severity := ilmodel.SeverityLow
			for _, threat := range result.Threats {
				if threat.Severity == "block" {
					severity = ilmodel.SeverityMedium
					break
				}
			}
			return []ilmodel.ScanFinding{{
				Location:    locationFor(methodKey, offset),
				Offset:      offset,
				Description: fmt.Sprintf("String literal hides %d suspicious Unicode character(s) (%s)", len(result.Threats), result.RawHex),
				Severity:    severity,
				RuleID:      "UnicodeSmugglingRule",
			}}
		},
	}
}

// ---------------------------------------------------------------------------
// Shared literal-classification helpers (spec.md §9 "Encoded literal detection")
// ---------------------------------------------------------------------------

func looksLikeBase64(s string) bool {
	if len(s) < 40 {
		return false
	}
	body := strings.TrimRight(s, "=")
	if len(body) == 0 {
		return false
	}
	for _, r := range body {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/') {
			return false
		}
	}
	return true
}

func looksLikeHex(s string) bool {
	if len(s) < 16 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// looksLikeNumericSegments reports whether s is a '-'/','-delimited list of
// decimal byte values with at least minSegments entries, e.g. "83-121-115-116".
func looksLikeNumericSegments(s string, minSegments int) bool {
	sep := "-"
	if strings.Contains(s, ",") && !strings.Contains(s, "-") {
		sep = ","
	}
	parts := strings.Split(s, sep)
	if len(parts) < minSegments {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// suspiciousDecodedTokens are checked against a hex-decoded literal's ASCII
// rendering; a match confirms it's not just incidental hex-looking data.
var suspiciousDecodedTokens = []string{
	"http://", "https://", "cmd.exe", "powershell", "wscript", "cscript",
	"VirtualAlloc", "rundll32", "regsvr32", "-enc", "IEX", "Invoke-Expression",
}

func decodeHexSuspicious(s string) (string, bool) {
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		hi := hexNibble(s[i*2])
		lo := hexNibble(s[i*2+1])
		if hi < 0 || lo < 0 {
			return "", false
		}
		b[i] = byte(hi<<4 | lo)
	}
	decoded := string(b)
	for _, tok := range suspiciousDecodedTokens {
		if strings.Contains(strings.ToLower(decoded), strings.ToLower(tok)) {
			return tok, true
		}
	}
	return "", false
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

func locationFor(methodKey string, offset int) string {
	if methodKey == "" {
		return "offset:" + strconv.Itoa(offset)
	}
	return methodKey + ":" + strconv.Itoa(offset)
}

// precedingStringLiteral returns the nearest ldstr literal within lookback
// instructions before win.Index, or "" if none.
func precedingStringLiteral(win ContextWindow, lookback int) string {
	start := win.Index - lookback
	if start < 0 {
		start = 0
	}
	for i := win.Index - 1; i >= start; i-- {
		in := win.Instructions[i]
		if in.Opcode == ilmodel.OpLdstr && in.Operand.HasString {
			return in.Operand.StringLit
		}
	}
	return ""
}

func windowHasPrecedingLdstr(win ContextWindow, lookback int) bool {
	return precedingStringLiteral(win, lookback) != ""
}

func windowHasFollowingDecodeCall(win ContextWindow, decodeMethods map[string]map[string]bool) bool {
	for i := win.Index + 1; i < len(win.Instructions) && i <= win.Index+6; i++ {
		in := win.Instructions[i]
		if !in.Operand.HasMethodRef {
			continue
		}
		ref := in.Operand.MethodRef
		if m, ok := decodeMethods[ref.DeclaringType]; ok && m[ref.Name] {
			return true
		}
	}
	return false
}
