// Package ilmodel defines the in-memory object model the analysis engine
// operates over: modules, types, methods, instructions, exception handlers
// and P/Invoke metadata decoded from a .NET assembly. The model is produced
// by internal/ilreader and consumed by every analyzer package; nothing in
// this package touches file I/O.
package ilmodel

// Severity ranks a finding's impact. Comparison order: Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Low"
	}
}

// ParseSeverity maps a severity name back to its constant; unknown names fall
// back to Low so a malformed rule-pack override never silently escalates.
func ParseSeverity(s string) Severity {
	switch s {
	case "Critical":
		return SeverityCritical
	case "High":
		return SeverityHigh
	case "Medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Assembly is one decoded .NET module file plus its identity.
type Assembly struct {
	Path      string // canonicalized absolute path, or a virtual path for byte-stream scans
	SizeBytes int64
	SHA256    string // lower-case hex, 64 chars
	Modules   []*Module
}

// Module is the single PE module of an Assembly (multi-module assemblies are
// rare in the wild and are treated as a Non-goal per spec.md; each Assembly
// here carries exactly one Module).
type Module struct {
	Name          string
	Types         []*Type
	Resources     []Resource
	AssemblyRefs  []AssemblyRef
}

// AssemblyRef is a reference to another assembly recorded in this module's
// metadata (AssemblyRef table), used by the cross-assembly graph builder.
type AssemblyRef struct {
	Name string
}

// Resource is an embedded managed resource.
type Resource struct {
	Name string
	Size int64
	Data []byte // nil when not materialized (large resources may be skipped)
}

// Type is a single TypeDef.
type Type struct {
	Namespace   string
	Name        string
	Methods     []*Method
	CustomAttrs []CustomAttribute
}

// FullName returns "Namespace.Name", or just "Name" when there is no namespace.
func (t *Type) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// CustomAttribute is a decoded custom-attribute application (attribute type
// name only; constructor-argument blobs are not decoded — matches spec.md's
// "type inference beyond declared signatures" non-goal).
type CustomAttribute struct {
	TypeName string
}

// PInvoke carries the native-import metadata for a method whose
// ImplFlags mark it as a native declaration (ImplMap table).
type PInvoke struct {
	DLLName    string
	EntryPoint string
}

// Method is a single MethodDef.
type Method struct {
	DeclaringType *Type
	Name          string
	Signature     string // return type and parameter count, e.g. "System.Void(1 params)"
	Body          *MethodBody
	PInvoke       *PInvoke // non-nil iff this is a native import (no Body)
}

// Key returns the stable "NS.Type.Method" identity used for signal-tracker
// and call-graph map keys.
func (m *Method) Key() string {
	if m.DeclaringType == nil {
		return m.Name
	}
	return m.DeclaringType.FullName() + "." + m.Name
}

// MethodBody is the decoded instruction stream of a managed method.
type MethodBody struct {
	Instructions      []Instruction
	Locals            []LocalVar
	ExceptionHandlers []ExceptionHandler
	CodeSize          int
}

// LocalVar is one entry of the method's local-variable signature.
type LocalVar struct {
	Index    int
	TypeName string
}

// HandlerKind enumerates the exception-handler region kinds.
type HandlerKind int

const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
	HandlerFault
	HandlerFilter
)

// ExceptionHandler describes one protected-region/handler pair. How each
// handler kind is treated is decided by the analyzer that consumes this
// (internal/ehscan treats `fault` like `catch` for its swallowed-failure
// check), not by this model.
type ExceptionHandler struct {
	Kind             HandlerKind
	TryStart         int
	TryEnd           int
	HandlerStart     int
	HandlerEnd       int
	CatchTypeName    string // set only for HandlerCatch
}

// Opcode identifies a CIL instruction. Only the subset of ECMA-335 opcodes
// the rule set inspects are modeled with a dedicated mnemonic; everything
// else decodes to OpOther so the instruction stream stays byte-accurate for
// offset bookkeeping without requiring a complete opcode table.
type Opcode int

const (
	OpOther Opcode = iota
	OpCall
	OpCallvirt
	OpLdstr
	OpLdcI4
	OpLdloc
	OpStloc
	OpLdarg
	OpBr
	OpBrtrue
	OpBrfalse
	OpNewobj
	OpLdtoken
	OpRet
)

// Operand carries the decoded operand for an Instruction. At most one field
// is populated per instruction, matching spec.md's "optional operand" shape.
type Operand struct {
	MethodRef   *MethodRef
	StringLit   string
	IntLit      int64
	LocalIndex  int
	BranchTarget int // absolute instruction-stream offset
	HasMethodRef bool
	HasString    bool
	HasInt       bool
	HasLocal     bool
	HasBranch    bool
}

// MethodRef is the resolved signature of a call target: enough for rule
// predicates to match on declaring type + member name without a full
// generic-aware type system.
type MethodRef struct {
	DeclaringType string // full name, e.g. "System.Diagnostics.Process"
	Name          string // e.g. "Start", ".ctor"
	IsStatic      bool
}

// Instruction is one decoded CIL instruction.
type Instruction struct {
	Offset  int // byte offset from method body start
	Opcode  Opcode
	Mnemonic string // raw textual opcode, e.g. "callvirt", kept for snippets/logs
	Operand Operand
}
