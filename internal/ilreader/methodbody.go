package ilreader

import (
	"encoding/binary"
	"fmt"

	saferwall "github.com/saferwall/pe"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// CLR method-header format bits, ECMA-335 II.25.4.
const (
	corILMethodTinyFormat  = 0x2
	corILMethodFatFormat   = 0x3
	corILMethodFormatMask  = 0x3
	corILMethodMoreSects   = 0x8
	corILMethodInitLocals  = 0x10
)

// Exception-handler section flags, ECMA-335 II.25.4.5/6.
const (
	corILMethodSectEHTable   = 0x1
	corILMethodSectFatFormat = 0x40
	corILMethodSectMoreSects = 0x80
)

// buildModule walks the decoded TypeDef/MethodDef/ImplMap tables into the
// ilmodel.Module tree, decoding each managed method's IL body and wiring
// P/Invoke declarations in place of a body.
func (d *decoder) buildModule(pf *saferwall.File, data []byte) (*ilmodel.Module, error) {
	mod := &ilmodel.Module{}
	if len(d.modules) > 0 {
		mod.Name = d.getString(d.modules[0].name)
	}

	forwarded := make(map[uint32]ilmodel.PInvoke) // MethodDef rid -> native import
	for _, im := range d.implMaps {
		if im.memberForwarded.table != tblMethodDef || im.memberForwarded.rid == 0 {
			continue
		}
		forwarded[im.memberForwarded.rid] = ilmodel.PInvoke{
			DLLName:    d.moduleRefName(im.importScope),
			EntryPoint: d.getString(im.importName),
		}
	}

	customAttrsByParent := make(map[codedRef][]string)
	for _, ca := range d.customAttrs {
		var name string
		switch ca.typ.table {
		case tblMethodDef:
			if ca.typ.rid > 0 && int(ca.typ.rid-1) < len(d.methodDefs) {
				// The ctor is defined in this module; the attribute type is
				// the TypeDef whose method list holds the ctor's row.
				for i, td := range d.typeDefs {
					end := uint32(len(d.methodDefs)) + 1
					if i+1 < len(d.typeDefs) {
						end = d.typeDefs[i+1].methodList
					}
					if ca.typ.rid >= td.methodList && ca.typ.rid < end {
						name = joinName(d.getString(td.namespace), d.getString(td.name))
						break
					}
				}
			}
		case tblMemberRef:
			if ca.typ.rid > 0 && int(ca.typ.rid-1) < len(d.memberRefs) {
				mr := d.memberRefs[ca.typ.rid-1]
				name = d.declaringTypeName(mr.class)
			}
		}
		if name != "" {
			customAttrsByParent[ca.parent] = append(customAttrsByParent[ca.parent], name)
		}
	}

	methodDefTypeName := make([]string, len(d.methodDefs)) // rid-1 -> owning type full name
	for i, td := range d.typeDefs {
		start := td.methodList
		var end uint32
		if i+1 < len(d.typeDefs) {
			end = d.typeDefs[i+1].methodList
		} else {
			end = uint32(len(d.methodDefs)) + 1
		}
		for rid := start; rid < end && rid >= 1 && int(rid-1) < len(d.methodDefs); rid++ {
			methodDefTypeName[rid-1] = joinName(d.getString(td.namespace), d.getString(td.name))
		}
	}

	resolveMethodRef := func(table int, rid uint32) *ilmodel.MethodRef {
		switch table {
		case tblMethodDef:
			if rid == 0 || int(rid-1) >= len(d.methodDefs) {
				return nil
			}
			md := d.methodDefs[rid-1]
			return &ilmodel.MethodRef{DeclaringType: methodDefTypeName[rid-1], Name: d.getString(md.name)}
		case tblMemberRef:
			if rid == 0 || int(rid-1) >= len(d.memberRefs) {
				return nil
			}
			mr := d.memberRefs[rid-1]
			return &ilmodel.MethodRef{DeclaringType: d.declaringTypeName(mr.class), Name: d.getString(mr.name)}
		default:
			return nil
		}
	}

	for i, td := range d.typeDefs {
		t := &ilmodel.Type{Namespace: d.getString(td.namespace), Name: d.getString(td.name)}
		for _, attrName := range customAttrsByParent[codedRef{table: tblTypeDef, rid: uint32(i + 1)}] {
			t.CustomAttrs = append(t.CustomAttrs, ilmodel.CustomAttribute{TypeName: attrName})
		}

		start := td.methodList
		var end uint32
		if i+1 < len(d.typeDefs) {
			end = d.typeDefs[i+1].methodList
		} else {
			end = uint32(len(d.methodDefs)) + 1
		}
		for rid := start; rid < end && rid >= 1 && int(rid-1) < len(d.methodDefs); rid++ {
			md := d.methodDefs[rid-1]
			m := &ilmodel.Method{
				DeclaringType: t,
				Name:          d.getString(md.name),
				Signature:     decodeMethodSignature(d.blobs, md.signature),
			}
			for _, attrName := range customAttrsByParent[codedRef{table: tblMethodDef, rid: rid}] {
				_ = attrName // method-level attributes aren't separately modeled; type-level coverage suffices for the rule set.
			}
			if pi, ok := forwarded[rid]; ok {
				pi := pi
				m.PInvoke = &pi
			} else if md.rva != 0 {
				body, err := decodeBody(pf, data, md.rva, resolveMethodRef, d)
				if err == nil {
					m.Body = body
				}
			}
			t.Methods = append(t.Methods, m)
		}
		mod.Types = append(mod.Types, t)
	}

	for _, ar := range d.assemblyRefs {
		mod.AssemblyRefs = append(mod.AssemblyRefs, ilmodel.AssemblyRef{Name: d.getString(ar.name)})
	}

	return mod, nil
}

func joinName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// decodeBody reads a method's tiny/fat header, IL bytes and (if present)
// exception-handler sections at the given RVA.
func decodeBody(pf *saferwall.File, data []byte, rva uint32, resolve func(table int, rid uint32) *ilmodel.MethodRef, d *decoder) (*ilmodel.MethodBody, error) {
	off := int(pf.GetOffsetFromRva(rva))
	if off < 0 || off >= len(data) {
		return nil, fmt.Errorf("method RVA %#x out of range", rva)
	}

	first := data[off]
	body := &ilmodel.MethodBody{}
	var codeStart, codeSize int

	switch first & corILMethodFormatMask {
	case corILMethodTinyFormat:
		codeSize = int(first >> 2)
		codeStart = off + 1
	case corILMethodFatFormat:
		if off+12 > len(data) {
			return nil, fmt.Errorf("truncated fat method header")
		}
		flagsAndSize := binary.LittleEndian.Uint16(data[off:])
		headerWords := flagsAndSize >> 12
		flags := flagsAndSize & 0x0FFF
		codeSize = int(binary.LittleEndian.Uint32(data[off+4:]))
		codeStart = off + int(headerWords)*4
		_ = flags // InitLocals doesn't affect decoding here.

		if flags&corILMethodMoreSects != 0 {
			sectOff := codeStart + codeSize
			sectOff = (sectOff + 3) &^ 3 // 4-byte align
			for sectOff < len(data) {
				kind := data[sectOff]
				if kind&corILMethodSectFatFormat != 0 {
					if sectOff+4 > len(data) {
						break
					}
					size := int(data[sectOff+1]) | int(data[sectOff+2])<<8 | int(data[sectOff+3])<<16
					entries := (size - 4) / 24
					base := sectOff + 4
					for e := 0; e < entries; e++ {
						r := base + e*24
						if r+24 > len(data) {
							break
						}
						body.ExceptionHandlers = append(body.ExceptionHandlers, decodeFatEHEntry(data, r, d))
					}
					if kind&corILMethodSectMoreSects == 0 {
						break
					}
					sectOff = base + entries*24
				} else if kind&corILMethodSectEHTable != 0 {
					if sectOff+4 > len(data) {
						break
					}
					size := int(data[sectOff+1])
					entries := (size - 4) / 12
					base := sectOff + 4
					for e := 0; e < entries; e++ {
						r := base + e*12
						if r+12 > len(data) {
							break
						}
						body.ExceptionHandlers = append(body.ExceptionHandlers, decodeSmallEHEntry(data, r, d))
					}
					if kind&corILMethodSectMoreSects == 0 {
						break
					}
					sectOff = base + entries*12
				} else {
					break
				}
				sectOff = (sectOff + 3) &^ 3
			}
		}
	default:
		return nil, fmt.Errorf("unrecognized method header format %#x", first)
	}

	if codeStart < 0 || codeStart+codeSize > len(data) {
		return nil, fmt.Errorf("method body out of range")
	}
	body.CodeSize = codeSize
	body.Instructions = decodeInstructions(data[codeStart:codeStart+codeSize], resolve, d)
	return body, nil
}

func decodeFatEHEntry(data []byte, r int, d *decoder) ilmodel.ExceptionHandler {
	flags := binary.LittleEndian.Uint32(data[r:])
	tryOff := binary.LittleEndian.Uint32(data[r+4:])
	tryLen := binary.LittleEndian.Uint32(data[r+8:])
	handlerOff := binary.LittleEndian.Uint32(data[r+12:])
	handlerLen := binary.LittleEndian.Uint32(data[r+16:])
	classTokenOrFilter := binary.LittleEndian.Uint32(data[r+20:])
	return ehFromRaw(flags, tryOff, tryLen, handlerOff, handlerLen, classTokenOrFilter, d)
}

func decodeSmallEHEntry(data []byte, r int, d *decoder) ilmodel.ExceptionHandler {
	flags := uint32(binary.LittleEndian.Uint16(data[r:]))
	tryOff := uint32(binary.LittleEndian.Uint16(data[r+2:]))
	tryLen := uint32(data[r+4])
	handlerOff := uint32(binary.LittleEndian.Uint16(data[r+5:]))
	handlerLen := uint32(data[r+7])
	classTokenOrFilter := binary.LittleEndian.Uint32(data[r+8:])
	return ehFromRaw(flags, tryOff, tryLen, handlerOff, handlerLen, classTokenOrFilter, d)
}

// EH clause kind flags, ECMA-335 II.25.4.6.
const (
	corEHFlagNone    = 0x0
	corEHFlagFilter  = 0x1
	corEHFlagFinally = 0x2
	corEHFlagFault   = 0x4
)

func ehFromRaw(flags, tryOff, tryLen, handlerOff, handlerLen, classTokenOrFilter uint32, d *decoder) ilmodel.ExceptionHandler {
	eh := ilmodel.ExceptionHandler{
		TryStart:     int(tryOff),
		TryEnd:       int(tryOff + tryLen),
		HandlerStart: int(handlerOff),
		HandlerEnd:   int(handlerOff + handlerLen),
	}
	switch {
	case flags&corEHFlagFilter != 0:
		eh.Kind = ilmodel.HandlerFilter
	case flags&corEHFlagFinally != 0:
		eh.Kind = ilmodel.HandlerFinally
	case flags&corEHFlagFault != 0:
		eh.Kind = ilmodel.HandlerFault
	default:
		eh.Kind = ilmodel.HandlerCatch
		token := classTokenOrFilter
		table := int(token >> 24)
		rid := token & 0x00FFFFFF
		switch table {
		case 0x01:
			eh.CatchTypeName = d.typeRefName(rid)
		case 0x02:
			eh.CatchTypeName = d.typeDefName(rid)
		}
	}
	return eh
}

// ECMA-335 II.23.2.1 element-type tags, the subset a best-effort signature
// rendering needs; anything else falls back to a generic placeholder since
// fully resolving CLASS/VALUETYPE/generic element types needs a type
// system this package does not build (matches spec.md's non-goal on type
// inference beyond declared signatures).
var elementTypeNames = map[byte]string{
	0x01: "System.Void",
	0x02: "System.Boolean",
	0x03: "System.Char",
	0x04: "System.SByte",
	0x05: "System.Byte",
	0x06: "System.Int16",
	0x07: "System.UInt16",
	0x08: "System.Int32",
	0x09: "System.UInt32",
	0x0A: "System.Int64",
	0x0B: "System.UInt64",
	0x0C: "System.Single",
	0x0D: "System.Double",
	0x0E: "System.String",
	0x18: "System.IntPtr",
	0x19: "System.UIntPtr",
	0x1C: "System.Object",
}

// decodeMethodSignature renders a best-effort "RetType(paramCount params)"
// signature string from the MethodDefSig blob; used only for display/logs,
// never for rule matching.
func decodeMethodSignature(blobs []byte, off uint32) string {
	b, _, ok := readBlob(blobs, off)
	if !ok || len(b) < 2 {
		return ""
	}
	pos := 1 // skip calling-convention byte
	paramCount, n := readCompressed(b[pos:])
	if n == 0 {
		return ""
	}
	pos += n
	retType, _ := readElementType(b, pos)
	return fmt.Sprintf("%s(%d params)", retType, paramCount)
}

func readElementType(b []byte, pos int) (string, int) {
	if pos >= len(b) {
		return "object", 0
	}
	if name, ok := elementTypeNames[b[pos]]; ok {
		return name, 1
	}
	return "object", 1
}

// readBlob resolves a #Blob heap index to its length-prefixed content.
func readBlob(heap []byte, off uint32) ([]byte, []byte, bool) {
	if heap == nil || int(off) >= len(heap) {
		return nil, nil, false
	}
	n, sz := readCompressed(heap[off:])
	start := int(off) + sz
	if start+n > len(heap) {
		return nil, nil, false
	}
	return heap[start : start+n], heap[start+n:], true
}

// readCompressed decodes an ECMA-335 II.23.2 compressed unsigned integer.
func readCompressed(b []byte) (int, int) {
	if len(b) == 0 {
		return 0, 0
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return int(first), 1
	case first&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0
		}
		return int(first&0x3F)<<8 | int(b[1]), 2
	case first&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0
		}
		return int(first&0x1F)<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]), 4
	default:
		return 0, 1
	}
}
