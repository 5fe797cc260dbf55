// Package ilreader decodes a compiled .NET assembly (PE/COFF container, CLR-20
// header, #~ metadata stream, CIL method bodies) into the ilmodel object
// graph the analysis engine walks. It leans on github.com/saferwall/pe for
// the PE container and CLR-20 header (MS-DOS/PE headers, data directories,
// RVA-to-file-offset translation, the #~/#Strings/#Blob stream slices) and
// hand-decodes the ECMA-335 metadata tables and CIL instruction stream the
// upstream library stops short of: saferwall/pe parses only the Module
// table row as a worked example, so TypeDef/MethodDef/MemberRef/TypeRef/
// ImplMap/CustomAttribute and the method body bytes are this package's own
// work, grounded on the table/stream layout documented in
// _examples/other_examples/7c62013e_saferwall-pe__dotnet.go.go.
package ilreader

import (
	"encoding/binary"
	"fmt"

	saferwall "github.com/saferwall/pe"

	"github.com/diffsec/clrsentry/internal/ilmodel"
)

// Parse decodes the .NET assembly contained in data. path is recorded on the
// resulting Assembly for locations/logging; it need not exist on disk (byte
// stream scans per spec.md's input modes pass a synthetic path).
func Parse(path string, data []byte) (*ilmodel.Assembly, error) {
	pf, err := saferwall.NewBytes(data, &saferwall.Options{})
	if err != nil {
		return nil, fmt.Errorf("parse PE container: %w", err)
	}
	if err := pf.Parse(); err != nil {
		return nil, fmt.Errorf("parse PE/CLR headers: %w", err)
	}
	if !pf.HasCLR {
		return nil, fmt.Errorf("%s: no CLR-20 header; not a managed assembly", path)
	}

	dec, err := newDecoder(pf)
	if err != nil {
		return nil, fmt.Errorf("decode metadata tables: %w", err)
	}

	mod, err := dec.buildModule(pf, data)
	if err != nil {
		return nil, fmt.Errorf("build module: %w", err)
	}

	return &ilmodel.Assembly{
		Path:    path,
		SizeBytes:  int64(len(data)),
		Modules: []*ilmodel.Module{mod},
	}, nil
}

// decoder holds the raw heap slices and decoded table rows needed to project
// an ilmodel.Module out of one assembly's #~ stream.
type decoder struct {
	strings []byte
	blobs   []byte

	rows tableRowCounts

	modules    []moduleRow
	typeRefs   []typeRefRow
	typeDefs   []typeDefRow
	fields     []fieldRow
	methodDefs []methodDefRow
	memberRefs []memberRefRow
	customAttrs []customAttributeRow
	implMaps   []implMapRow
	moduleRefs []moduleRefRow
	assemblyRefs []assemblyRefRow
}

type moduleRow struct{ name uint32 }
type typeRefRow struct {
	resolutionScope    codedRef
	name, namespace    uint32
}
type typeDefRow struct {
	flags              uint32
	name, namespace    uint32
	extends            codedRef
	fieldList          uint32
	methodList         uint32
}
type fieldRow struct{ name uint32 }
type methodDefRow struct {
	rva               uint32
	implFlags, flags  uint16
	name              uint32
	signature         uint32
	paramList         uint32
}
type memberRefRow struct {
	class     codedRef
	name      uint32
	signature uint32
}
type customAttributeRow struct {
	parent codedRef
	typ    codedRef
}
type implMapRow struct {
	mappingFlags    uint16
	memberForwarded codedRef
	importName      uint32
	importScope     uint32
}
type moduleRefRow struct{ name uint32 }
type assemblyRefRow struct{ name uint32 }

// tableStream is a little cursor over the raw "#~"/"#-" bytes, positioned
// just past the per-present-table row-count prefix.
type tableStream struct {
	data         []byte
	pos          int
	strIdxSize   int
	guidIdxSize  int
	blobIdxSize  int
}

func (t *tableStream) u8() uint8 {
	v := t.data[t.pos]
	t.pos++
	return v
}

func (t *tableStream) u16() uint16 {
	v := binary.LittleEndian.Uint16(t.data[t.pos:])
	t.pos += 2
	return v
}

func (t *tableStream) u32() uint32 {
	v := binary.LittleEndian.Uint32(t.data[t.pos:])
	t.pos += 4
	return v
}

func (t *tableStream) idx(size int) uint32 {
	if size == 2 {
		return uint32(t.u16())
	}
	return t.u32()
}

func (t *tableStream) str() uint32    { return t.idx(t.strIdxSize) }
func (t *tableStream) guid() uint32   { return t.idx(t.guidIdxSize) }
func (t *tableStream) blob() uint32   { return t.idx(t.blobIdxSize) }
func (t *tableStream) simple(rows tableRowCounts, table int) uint32 {
	return t.idx(rows.simpleSize(table))
}
func (t *tableStream) coded(rows tableRowCounts, kind codedIndexKind) codedRef {
	return decodeCoded(kind, t.idx(rows.codedSize(kind)))
}

// rowSize returns the byte width of one row of table, per ECMA-335 II.22's
// per-table column layout, needed to skip tables this package does not
// project into ilmodel without losing cursor alignment.
func rowSize(rows tableRowCounts, strSz, guidSz, blobSz, table int) int {
	s := func(t int) int {
		if rows.simpleSize(t) == 2 {
			return 2
		}
		return 4
	}
	c := func(k codedIndexKind) int { return rows.codedSize(k) }
	switch table {
	case tblModule:
		return 2 + strSz + 3*guidSz
	case tblTypeRef:
		return c(kindResolutionScope) + strSz + strSz
	case tblTypeDef:
		return 4 + strSz + strSz + c(kindTypeDefOrRef) + s(tblField) + s(tblMethodDef)
	case tblFieldPtr:
		return s(tblField)
	case tblField:
		return 2 + strSz + blobSz
	case tblMethodPtr:
		return s(tblMethodDef)
	case tblMethodDef:
		return 4 + 2 + 2 + strSz + blobSz + s(tblParam)
	case tblParamPtr:
		return s(tblParam)
	case tblParam:
		return 2 + 2 + strSz
	case tblInterfaceImpl:
		return s(tblTypeDef) + c(kindTypeDefOrRef)
	case tblMemberRef:
		return c(kindMemberRefParent) + strSz + blobSz
	case tblConstant:
		return 2 + c(kindHasConstant) + blobSz
	case tblCustomAttribute:
		return c(kindHasCustomAttribute) + c(kindCustomAttrType) + blobSz
	case tblFieldMarshal:
		return c(kindHasFieldMarshal) + blobSz
	case tblDeclSecurity:
		return 2 + c(kindHasDeclSecurity) + blobSz
	case tblClassLayout:
		return 2 + 4 + s(tblTypeDef)
	case tblFieldLayout:
		return 4 + s(tblField)
	case tblStandAloneSig:
		return blobSz
	case tblEventMap:
		return s(tblTypeDef) + s(tblEvent)
	case tblEventPtr:
		return s(tblEvent)
	case tblEvent:
		return 2 + strSz + c(kindTypeDefOrRef)
	case tblPropertyMap:
		return s(tblTypeDef) + s(tblProperty)
	case tblPropertyPtr:
		return s(tblProperty)
	case tblProperty:
		return 2 + strSz + blobSz
	case tblMethodSemantics:
		return 2 + s(tblMethodDef) + c(kindHasSemantics)
	case tblMethodImpl:
		return s(tblTypeDef) + c(kindMethodDefOrRef) + c(kindMethodDefOrRef)
	case tblModuleRef:
		return strSz
	case tblTypeSpec:
		return blobSz
	case tblImplMap:
		return 2 + c(kindMemberForwarded) + strSz + s(tblModuleRef)
	case tblFieldRVA:
		return 4 + s(tblField)
	case tblENCLog:
		return 8
	case tblENCMap:
		return 4
	case tblAssembly:
		return 4 + 2 + 2 + 2 + 2 + 4 + blobSz + strSz + strSz
	case tblAssemblyProcessor:
		return 4
	case tblAssemblyOS:
		return 12
	case tblAssemblyRef:
		return 8 + 4 + blobSz + strSz + strSz + blobSz
	case tblAssemblyRefProcessor:
		return 4 + s(tblAssemblyRef)
	case tblAssemblyRefOS:
		return 12 + s(tblAssemblyRef)
	case tblFile:
		return 4 + strSz + blobSz
	case tblExportedType:
		return 4 + 4 + strSz + strSz + c(kindImplementation)
	case tblManifestResource:
		return 4 + 4 + strSz + c(kindImplementation)
	case tblNestedClass:
		return s(tblTypeDef) + s(tblTypeDef)
	case tblGenericParam:
		return 2 + 2 + c(kindTypeOrMethodDef) + strSz
	case tblMethodSpec:
		return c(kindMethodDefOrRef) + blobSz
	case tblGenericParamConstraint:
		return s(tblGenericParam) + c(kindTypeDefOrRef)
	default:
		return 0
	}
}

// newDecoder walks the #~ (or #-) stream once: header + row-count prefix,
// then every present table in index order, decoding the handful this
// package projects into ilmodel and skipping the rest by their computed
// row size.
func newDecoder(pf *saferwall.File) (*decoder, error) {
	tableStreamBytes := pf.CLR.MetadataStreams["#~"]
	if tableStreamBytes == nil {
		tableStreamBytes = pf.CLR.MetadataStreams["#-"]
	}
	if tableStreamBytes == nil {
		return nil, fmt.Errorf("no #~/#- metadata table stream present")
	}

	var rows tableRowCounts
	for idx, t := range pf.CLR.MetadataTables {
		if idx >= 0 && idx < tableCount && t != nil {
			rows[idx] = t.CountCols
		}
	}

	headerSize := 24 // reserved(4) + major(1) + minor(1) + heaps(1) + rid(1) + maskValid(8) + sorted(8)
	present := 0
	for i := 0; i < tableCount; i++ {
		if rows[i] > 0 {
			present++
		}
	}
	// Tables present in the schema but legitimately empty (CountCols==0)
	// still consume a row-count slot if their MaskValid bit is set; we
	// approximate using the map the upstream parser already built, which
	// only contains bits that were set, so len() is the authoritative count.
	present = len(pf.CLR.MetadataTables)

	ts := &tableStream{
		data:        tableStreamBytes,
		pos:         headerSize + 4*present,
		strIdxSize:  pf.CLR.StringStreamIndexSize,
		guidIdxSize: pf.CLR.GUIDStreamIndexSize,
		blobIdxSize: pf.CLR.BlobStreamIndexSize,
	}

	d := &decoder{
		strings: pf.CLR.MetadataStreams["#Strings"],
		blobs:   pf.CLR.MetadataStreams["#Blob"],
		rows:    rows,
	}

	for table := 0; table < tableCount; table++ {
		n := rows[table]
		if n == 0 {
			continue
		}
		for i := uint32(0); i < n; i++ {
			if ts.pos >= len(ts.data) {
				return d, nil
			}
			switch table {
			case tblModule:
				ts.u16() // generation
				d.modules = append(d.modules, moduleRow{name: ts.str()})
				ts.guid()
				ts.guid()
				ts.guid()
			case tblTypeRef:
				rs := ts.coded(rows, kindResolutionScope)
				name := ts.str()
				ns := ts.str()
				d.typeRefs = append(d.typeRefs, typeRefRow{resolutionScope: rs, name: name, namespace: ns})
			case tblTypeDef:
				flags := ts.u32()
				name := ts.str()
				ns := ts.str()
				ext := ts.coded(rows, kindTypeDefOrRef)
				fl := ts.simple(rows, tblField)
				ml := ts.simple(rows, tblMethodDef)
				d.typeDefs = append(d.typeDefs, typeDefRow{flags: flags, name: name, namespace: ns, extends: ext, fieldList: fl, methodList: ml})
			case tblField:
				ts.u16()
				d.fields = append(d.fields, fieldRow{name: ts.str()})
				ts.blob()
			case tblMethodDef:
				rva := ts.u32()
				implFlags := ts.u16()
				flags := ts.u16()
				name := ts.str()
				sig := ts.blob()
				pl := ts.simple(rows, tblParam)
				d.methodDefs = append(d.methodDefs, methodDefRow{rva: rva, implFlags: implFlags, flags: flags, name: name, signature: sig, paramList: pl})
			case tblMemberRef:
				class := ts.coded(rows, kindMemberRefParent)
				name := ts.str()
				sig := ts.blob()
				d.memberRefs = append(d.memberRefs, memberRefRow{class: class, name: name, signature: sig})
			case tblCustomAttribute:
				parent := ts.coded(rows, kindHasCustomAttribute)
				typ := ts.coded(rows, kindCustomAttrType)
				ts.blob()
				d.customAttrs = append(d.customAttrs, customAttributeRow{parent: parent, typ: typ})
			case tblImplMap:
				mf := ts.u16()
				forwarded := ts.coded(rows, kindMemberForwarded)
				name := ts.str()
				scope := ts.simple(rows, tblModuleRef)
				d.implMaps = append(d.implMaps, implMapRow{mappingFlags: mf, memberForwarded: forwarded, importName: name, importScope: scope})
			case tblModuleRef:
				d.moduleRefs = append(d.moduleRefs, moduleRefRow{name: ts.str()})
			case tblAssemblyRef:
				ts.u16()
				ts.u16()
				ts.u16()
				ts.u16()
				ts.u32()
				ts.blob()
				name := ts.str()
				d.assemblyRefs = append(d.assemblyRefs, assemblyRefRow{name: name})
				ts.str()
				ts.blob()
			default:
				size := rowSize(rows, ts.strIdxSize, ts.guidIdxSize, ts.blobIdxSize, table)
				if size <= 0 {
					continue
				}
				ts.pos += size
			}
		}
	}
	return d, nil
}

func (d *decoder) getString(off uint32) string {
	return readCString(d.strings, off)
}

func readCString(heap []byte, off uint32) string {
	if heap == nil || int(off) >= len(heap) {
		return ""
	}
	end := int(off)
	for end < len(heap) && heap[end] != 0 {
		end++
	}
	return string(heap[off:end])
}

func (d *decoder) typeRefName(rid uint32) string {
	if rid == 0 || int(rid-1) >= len(d.typeRefs) {
		return ""
	}
	tr := d.typeRefs[rid-1]
	ns := d.getString(tr.namespace)
	name := d.getString(tr.name)
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func (d *decoder) typeDefName(rid uint32) string {
	if rid == 0 || int(rid-1) >= len(d.typeDefs) {
		return ""
	}
	td := d.typeDefs[rid-1]
	ns := d.getString(td.namespace)
	name := d.getString(td.name)
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func (d *decoder) moduleRefName(rid uint32) string {
	if rid == 0 || int(rid-1) >= len(d.moduleRefs) {
		return ""
	}
	return d.getString(d.moduleRefs[rid-1].name)
}

// declaringTypeName resolves a MemberRefParent coded index to the full
// name of the type a call target is declared on.
func (d *decoder) declaringTypeName(ref codedRef) string {
	switch ref.table {
	case tblTypeRef:
		return d.typeRefName(ref.rid)
	case tblTypeDef:
		return d.typeDefName(ref.rid)
	case tblModuleRef:
		return d.moduleRefName(ref.rid)
	default:
		return ""
	}
}
