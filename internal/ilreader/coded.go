package ilreader

// Metadata table indices, ECMA-335 II.22. Kept private to this package: the
// rest of the engine consumes ilmodel, never raw table rids.
const (
	tblModule                 = 0
	tblTypeRef                = 1
	tblTypeDef                = 2
	tblFieldPtr               = 3
	tblField                  = 4
	tblMethodPtr              = 5
	tblMethodDef              = 6
	tblParamPtr               = 7
	tblParam                  = 8
	tblInterfaceImpl          = 9
	tblMemberRef              = 10
	tblConstant               = 11
	tblCustomAttribute        = 12
	tblFieldMarshal           = 13
	tblDeclSecurity           = 14
	tblClassLayout            = 15
	tblFieldLayout            = 16
	tblStandAloneSig          = 17
	tblEventMap               = 18
	tblEventPtr               = 19
	tblEvent                  = 20
	tblPropertyMap            = 21
	tblPropertyPtr            = 22
	tblProperty               = 23
	tblMethodSemantics        = 24
	tblMethodImpl             = 25
	tblModuleRef              = 26
	tblTypeSpec               = 27
	tblImplMap                = 28
	tblFieldRVA               = 29
	tblENCLog                 = 30
	tblENCMap                 = 31
	tblAssembly               = 32
	tblAssemblyProcessor      = 33
	tblAssemblyOS             = 34
	tblAssemblyRef            = 35
	tblAssemblyRefProcessor   = 36
	tblAssemblyRefOS          = 37
	tblFile                   = 38
	tblExportedType           = 39
	tblManifestResource       = 40
	tblNestedClass            = 41
	tblGenericParam           = 42
	tblMethodSpec             = 43
	tblGenericParamConstraint = 44
	tableCount                = 45
)

// codedIndexKind describes one of ECMA-335 II.24.2.6's coded-index shapes:
// the tag-bit width and the ordered list of tables the tag selects among.
type codedIndexKind struct {
	tagBits int
	tables  []int // tables[tag] == -1 means "unused tag"
}

var (
	kindTypeDefOrRef        = codedIndexKind{2, []int{tblTypeDef, tblTypeRef, tblTypeSpec}}
	kindHasConstant         = codedIndexKind{2, []int{tblField, tblParam, tblProperty}}
	kindHasCustomAttribute  = codedIndexKind{5, []int{
		tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam, tblInterfaceImpl,
		tblMemberRef, tblModule, tblDeclSecurity, tblProperty, tblEvent, tblStandAloneSig,
		tblModuleRef, tblTypeSpec, tblAssembly, tblAssemblyRef, tblFile, tblExportedType,
		tblManifestResource, tblGenericParam, tblGenericParamConstraint, tblMethodSpec,
	}}
	kindHasFieldMarshal  = codedIndexKind{1, []int{tblField, tblParam}}
	kindHasDeclSecurity  = codedIndexKind{2, []int{tblTypeDef, tblMethodDef, tblAssembly}}
	kindMemberRefParent  = codedIndexKind{3, []int{tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec}}
	kindHasSemantics     = codedIndexKind{1, []int{tblEvent, tblProperty}}
	kindMethodDefOrRef   = codedIndexKind{1, []int{tblMethodDef, tblMemberRef}}
	kindMemberForwarded  = codedIndexKind{1, []int{tblField, tblMethodDef}}
	kindImplementation   = codedIndexKind{2, []int{tblFile, tblAssemblyRef, tblExportedType}}
	kindCustomAttrType   = codedIndexKind{3, []int{-1, -1, tblMethodDef, tblMemberRef, -1, -1}}
	kindResolutionScope  = codedIndexKind{2, []int{tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef}}
	kindTypeOrMethodDef  = codedIndexKind{1, []int{tblTypeDef, tblMethodDef}}
)

// codedRef is a decoded coded index: which table the tag pointed at and the
// 1-based row id within it (0 means null reference).
type codedRef struct {
	table int
	rid   uint32
}

func decodeCoded(kind codedIndexKind, v uint32) codedRef {
	mask := uint32(1)<<uint(kind.tagBits) - 1
	tag := v & mask
	rid := v >> uint(kind.tagBits)
	if int(tag) >= len(kind.tables) {
		return codedRef{table: -1, rid: rid}
	}
	return codedRef{table: kind.tables[tag], rid: rid}
}

// tableRowCounts is the row-count lookup the size/decode pass needs: how many rows
// each table holds, 0 for tables absent from this module.
type tableRowCounts [tableCount]uint32

func (c tableRowCounts) codedSize(kind codedIndexKind) int {
	var maxRows uint32
	for _, t := range kind.tables {
		if t < 0 {
			continue
		}
		if c[t] > maxRows {
			maxRows = c[t]
		}
	}
	if maxRows < (uint32(1) << uint(16-kind.tagBits)) {
		return 2
	}
	return 4
}

func (c tableRowCounts) simpleSize(table int) int {
	if c[table] < 0x10000 {
		return 2
	}
	return 4
}
