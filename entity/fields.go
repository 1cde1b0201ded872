package entity

// FieldFlags is the per-(entity variant, field name) descriptor table from
// spec §9: "Model this as a compile-time or build-time table mapping
// (entity_variant, field_name) -> flags". The text builder (C6) and the
// hasher (C13 step 2) consume this table instead of reflecting over struct
// tags at runtime, so a new source only needs one table entry per field it
// wants to expose.
type FieldFlags struct {
	Embeddable    bool // included in the text builder's concatenated text
	Unhashable    bool // excluded from the content hash (e.g. volatile URLs)
	IsName        bool
	IsCreatedAt   bool
	IsUpdatedAt   bool
	IsEntityID    bool
}

// FieldTable maps entity_type -> field name -> flags. It is filled only
// through RegisterFields; no source package in this module calls it.
var FieldTable = map[string]map[string]FieldFlags{}

// RegisterFields installs the field descriptor table for one entity_type,
// replacing any table already registered for it, mirroring how
// registry.Registry accumulates service descriptors in the teacher's
// registry package.
func RegisterFields(entityType string, fields map[string]FieldFlags) {
	FieldTable[entityType] = fields
}

// Flags looks up the descriptor for one field of one entity_type. Unknown
// fields default to the zero value (not embeddable, hashable, no accessor
// role) so that forward-compatible schema-free properties never panic.
func Flags(entityType, fieldName string) FieldFlags {
	if table, ok := FieldTable[entityType]; ok {
		if f, ok := table[fieldName]; ok {
			return f
		}
	}
	return FieldFlags{}
}

// EmbeddableFields returns field names flagged Embeddable for entityType, in
// the stable order they were registered (map iteration order is avoided by
// keeping a side index).
func EmbeddableFields(entityType string) []string {
	order := fieldOrder[entityType]
	out := make([]string, 0, len(order))
	table := FieldTable[entityType]
	for _, name := range order {
		if table[name].Embeddable {
			out = append(out, name)
		}
	}
	return out
}

var fieldOrder = map[string][]string{}

// RegisterFieldOrder records the stable declaration order for entityType's
// fields; RegisterFields alone does not guarantee order since it takes a map.
func RegisterFieldOrder(entityType string, names []string) {
	fieldOrder[entityType] = names
}
